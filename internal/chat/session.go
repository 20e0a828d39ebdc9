package chat

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"swap-service/internal/model"
)

const (
	// pongTimeout bounds how long an idle connection may go without
	// answering a ping before the read loop gives up on it.
	pongTimeout  = 60 * time.Second
	pingInterval = 25 * time.Second

	maxFrameSize = 16 * 1024
)

// InboundFrame is the client-to-server message shape.
type InboundFrame struct {
	RecipientID string  `json:"recipient_id"`
	Content     string  `json:"content"`
	ItemID      *string `json:"item_id"`
}

// errorFrame is sent back for frames that cannot be processed; the
// connection stays open.
type errorFrame struct {
	Error string `json:"error"`
}

var (
	errNoRecipient  = errors.New("recipient_id is required")
	errEmptyContent = errors.New("content must not be empty")
)

// validateInbound checks a parsed frame. Malformed frames are a
// per-message error, never a connection-fatal one.
func validateInbound(frame *InboundFrame) error {
	if frame.RecipientID == "" {
		return errNoRecipient
	}
	if frame.Content == "" {
		return errEmptyContent
	}
	return nil
}

// Session is the per-connection state machine. The constructor leaves it
// Connecting; the caller authenticates first (a session is only built for
// a validated user), Run moves it through Open and finally Closed.
type Session struct {
	userID   string
	ws       *websocket.Conn
	conn     *WSConn
	registry *Registry
	bridge   *Bridge
	messages model.MessageRepository
	logger   *zap.Logger
}

func NewSession(
	userID string,
	ws *websocket.Conn,
	registry *Registry,
	bridge *Bridge,
	messages model.MessageRepository,
	logger *zap.Logger,
) *Session {
	return &Session{
		userID:   userID,
		ws:       ws,
		conn:     NewWSConn(ws),
		registry: registry,
		bridge:   bridge,
		messages: messages,
		logger:   logger.With(zap.String("user_id", userID)),
	}
}

// Run registers the connection, consumes inbound frames until the client
// disconnects or an unrecoverable I/O error occurs, then unregisters.
func (s *Session) Run(ctx context.Context) {
	s.registry.Register(s.userID, s.conn)
	s.logger.Info("chat session opened")

	defer func() {
		s.registry.Unregister(s.userID, s.conn)
		_ = s.conn.Close()
		s.logger.Info("chat session closed")
	}()

	s.ws.SetReadLimit(maxFrameSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go s.pingLoop(pingCtx)

	for {
		_, payload, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("chat connection error", zap.Error(err))
			}
			return
		}
		s.handleFrame(ctx, payload)
	}
}

// handleFrame persists one inbound message and publishes it through the
// bridge. Every failure path answers with an error frame and keeps the
// connection open.
func (s *Session) handleFrame(ctx context.Context, payload []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		s.logger.Debug("malformed chat frame", zap.Error(err))
		s.reply("malformed frame")
		return
	}
	if err := validateInbound(&frame); err != nil {
		s.reply(err.Error())
		return
	}

	msg := &model.Message{
		ID:          uuid.NewString(),
		SenderID:    s.userID,
		RecipientID: frame.RecipientID,
		ItemID:      frame.ItemID,
		Content:     frame.Content,
	}

	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		s.logger.Error("failed to persist chat message", zap.Error(err))
		s.reply("message could not be saved")
		return
	}

	if err := s.bridge.Publish(ctx, msg); err != nil {
		// Persisted but not fanned out; the recipient will see it on the
		// next conversation load.
		s.logger.Error("failed to publish chat message",
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}
}

func (s *Session) reply(msg string) {
	payload, err := json.Marshal(errorFrame{Error: msg})
	if err != nil {
		return
	}
	if err := s.conn.Send(payload); err != nil {
		s.logger.Debug("failed to send error frame", zap.Error(err))
	}
}

func (s *Session) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.conn.Ping(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
