package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"swap-service/internal/chat"
	"swap-service/internal/model"
	"swap-service/internal/token"
)

const (
	defaultConversationLimit = 50
	maxConversationLimit     = 200
)

// ChatHandler upgrades direct-message connections and serves
// conversation history.
type ChatHandler struct {
	tokens   *token.Service
	registry *chat.Registry
	bridge   *chat.Bridge
	messages model.MessageRepository
	logger   *zap.Logger

	upgrader websocket.Upgrader
}

func NewChatHandler(
	tokens *token.Service,
	registry *chat.Registry,
	bridge *chat.Bridge,
	messages model.MessageRepository,
	logger *zap.Logger,
) *ChatHandler {
	return &ChatHandler{
		tokens:   tokens,
		registry: registry,
		bridge:   bridge,
		messages: messages,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Cross-origin policy is enforced by the CORS layer in front.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *ChatHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/ws", h.Connect)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(h.tokens, token.Access))
		r.Get("/conversations/{userID}", h.Conversation)
	})
	return r
}

// wsCredential pulls the token from the query string, falling back to the
// Authorization header. Browser WebSocket clients cannot set headers, so
// the query parameter is the primary channel.
func wsCredential(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	return bearerToken(r)
}

// Connect authenticates the caller, upgrades to WebSocket and runs the
// session until disconnect. Authentication happens before the upgrade so
// rejected clients get a plain HTTP status.
func (h *ChatHandler) Connect(w http.ResponseWriter, r *http.Request) {
	credential := wsCredential(r)
	if credential == "" {
		writeError(w, http.StatusUnauthorized, "missing token")
		return
	}

	claims, err := h.tokens.Validate(r.Context(), credential, token.Access)
	if err != nil {
		status, msg := authErrorStatus(err)
		writeError(w, status, msg)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	session := chat.NewSession(claims.Subject, ws, h.registry, h.bridge, h.messages, h.logger)
	session.Run(r.Context())
}

// Conversation returns the latest messages between the caller and the
// given user, oldest first.
func (h *ChatHandler) Conversation(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return
	}

	otherID := chi.URLParam(r, "userID")
	limit := defaultConversationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxConversationLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	messages, err := h.messages.ListConversation(r.Context(), claims.Subject, otherID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}
