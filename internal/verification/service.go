package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"swap-service/internal/config"
	"swap-service/internal/mail"
	"swap-service/internal/model"
	"swap-service/internal/repository/postgres"
)

var (
	ErrNotFound           = errors.New("verification token not found")
	ErrAlreadyUsed        = errors.New("verification token already used")
	ErrExpired            = errors.New("verification token expired")
	ErrResendLimitReached = errors.New("resend limit exceeded")
)

// resendWindow is the rolling window for the per-user resend counter.
const resendWindow = time.Hour

// createRetries bounds retries on the (vanishingly unlikely) uuid4-hex
// collision, which surfaces as a unique violation.
const createRetries = 3

// Service drives the email verification workflow: issuing one-time
// tokens, redeeming them, and rate-limiting resends.
type Service struct {
	verifications model.VerificationRepository
	users         model.UserRepository
	counter       model.ResendCounter
	dispatcher    mail.Dispatcher
	cfg           config.VerificationConfig
	logger        *zap.Logger

	now func() time.Time
}

func NewService(
	verifications model.VerificationRepository,
	users model.UserRepository,
	counter model.ResendCounter,
	dispatcher mail.Dispatcher,
	cfg *config.Config,
	logger *zap.Logger,
) *Service {
	return &Service{
		verifications: verifications,
		users:         users,
		counter:       counter,
		dispatcher:    dispatcher,
		cfg:           cfg.Verification,
		logger:        logger,
		now:           time.Now,
	}
}

// IssueForUser invalidates every prior token for the user and persists a
// fresh one. The swap is atomic in the repository, so at no instant do two
// unused tokens exist for one user.
func (s *Service) IssueForUser(ctx context.Context, userID string) (*model.EmailVerification, error) {
	expiresAt := s.now().UTC().Add(time.Duration(s.cfg.TokenExpireHours) * time.Hour)

	var lastErr error
	for attempt := 0; attempt < createRetries; attempt++ {
		ev := &model.EmailVerification{
			Token:     generateToken(),
			UserID:    userID,
			ExpiresAt: expiresAt,
		}
		err := s.verifications.InvalidateAndCreate(ctx, ev)
		if err == nil {
			return ev, nil
		}
		if !errors.Is(err, postgres.ErrConflict) {
			return nil, fmt.Errorf("failed to issue verification token: %w", err)
		}
		lastErr = err
		s.logger.Warn("verification token collision, retrying",
			zap.String("user_id", userID))
	}
	return nil, fmt.Errorf("failed to issue verification token after retries: %w", lastErr)
}

// Redeem consumes a token and marks its owner verified. The token flip and
// the user flip commit together; a half-applied redemption is never
// observable. The repository's guarded write is authoritative, so a token
// racing another redemption is rejected even when both read it as unused.
func (s *Service) Redeem(ctx context.Context, token string) (*model.User, error) {
	now := s.now().UTC()

	// Fast path: reject obviously dead tokens without opening a transaction.
	// This read is advisory only; the guarded write below decides.
	ev, err := s.verifications.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up verification token: %w", err)
	}
	if ev.Used {
		return nil, ErrAlreadyUsed
	}
	if ev.ExpiresAt.Before(now) {
		return nil, ErrExpired
	}

	user, err := s.verifications.RedeemAndVerifyUser(ctx, token, now)
	if err != nil {
		switch {
		case errors.Is(err, postgres.ErrNotFound):
			return nil, ErrNotFound
		case errors.Is(err, postgres.ErrTokenUsed):
			return nil, ErrAlreadyUsed
		case errors.Is(err, postgres.ErrTokenExpired):
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("failed to redeem verification token: %w", err)
	}

	s.logger.Info("account verified", zap.String("user_id", user.ID))
	return user, nil
}

// Resend issues a new token for the user, subject to the hourly limit, and
// dispatches the verification mail. Mail delivery is asynchronous; a
// dispatch failure is logged and does not fail the resend.
func (s *Service) Resend(ctx context.Context, user *model.User) (*model.EmailVerification, error) {
	count, err := s.counter.Increment(ctx, user.ID, resendWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to check resend limit: %w", err)
	}
	if count > s.cfg.ResendLimitPerHour {
		s.logger.Warn("verification resend limit hit",
			zap.String("user_id", user.ID),
			zap.Int("count", count))
		return nil, ErrResendLimitReached
	}

	ev, err := s.IssueForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	s.SendVerificationMail(ctx, user.Email, ev.Token)
	return ev, nil
}

// SendVerificationMail enqueues the verification mail carrying the signup
// confirmation link. Fire-and-forget.
func (s *Service) SendVerificationMail(ctx context.Context, email, token string) {
	link := fmt.Sprintf("%s/auth/verify-email?token=%s",
		strings.TrimRight(s.cfg.FrontendURL, "/"), token)

	job := mail.Job{
		Recipients: []string{email},
		Subject:    "Verify your email",
		HTMLBody:   fmt.Sprintf("<p>Click to verify: <a href='%s'>%s</a></p>", link, link),
	}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		s.logger.Error("failed to dispatch verification mail",
			zap.String("email", email),
			zap.Error(err))
	}
}

// generateToken returns a 32-char URL-safe hex token (uuid4 without dashes).
func generateToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
