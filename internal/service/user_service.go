package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"swap-service/internal/hashing"
	"swap-service/internal/model"
	"swap-service/internal/repository/postgres"
	"swap-service/internal/token"
	"swap-service/internal/verification"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDeactivated = errors.New("account is deactivated")
)

// TokenPair is what a successful login returns.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type RegisterRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password1 string `json:"password1"`
	Password2 string `json:"password2"`
}

// UserService handles account lifecycle: registration, login, logout,
// token refresh, verification and deactivation.
type UserService struct {
	users    model.UserRepository
	hasher   *hashing.Hasher
	tokens   *token.Service
	verifier *verification.Service
	logger   *zap.Logger
}

func NewUserService(
	users model.UserRepository,
	hasher *hashing.Hasher,
	tokens *token.Service,
	verifier *verification.Service,
	logger *zap.Logger,
) *UserService {
	return &UserService{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		verifier: verifier,
		logger:   logger,
	}
}

// Register creates an inactive-verification account and dispatches the
// verification mail. The account can log in before verifying, matching
// the relaxed signup flow.
func (s *UserService) Register(ctx context.Context, req *RegisterRequest) (*model.User, error) {
	if err := validateRegister(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if _, err := s.users.GetUserByEmail(ctx, req.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, postgres.ErrNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if _, err := s.users.GetUserByUsername(ctx, req.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, postgres.ErrNotFound) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}

	hash, err := s.hasher.HashPassword(req.Password1)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: hash,
		IsActive:     true,
		IsVerified:   false,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		// Lost a race with a concurrent signup; report the column that
		// actually collided.
		switch {
		case errors.Is(err, postgres.ErrUsernameExists):
			return nil, ErrUsernameTaken
		case errors.Is(err, postgres.ErrEmailExists), errors.Is(err, postgres.ErrConflict):
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if ev, err := s.verifier.IssueForUser(ctx, user.ID); err != nil {
		// Account exists; the user can request a resend.
		s.logger.Error("failed to issue verification token after signup",
			zap.String("user_id", user.ID),
			zap.Error(err))
	} else {
		s.verifier.SendVerificationMail(ctx, user.Email, ev.Token)
	}

	s.logger.Info("user registered",
		zap.String("user_id", user.ID),
		zap.String("username", user.Username))
	return user, nil
}

// Login checks credentials and mints an access/refresh token pair.
func (s *UserService) Login(ctx context.Context, email, password string) (*model.User, *TokenPair, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("failed to look up user: %w", err)
	}

	ok, err := s.hasher.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return nil, nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, nil, ErrAccountDeactivated
	}

	access, err := s.tokens.Issue(user.ID, token.Access)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue access token: %w", err)
	}
	refresh, err := s.tokens.Issue(user.ID, token.Refresh)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID))
	return user, &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Logout revokes the presented token for its remaining lifetime. The
// revocation is visible to every service instance immediately.
func (s *UserService) Logout(ctx context.Context, claims *token.Claims) error {
	if err := s.tokens.Revoke(ctx, claims); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	s.logger.Info("user logged out", zap.String("user_id", claims.Subject))
	return nil
}

// RefreshAccess mints a new access token from validated refresh claims.
func (s *UserService) RefreshAccess(ctx context.Context, claims *token.Claims) (string, error) {
	access, err := s.tokens.Issue(claims.Subject, token.Access)
	if err != nil {
		return "", fmt.Errorf("failed to issue access token: %w", err)
	}
	return access, nil
}

func (s *UserService) GetByID(ctx context.Context, id string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Deactivate flips is_active off. There is no self-service way back.
func (s *UserService) Deactivate(ctx context.Context, userID string) error {
	if err := s.users.DeactivateUser(ctx, userID); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	return nil
}

// VerifyEmail redeems a verification token.
func (s *UserService) VerifyEmail(ctx context.Context, tokenStr string) (*model.User, error) {
	return s.verifier.Redeem(ctx, tokenStr)
}

// ResendVerification issues and mails a fresh verification token, subject
// to the hourly resend limit.
func (s *UserService) ResendVerification(ctx context.Context, userID string) error {
	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.verifier.Resend(ctx, user)
	return err
}

func validateRegister(req *RegisterRequest) error {
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return errors.New("a valid email is required")
	}
	if req.Username == "" {
		return errors.New("username is required")
	}
	if len(req.Password1) < 6 || len(req.Password1) > 64 {
		return errors.New("password must be 6-64 characters")
	}
	if req.Password1 != req.Password2 {
		return errors.New("passwords do not match")
	}
	return nil
}
