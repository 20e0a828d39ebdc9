package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"swap-service/internal/model"
	"swap-service/internal/repository/postgres"
)

var (
	ErrMalformed        = errors.New("token is malformed")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token has expired")
	ErrRevoked          = errors.New("token has been revoked")
	ErrWrongTokenKind   = errors.New("wrong token kind")
	ErrAccountDisabled  = errors.New("account is deactivated or not found")
)

// Kind distinguishes short-lived access tokens from long-lived refresh
// tokens. The kind is embedded in the signed claims and checked at
// validation time.
type Kind int

const (
	Access Kind = iota
	Refresh
)

func (k Kind) String() string {
	if k == Refresh {
		return "refresh"
	}
	return "access"
}

// Claims is the signed token payload: subject user id, expiry, a unique
// token id (jti) for revocation, and the refresh flag.
type Claims struct {
	Refresh bool `json:"refresh"`
	jwt.RegisteredClaims
}

// UserStore is the user lookup the validator needs to check account state.
type UserStore interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
}

// Service issues and validates HMAC-signed session tokens.
type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	users      UserStore
	blocklist  model.TokenBlocklist
	logger     *zap.Logger

	// now is replaceable in tests to simulate clock advance.
	now func() time.Time
}

func NewService(
	secret string,
	accessTTL, refreshTTL time.Duration,
	users UserStore,
	blocklist model.TokenBlocklist,
	logger *zap.Logger,
) *Service {
	return &Service{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		users:      users,
		blocklist:  blocklist,
		logger:     logger,
		now:        time.Now,
	}
}

// Issue signs a new token for the user. Every token gets a fresh jti, so
// two tokens issued for the same subject never collide.
func (s *Service) Issue(userID string, kind Kind) (string, error) {
	ttl := s.accessTTL
	if kind == Refresh {
		ttl = s.refreshTTL
	}

	now := s.now()
	claims := &Claims{
		Refresh: kind == Refresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	s.logger.Debug("token issued",
		zap.String("user_id", userID),
		zap.String("kind", kind.String()),
		zap.Duration("ttl", ttl))
	return signed, nil
}

// Validate checks signature, expiry, revocation, account state and token
// kind, in that order of precedence. The revocation lookup and the user
// lookup are independent network calls and run concurrently.
func (s *Service) Validate(ctx context.Context, tokenStr string, expected Kind) (*Claims, error) {
	claims, err := s.decode(tokenStr)
	if err != nil {
		return nil, err
	}

	var (
		revoked bool
		user    *model.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		revoked, err = s.blocklist.IsRevoked(gctx, claims.ID)
		if err != nil {
			return fmt.Errorf("revocation check failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		user, err = s.users.GetUserByID(gctx, claims.Subject)
		if err != nil && !errors.Is(err, postgres.ErrNotFound) {
			return fmt.Errorf("user lookup failed: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if revoked {
		return nil, ErrRevoked
	}
	if user == nil || !user.IsActive {
		return nil, ErrAccountDisabled
	}
	if claims.Refresh != (expected == Refresh) {
		return nil, ErrWrongTokenKind
	}

	return claims, nil
}

// Revoke blocklists the token's jti for its remaining lifetime. Expired
// tokens need no entry; they fail validation on their own.
func (s *Service) Revoke(ctx context.Context, claims *Claims) error {
	remaining := claims.ExpiresAt.Time.Sub(s.now())
	return s.blocklist.Revoke(ctx, claims.ID, remaining)
}

// decode verifies signature and expiry and maps jwt library errors onto
// this package's taxonomy.
func (s *Service) decode(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims,
		func(t *jwt.Token) (interface{}, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformed
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	}
	return claims, nil
}
