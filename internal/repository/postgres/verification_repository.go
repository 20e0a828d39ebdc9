package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"swap-service/internal/client"
	"swap-service/internal/model"
	"swap-service/internal/util"
)

// VerificationRepository persists email verification tokens. Both write
// paths run inside transactions because the workflow's invariants span
// rows: at most one unused token per user, and a redeemed token implies a
// verified user.
type VerificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewVerificationRepository(pg *client.PostgresClient, logger *zap.Logger) *VerificationRepository {
	return &VerificationRepository{db: pg.DB, logger: logger}
}

// InvalidateAndCreate marks every prior token for the user as used and
// inserts the new one in a single transaction, so no moment exists where
// two unused tokens are visible.
func (r *VerificationRepository) InvalidateAndCreate(ctx context.Context, ev *model.EmailVerification) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE email_verifications SET used = TRUE WHERE user_id = $1 AND used = FALSE`,
		ev.UserID,
	); err != nil {
		return fmt.Errorf("failed to invalidate prior tokens: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO email_verifications (token, user_id, expires_at)
		 VALUES ($1, $2, $3)
		 RETURNING created_at`,
		ev.Token, ev.UserID, ev.ExpiresAt,
	).Scan(&ev.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to insert verification token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit verification token: %w", err)
	}

	util.Debug("Verification token issued",
		zap.String("user_id", ev.UserID))
	return nil
}

func (r *VerificationRepository) GetByToken(ctx context.Context, token string) (*model.EmailVerification, error) {
	var ev model.EmailVerification
	err := r.db.QueryRowContext(ctx,
		`SELECT token, user_id, created_at, expires_at, used
		 FROM email_verifications WHERE token = $1`,
		token,
	).Scan(&ev.Token, &ev.UserID, &ev.CreatedAt, &ev.ExpiresAt, &ev.Used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get verification token: %w", err)
	}
	return &ev, nil
}

// RedeemAndVerifyUser consumes the token and marks its owner verified in
// one transaction. The consuming UPDATE is guarded on used and expiry so
// that of two concurrent redemptions exactly one wins; a token consumed
// without the user flipping to verified must never be observable, so both
// updates commit or neither does.
func (r *VerificationRepository) RedeemAndVerifyUser(ctx context.Context, token string, now time.Time) (*model.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var userID string
	err = tx.QueryRowContext(ctx,
		`UPDATE email_verifications SET used = TRUE
		 WHERE token = $1 AND used = FALSE AND expires_at > $2
		 RETURNING user_id`,
		token, now,
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.classifyRedeemFailure(ctx, tx, token, now)
		}
		return nil, fmt.Errorf("failed to consume verification token: %w", err)
	}

	var user model.User
	err = tx.QueryRowContext(ctx,
		`UPDATE users SET is_verified = TRUE, updated_at = now()
		 WHERE id = $1
		 RETURNING `+userColumns,
		userID,
	).Scan(
		&user.ID, &user.Email, &user.Username, &user.PasswordHash,
		&user.IsActive, &user.IsVerified, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to verify user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit redemption: %w", err)
	}

	util.Info("Verification token redeemed",
		zap.String("user_id", userID))
	return &user, nil
}

// classifyRedeemFailure re-reads the token inside the same transaction to
// report why the guarded UPDATE matched nothing.
func (r *VerificationRepository) classifyRedeemFailure(ctx context.Context, tx *sql.Tx, token string, now time.Time) error {
	var used bool
	var expiresAt time.Time
	err := tx.QueryRowContext(ctx,
		`SELECT used, expires_at FROM email_verifications WHERE token = $1`,
		token,
	).Scan(&used, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to inspect verification token: %w", err)
	}
	if used {
		return ErrTokenUsed
	}
	if !expiresAt.After(now) {
		return ErrTokenExpired
	}
	return ErrNotFound
}
