package model

import (
	"context"
	"time"
)

// -------------------- USER --------------------

type User struct {
	ID           string    `json:"id" db:"id"` // UUID
	Email        string    `json:"email" db:"email"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"-" db:"password_hash"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	IsVerified   bool      `json:"is_verified" db:"is_verified"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// -------------------- EMAIL VERIFICATION --------------------

// EmailVerification is a one-time token for activating an account.
// At most one row per user has Used=false at any instant; issuing a new
// token marks all prior rows used.
type EmailVerification struct {
	Token     string    `json:"token" db:"token"` // uuid4 hex, primary key
	UserID    string    `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	Used      bool      `json:"used" db:"used"`
}

// -------------------- ITEM --------------------

type Item struct {
	ID          string    `json:"id" db:"id"` // UUID
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	OwnerID     string    `json:"owner_id" db:"owner_id"`
	IsAvailable bool      `json:"is_available" db:"is_available"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// -------------------- MESSAGE --------------------

// Message is append-only; rows are never updated after insert.
type Message struct {
	ID          string    `json:"id" db:"id"` // UUID
	SenderID    string    `json:"sender_id" db:"sender_id"`
	RecipientID string    `json:"recipient_id" db:"recipient_id"`
	ItemID      *string   `json:"item_id" db:"item_id"`
	Content     string    `json:"content" db:"content"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// -------------------- REPOSITORY INTERFACES --------------------

type UserRepository interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	MarkUserVerified(ctx context.Context, id string) error
	DeactivateUser(ctx context.Context, id string) error
}

type VerificationRepository interface {
	// InvalidateAndCreate marks every prior token for the user as used and
	// inserts the new one, atomically.
	InvalidateAndCreate(ctx context.Context, ev *EmailVerification) error
	GetByToken(ctx context.Context, token string) (*EmailVerification, error)
	// RedeemAndVerifyUser sets used=true on the token and is_verified=true
	// on its owner in a single transaction. The consuming write is guarded
	// on used and expiry as of now, so concurrent redemptions cannot both
	// succeed.
	RedeemAndVerifyUser(ctx context.Context, token string, now time.Time) (*User, error)
}

type ItemRepository interface {
	CreateItem(ctx context.Context, item *Item) error
	GetItemByID(ctx context.Context, id string) (*Item, error)
	ListItems(ctx context.Context) ([]*Item, error)
	ListItemsByOwner(ctx context.Context, ownerID string) ([]*Item, error)
	UpdateItem(ctx context.Context, item *Item) error
	DeleteItem(ctx context.Context, id string) error
}

type MessageRepository interface {
	CreateMessage(ctx context.Context, msg *Message) error
	ListConversation(ctx context.Context, userA, userB string, limit int) ([]*Message, error)
}

// -------------------- CACHE INTERFACES --------------------

// TokenBlocklist records revoked token ids until their natural expiry.
type TokenBlocklist interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// ResendCounter is the rolling per-user mail resend counter. The window
// starts at the first increment and auto-resets when it elapses.
type ResendCounter interface {
	Increment(ctx context.Context, userID string, window time.Duration) (int, error)
}
