package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"swap-service/internal/config"
	"swap-service/internal/hashing"
	"swap-service/internal/mail"
	"swap-service/internal/model"
	"swap-service/internal/repository/postgres"
	"swap-service/internal/token"
	"swap-service/internal/verification"
)

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*model.User)}
}

func (r *memUserRepo) CreateUser(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == user.Email {
			return postgres.ErrEmailExists
		}
		if u.Username == user.Username {
			return postgres.ErrUsernameExists
		}
	}
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

func (r *memUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *memUserRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, postgres.ErrNotFound
}

func (r *memUserRepo) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, postgres.ErrNotFound
}

func (r *memUserRepo) MarkUserVerified(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return postgres.ErrNotFound
	}
	u.IsVerified = true
	return nil
}

func (r *memUserRepo) DeactivateUser(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return postgres.ErrNotFound
	}
	u.IsActive = false
	return nil
}

type memVerificationRepo struct {
	mu     sync.Mutex
	tokens map[string]*model.EmailVerification
	users  *memUserRepo
}

func (r *memVerificationRepo) InvalidateAndCreate(_ context.Context, ev *model.EmailVerification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, prior := range r.tokens {
		if prior.UserID == ev.UserID {
			prior.Used = true
		}
	}
	copied := *ev
	r.tokens[ev.Token] = &copied
	return nil
}

func (r *memVerificationRepo) GetByToken(_ context.Context, tokenStr string) (*model.EmailVerification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.tokens[tokenStr]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	copied := *ev
	return &copied, nil
}

func (r *memVerificationRepo) RedeemAndVerifyUser(ctx context.Context, tokenStr string, now time.Time) (*model.User, error) {
	r.mu.Lock()
	ev, ok := r.tokens[tokenStr]
	if !ok {
		r.mu.Unlock()
		return nil, postgres.ErrNotFound
	}
	if ev.Used {
		r.mu.Unlock()
		return nil, postgres.ErrTokenUsed
	}
	if !ev.ExpiresAt.After(now) {
		r.mu.Unlock()
		return nil, postgres.ErrTokenExpired
	}
	ev.Used = true
	userID := ev.UserID
	r.mu.Unlock()

	if err := r.users.MarkUserVerified(ctx, userID); err != nil {
		return nil, err
	}
	return r.users.GetUserByID(ctx, userID)
}

type memBlocklist struct {
	mu      sync.Mutex
	revoked map[string]struct{}
}

func (b *memBlocklist) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ttl > 0 {
		b.revoked[jti] = struct{}{}
	}
	return nil
}

func (b *memBlocklist) IsRevoked(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.revoked[jti]
	return ok, nil
}

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *memCounter) Increment(_ context.Context, userID string, _ time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[userID]++
	return c.counts[userID], nil
}

type memDispatcher struct {
	mu   sync.Mutex
	jobs []mail.Job
}

func (d *memDispatcher) Dispatch(_ context.Context, job mail.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *memDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

func newTestUserService(t *testing.T) (*UserService, *memUserRepo, *memDispatcher) {
	t.Helper()
	logger := zap.NewNop()

	users := newMemUserRepo()
	hasher := hashing.NewHasher(hashing.Params{
		Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	blocklist := &memBlocklist{revoked: make(map[string]struct{})}
	tokens := token.NewService("test-secret", 30*time.Minute, 168*time.Hour, users, blocklist, logger)

	dispatcher := &memDispatcher{}
	cfg := &config.Config{
		Verification: config.VerificationConfig{
			TokenExpireHours:   24,
			ResendLimitPerHour: 3,
			FrontendURL:        "https://swap.example.com",
		},
	}
	verifier := verification.NewService(
		&memVerificationRepo{tokens: make(map[string]*model.EmailVerification), users: users},
		users,
		&memCounter{counts: make(map[string]int)},
		dispatcher,
		cfg,
		logger,
	)

	return NewUserService(users, hasher, tokens, verifier, logger), users, dispatcher
}

func registerReq(email, username, password string) *RegisterRequest {
	return &RegisterRequest{
		Email:     email,
		Username:  username,
		Password1: password,
		Password2: password,
	}
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _, dispatcher := newTestUserService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, registerReq("alice@example.com", "alice", "hunter22"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.IsVerified {
		t.Error("fresh account must start unverified")
	}
	if !user.IsActive {
		t.Error("fresh account must start active")
	}
	if dispatcher.count() != 1 {
		t.Errorf("verification mails dispatched = %d, want 1", dispatcher.count())
	}

	loggedIn, pair, err := svc.Login(ctx, "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if loggedIn.ID != user.ID {
		t.Errorf("login returned user %q, want %q", loggedIn.ID, user.ID)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Error("login must return both tokens")
	}
	if pair.AccessToken == pair.RefreshToken {
		t.Error("access and refresh tokens must differ")
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestUserService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  *RegisterRequest
	}{
		{"missing email", registerReq("", "alice", "hunter22")},
		{"email without at", registerReq("not-an-email", "alice", "hunter22")},
		{"missing username", registerReq("a@example.com", "", "hunter22")},
		{"short password", registerReq("a@example.com", "alice", "abc")},
		{"mismatched passwords", &RegisterRequest{
			Email: "a@example.com", Username: "alice",
			Password1: "hunter22", Password2: "hunter23",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tt.req); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Register = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestRegisterDuplicate(t *testing.T) {
	svc, _, _ := newTestUserService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, registerReq("alice@example.com", "alice", "hunter22")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := svc.Register(ctx, registerReq("alice@example.com", "alice2", "hunter22")); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("duplicate email = %v, want ErrEmailTaken", err)
	}
	if _, err := svc.Register(ctx, registerReq("alice2@example.com", "alice", "hunter22")); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("duplicate username = %v, want ErrUsernameTaken", err)
	}
}

// racingUserRepo models the window where the pre-insert lookups miss a
// row that a concurrent signup commits before our insert lands.
type racingUserRepo struct {
	*memUserRepo
	createErr error
}

func (r *racingUserRepo) GetUserByEmail(context.Context, string) (*model.User, error) {
	return nil, postgres.ErrNotFound
}

func (r *racingUserRepo) GetUserByUsername(context.Context, string) (*model.User, error) {
	return nil, postgres.ErrNotFound
}

func (r *racingUserRepo) CreateUser(context.Context, *model.User) error {
	return r.createErr
}

func TestRegisterRaceReportsActualConflict(t *testing.T) {
	tests := []struct {
		name      string
		createErr error
		want      error
	}{
		{"username collision", postgres.ErrUsernameExists, ErrUsernameTaken},
		{"email collision", postgres.ErrEmailExists, ErrEmailTaken},
		{"unattributed collision", postgres.ErrConflict, ErrEmailTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, users, _ := newTestUserService(t)
			svc.users = &racingUserRepo{memUserRepo: users, createErr: tt.createErr}

			_, err := svc.Register(context.Background(), registerReq("bob@example.com", "bob", "hunter22"))
			if !errors.Is(err, tt.want) {
				t.Errorf("Register = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoginFailures(t *testing.T) {
	svc, _, _ := newTestUserService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, registerReq("alice@example.com", "alice", "hunter22"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, _, err := svc.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email = %v, want ErrInvalidCredentials", err)
	}

	if err := svc.Deactivate(ctx, user.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, _, err := svc.Login(ctx, "alice@example.com", "hunter22"); !errors.Is(err, ErrAccountDeactivated) {
		t.Errorf("deactivated account = %v, want ErrAccountDeactivated", err)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	svc, _, _ := newTestUserService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, registerReq("alice@example.com", "alice", "hunter22")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, pair, err := svc.Login(ctx, "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	claims, err := svc.tokens.Validate(ctx, pair.AccessToken, token.Access)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := svc.Logout(ctx, claims); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := svc.tokens.Validate(ctx, pair.AccessToken, token.Access); !errors.Is(err, token.ErrRevoked) {
		t.Errorf("token after logout = %v, want ErrRevoked", err)
	}
	// The refresh token has its own jti and stays valid.
	if _, err := svc.tokens.Validate(ctx, pair.RefreshToken, token.Refresh); err != nil {
		t.Errorf("refresh token after logout = %v, want nil", err)
	}
}

func TestRefreshAccess(t *testing.T) {
	svc, _, _ := newTestUserService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, registerReq("alice@example.com", "alice", "hunter22")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, pair, err := svc.Login(ctx, "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	claims, err := svc.tokens.Validate(ctx, pair.RefreshToken, token.Refresh)
	if err != nil {
		t.Fatalf("Validate refresh: %v", err)
	}
	access, err := svc.RefreshAccess(ctx, claims)
	if err != nil {
		t.Fatalf("RefreshAccess: %v", err)
	}
	if _, err := svc.tokens.Validate(ctx, access, token.Access); err != nil {
		t.Errorf("minted access token = %v, want valid", err)
	}
}

func TestVerifyEmailFlow(t *testing.T) {
	svc, users, _ := newTestUserService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, registerReq("alice@example.com", "alice", "hunter22"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Grab the token straight from the verifier the way the mail link would.
	ev, err := svc.verifier.IssueForUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("IssueForUser: %v", err)
	}

	verified, err := svc.VerifyEmail(ctx, ev.Token)
	if err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if !verified.IsVerified {
		t.Error("VerifyEmail returned unverified user")
	}

	stored, err := users.GetUserByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if !stored.IsVerified {
		t.Error("verification flag not persisted")
	}
}
