package verification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"swap-service/internal/config"
	"swap-service/internal/mail"
	"swap-service/internal/model"
	"swap-service/internal/repository/postgres"
)

type fakeVerificationRepo struct {
	mu     sync.Mutex
	tokens map[string]*model.EmailVerification
	users  *fakeUserRepo
}

func newFakeVerificationRepo(users *fakeUserRepo) *fakeVerificationRepo {
	return &fakeVerificationRepo{
		tokens: make(map[string]*model.EmailVerification),
		users:  users,
	}
}

func (r *fakeVerificationRepo) InvalidateAndCreate(_ context.Context, ev *model.EmailVerification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tokens[ev.Token]; exists {
		return postgres.ErrConflict
	}
	for _, prior := range r.tokens {
		if prior.UserID == ev.UserID {
			prior.Used = true
		}
	}
	ev.CreatedAt = time.Now().UTC()
	copied := *ev
	r.tokens[ev.Token] = &copied
	return nil
}

func (r *fakeVerificationRepo) GetByToken(_ context.Context, token string) (*model.EmailVerification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.tokens[token]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	copied := *ev
	return &copied, nil
}

func (r *fakeVerificationRepo) RedeemAndVerifyUser(_ context.Context, token string, now time.Time) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.tokens[token]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	if ev.Used {
		return nil, postgres.ErrTokenUsed
	}
	if !ev.ExpiresAt.After(now) {
		return nil, postgres.ErrTokenExpired
	}
	ev.Used = true
	return r.users.markVerified(ev.UserID)
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newFakeUserRepo(users ...*model.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[string]*model.User)}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) markVerified(id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	u.IsVerified = true
	copied := *u
	return &copied, nil
}

func (r *fakeUserRepo) CreateUser(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (r *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
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

func (r *fakeUserRepo) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
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

func (r *fakeUserRepo) MarkUserVerified(_ context.Context, id string) error {
	_, err := r.markVerified(id)
	return err
}

func (r *fakeUserRepo) DeactivateUser(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return postgres.ErrNotFound
	}
	u.IsActive = false
	return nil
}

// fakeCounter mimics the redis counter: the window starts on the first
// increment and the count resets once it elapses.
type fakeCounter struct {
	mu       sync.Mutex
	counts   map[string]int
	windowAt map[string]time.Time
	now      func() time.Time
}

func newFakeCounter(now func() time.Time) *fakeCounter {
	return &fakeCounter{
		counts:   make(map[string]int),
		windowAt: make(map[string]time.Time),
		now:      now,
	}
}

func (c *fakeCounter) Increment(_ context.Context, userID string, window time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if expiry, ok := c.windowAt[userID]; ok && c.now().After(expiry) {
		delete(c.counts, userID)
		delete(c.windowAt, userID)
	}
	c.counts[userID]++
	if c.counts[userID] == 1 {
		c.windowAt[userID] = c.now().Add(window)
	}
	return c.counts[userID], nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []mail.Job
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job mail.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *recordingDispatcher) sent() []mail.Job {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]mail.Job(nil), d.jobs...)
}

type fixture struct {
	svc        *Service
	repo       *fakeVerificationRepo
	users      *fakeUserRepo
	counter    *fakeCounter
	dispatcher *recordingDispatcher
	clock      *time.Time
}

func newFixture(t *testing.T, users ...*model.User) *fixture {
	t.Helper()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := &now

	userRepo := newFakeUserRepo(users...)
	repo := newFakeVerificationRepo(userRepo)
	counter := newFakeCounter(func() time.Time { return *clock })
	dispatcher := &recordingDispatcher{}

	cfg := &config.Config{
		Verification: config.VerificationConfig{
			TokenExpireHours:   24,
			ResendLimitPerHour: 3,
			FrontendURL:        "https://swap.example.com",
		},
	}

	svc := NewService(repo, userRepo, counter, dispatcher, cfg, zap.NewNop())
	svc.now = func() time.Time { return *clock }

	return &fixture{
		svc:        svc,
		repo:       repo,
		users:      userRepo,
		counter:    counter,
		dispatcher: dispatcher,
		clock:      clock,
	}
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func testUser(id string) *model.User {
	return &model.User{ID: id, Email: id + "@example.com", Username: id, IsActive: true}
}

func TestIssueAndRedeem(t *testing.T) {
	f := newFixture(t, testUser("u1"))

	ev, err := f.svc.IssueForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueForUser: %v", err)
	}
	if len(ev.Token) != 32 || strings.Contains(ev.Token, "-") {
		t.Errorf("token %q is not 32-char hex", ev.Token)
	}

	user, err := f.svc.Redeem(context.Background(), ev.Token)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if !user.IsVerified {
		t.Error("redeemed user not marked verified")
	}

	if _, err := f.svc.Redeem(context.Background(), ev.Token); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("second Redeem = %v, want ErrAlreadyUsed", err)
	}
}

func TestRedeemUnknownToken(t *testing.T) {
	f := newFixture(t, testUser("u1"))
	if _, err := f.svc.Redeem(context.Background(), "no-such-token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Redeem = %v, want ErrNotFound", err)
	}
}

func TestRedeemExpiredToken(t *testing.T) {
	f := newFixture(t, testUser("u1"))

	ev, err := f.svc.IssueForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueForUser: %v", err)
	}

	f.advance(25 * time.Hour)
	if _, err := f.svc.Redeem(context.Background(), ev.Token); !errors.Is(err, ErrExpired) {
		t.Fatalf("Redeem after expiry = %v, want ErrExpired", err)
	}

	user, err := f.users.GetUserByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if user.IsVerified {
		t.Error("expired redemption must not verify the user")
	}
}

// staleReadRepo serves GetByToken from a fixed snapshot, modeling a
// reader whose lookup raced a concurrent redemption or expiry.
type staleReadRepo struct {
	*fakeVerificationRepo
	snapshot model.EmailVerification
}

func (r *staleReadRepo) GetByToken(_ context.Context, token string) (*model.EmailVerification, error) {
	if token != r.snapshot.Token {
		return nil, postgres.ErrNotFound
	}
	copied := r.snapshot
	return &copied, nil
}

func TestRedeemConcurrentWithStaleRead(t *testing.T) {
	f := newFixture(t, testUser("u1"))

	ev, err := f.svc.IssueForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueForUser: %v", err)
	}
	snap, err := f.repo.GetByToken(context.Background(), ev.Token)
	if err != nil {
		t.Fatalf("GetByToken: %v", err)
	}

	// Every lookup now sees the token as live, as a request racing another
	// redemption would. The guarded write must still admit only one winner.
	f.svc.verifications = &staleReadRepo{fakeVerificationRepo: f.repo, snapshot: *snap}

	if _, err := f.svc.Redeem(context.Background(), ev.Token); err != nil {
		t.Fatalf("first Redeem: %v", err)
	}
	if _, err := f.svc.Redeem(context.Background(), ev.Token); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("racing Redeem = %v, want ErrAlreadyUsed", err)
	}
}

func TestRedeemExpiryEnforcedByWrite(t *testing.T) {
	f := newFixture(t, testUser("u1"))

	ev, err := f.svc.IssueForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("IssueForUser: %v", err)
	}
	snap, err := f.repo.GetByToken(context.Background(), ev.Token)
	if err != nil {
		t.Fatalf("GetByToken: %v", err)
	}

	// The stale lookup reports an expiry still in the future, so only the
	// guarded write can catch that the stored token has lapsed.
	f.advance(25 * time.Hour)
	snap.ExpiresAt = f.clock.Add(time.Hour)
	f.svc.verifications = &staleReadRepo{fakeVerificationRepo: f.repo, snapshot: *snap}

	if _, err := f.svc.Redeem(context.Background(), ev.Token); !errors.Is(err, ErrExpired) {
		t.Fatalf("Redeem past expiry with stale read = %v, want ErrExpired", err)
	}

	user, err := f.users.GetUserByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetUserByID: %v", err)
	}
	if user.IsVerified {
		t.Error("expired redemption must not verify the user")
	}
}

func TestIssueInvalidatesPriorToken(t *testing.T) {
	f := newFixture(t, testUser("u1"))

	first, err := f.svc.IssueForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("first IssueForUser: %v", err)
	}
	second, err := f.svc.IssueForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("second IssueForUser: %v", err)
	}

	if _, err := f.svc.Redeem(context.Background(), first.Token); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("stale token Redeem = %v, want ErrAlreadyUsed", err)
	}
	if _, err := f.svc.Redeem(context.Background(), second.Token); err != nil {
		t.Fatalf("fresh token Redeem = %v, want nil", err)
	}
}

func TestResendRateLimit(t *testing.T) {
	f := newFixture(t, testUser("u1"))
	user := testUser("u1")

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Resend(context.Background(), user); err != nil {
			t.Fatalf("Resend %d: %v", i+1, err)
		}
	}

	if _, err := f.svc.Resend(context.Background(), user); !errors.Is(err, ErrResendLimitReached) {
		t.Fatalf("fourth Resend = %v, want ErrResendLimitReached", err)
	}

	// A blocked attempt still counts toward the window, but after the hour
	// elapses the counter resets.
	f.advance(61 * time.Minute)
	if _, err := f.svc.Resend(context.Background(), user); err != nil {
		t.Fatalf("Resend after window = %v, want nil", err)
	}
}

func TestResendDispatchesMail(t *testing.T) {
	f := newFixture(t, testUser("u1"))
	user := testUser("u1")

	ev, err := f.svc.Resend(context.Background(), user)
	if err != nil {
		t.Fatalf("Resend: %v", err)
	}

	jobs := f.dispatcher.sent()
	if len(jobs) != 1 {
		t.Fatalf("dispatched %d jobs, want 1", len(jobs))
	}
	job := jobs[0]
	if len(job.Recipients) != 1 || job.Recipients[0] != "u1@example.com" {
		t.Errorf("recipients = %v", job.Recipients)
	}
	wantLink := "https://swap.example.com/auth/verify-email?token=" + ev.Token
	if !strings.Contains(job.HTMLBody, wantLink) {
		t.Errorf("mail body %q missing link %q", job.HTMLBody, wantLink)
	}
}

func TestResendLimitNotSharedBetweenUsers(t *testing.T) {
	f := newFixture(t, testUser("u1"), testUser("u2"))

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Resend(context.Background(), testUser("u1")); err != nil {
			t.Fatalf("u1 Resend %d: %v", i+1, err)
		}
	}
	if _, err := f.svc.Resend(context.Background(), testUser("u2")); err != nil {
		t.Fatalf("u2 Resend = %v, want nil", err)
	}
}
