package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"studyhub-service/internal/domain/user"
	xerrors "studyhub-service/internal/pkg/errors"
	"studyhub-service/internal/pkg/jwt"
	"studyhub-service/internal/pkg/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeUserStore struct {
	nextID int64
	users  map[int64]*user.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{nextID: 1, users: map[int64]*user.User{}}
}

func (f *fakeUserStore) Create(ctx context.Context, u *user.User) error {
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return xerrors.ErrDuplicateEntry
		}
	}
	u.ID = f.nextID
	f.nextID++
	copied := *u
	f.users[u.ID] = &copied
	return nil
}

func (f *fakeUserStore) FindByID(ctx context.Context, id int64) (*user.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakeUserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := f.FindByEmail(ctx, email)
	if xerrors.Is(err, xerrors.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (f *fakeUserStore) AdminExists(ctx context.Context) (bool, error) {
	for _, u := range f.users {
		if u.IsAdmin {
			return true, nil
		}
	}
	return false, nil
}

type fakeSessionStore struct {
	sessions    map[string]*session.SessionData
	blacklisted map[string]bool
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[string]*session.SessionData{}, blacklisted: map[string]bool{}}
}

func (f *fakeSessionStore) CreateSession(ctx context.Context, s *session.SessionData) error {
	f.sessions[s.JTI] = s
	return nil
}

func (f *fakeSessionStore) GetSession(ctx context.Context, userID int64, jti string) (*session.SessionData, error) {
	s, ok := f.sessions[jti]
	if !ok || s.UserID != userID {
		return nil, xerrors.ErrSessionExpired
	}
	return s, nil
}

func (f *fakeSessionStore) InvalidateSession(ctx context.Context, userID int64, jti string) error {
	delete(f.sessions, jti)
	return nil
}

func (f *fakeSessionStore) InvalidateAllUserSessions(ctx context.Context, userID int64) error {
	for jti, s := range f.sessions {
		if s.UserID == userID {
			delete(f.sessions, jti)
		}
	}
	return nil
}

func (f *fakeSessionStore) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	return f.blacklisted[jti], nil
}

func (f *fakeSessionStore) BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error {
	f.blacklisted[jti] = true
	return nil
}

type fakeLimiter struct {
	blocked bool
	resets  int
}

func (f *fakeLimiter) CheckLoginAttempt(ctx context.Context, ip, email string) (bool, int64, error) {
	if f.blocked {
		return false, 0, nil
	}
	return true, 4, nil
}

func (f *fakeLimiter) ResetLoginAttempts(ctx context.Context, ip, email string) error {
	f.resets++
	return nil
}

func newTestService(t *testing.T) (*AuthService, *fakeUserStore, *fakeSessionStore, *fakeLimiter) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	manager := &jwt.Manager{
		Generator: jwt.NewGenerator(priv, "studyhub", "studyhub-api", "", time.Hour),
		Verifier:  jwt.NewVerifier(&priv.PublicKey, "studyhub", "studyhub-api"),
	}

	users := newFakeUserStore()
	sessions := newFakeSessionStore()
	limiter := &fakeLimiter{}

	return NewAuthService(users, manager, sessions, limiter, zap.NewNop()), users, sessions, limiter
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _, _, limiter := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Register(ctx, &user.RegisterRequest{
		Email:    "student@example.com",
		Password: "correct horse battery",
		FullName: "Study Person",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "student@example.com", resp.User.Email)
	assert.False(t, resp.User.IsPremium)

	login, err := svc.Login(ctx, &user.LoginRequest{
		Email:    "student@example.com",
		Password: "correct horse battery",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, login.AccessToken)
	assert.Equal(t, 1, limiter.resets)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, &user.RegisterRequest{Email: "a@b.com", Password: "password123"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, &user.RegisterRequest{Email: "a@b.com", Password: "password456"})
	assert.ErrorIs(t, err, xerrors.ErrDuplicateEntry)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, &user.RegisterRequest{Email: "a@b.com", Password: "password123"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, &user.LoginRequest{Email: "a@b.com", Password: "wrong"})
	assert.ErrorIs(t, err, xerrors.ErrUnauthorized)

	_, err = svc.Login(ctx, &user.LoginRequest{Email: "nobody@b.com", Password: "password123"})
	assert.ErrorIs(t, err, xerrors.ErrUnauthorized)
}

func TestLoginRateLimited(t *testing.T) {
	svc, _, _, limiter := newTestService(t)
	limiter.blocked = true

	_, err := svc.Login(context.Background(), &user.LoginRequest{Email: "a@b.com", Password: "password123"})
	assert.ErrorIs(t, err, xerrors.ErrRateLimited)
}

func TestValidateTokenAndLogout(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	resp, err := svc.Register(ctx, &user.RegisterRequest{Email: "a@b.com", Password: "password123"})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)

	require.NoError(t, svc.Logout(ctx, claims))

	_, err = svc.ValidateToken(ctx, resp.AccessToken)
	assert.Error(t, err)
}

func TestLogoutAllDropsEverySession(t *testing.T) {
	svc, _, sessions, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Register(ctx, &user.RegisterRequest{Email: "a@b.com", Password: "password123"})
	require.NoError(t, err)

	second, err := svc.Login(ctx, &user.LoginRequest{Email: "a@b.com", Password: "password123"})
	require.NoError(t, err)
	require.Len(t, sessions.sessions, 2)

	claims, err := svc.ValidateToken(ctx, second.AccessToken)
	require.NoError(t, err)

	require.NoError(t, svc.LogoutAll(ctx, claims))
	assert.Empty(t, sessions.sessions)

	_, err = svc.ValidateToken(ctx, first.AccessToken)
	assert.Error(t, err)
	_, err = svc.ValidateToken(ctx, second.AccessToken)
	assert.Error(t, err)
}

func TestEnsureAdminExists(t *testing.T) {
	svc, users, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureAdminExists(ctx, "admin@example.com", "admin-secret", "Admin"))

	admin, err := users.FindByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)

	// Second run is a no-op.
	require.NoError(t, svc.EnsureAdminExists(ctx, "other@example.com", "whatever", ""))
	_, err = users.FindByEmail(ctx, "other@example.com")
	assert.ErrorIs(t, err, xerrors.ErrNotFound)
}

func TestEnsureAdminExistsRequiresCredentials(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	err := svc.EnsureAdminExists(context.Background(), "", "", "")
	assert.Error(t, err)
}
