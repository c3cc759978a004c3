package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observer/notifyhub/internal/domain"
)

const testSigningKey = "test-signing-key-that-is-long-enough-0123"

type memoryUsers struct {
	mu     sync.Mutex
	byID   map[uuid.UUID]*domain.User
	hashes map[uuid.UUID]string
	err    error
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{byID: make(map[uuid.UUID]*domain.User), hashes: make(map[uuid.UUID]string)}
}

func (m *memoryUsers) Create(ctx context.Context, user *domain.User, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user.ID = uuid.New()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	copied := *user
	m.byID[user.ID] = &copied
	m.hashes[user.ID] = passwordHash
	return nil
}

func (m *memoryUsers) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *memoryUsers) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return u, nil
}

func (m *memoryUsers) GetPasswordHash(ctx context.Context, userID uuid.UUID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hashes[userID], nil
}

func (m *memoryUsers) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := m.GetByEmail(ctx, email)
	return err == nil, nil
}

func (m *memoryUsers) delete(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(t *testing.T) (*Service, *memoryUsers) {
	t.Helper()
	tokens, err := NewTokenService(testSigningKey, time.Hour)
	require.NoError(t, err)
	users := newMemoryUsers()
	return NewService(users, tokens), users
}

func TestNewTokenService_RejectsShortKey(t *testing.T) {
	_, err := NewTokenService("short", time.Hour)
	assert.Error(t, err)
}

func TestTokenService_RoundTrip(t *testing.T) {
	tokens, err := NewTokenService(testSigningKey, time.Hour)
	require.NoError(t, err)
	user := &domain.User{ID: uuid.New(), Email: "a@example.com", Name: "Alice"}

	signed, expiresAt, err := tokens.GenerateAccessToken(user)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := tokens.ValidateAccessToken(signed)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, "Alice", claims.Name)
}

func TestTokenService_RejectsBadTokens(t *testing.T) {
	tokens, err := NewTokenService(testSigningKey, time.Hour)
	require.NoError(t, err)
	other, err := NewTokenService("another-signing-key-that-is-long-enough", time.Hour)
	require.NoError(t, err)
	user := &domain.User{ID: uuid.New()}

	foreign, _, err := other.GenerateAccessToken(user)
	require.NoError(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		UserID: user.ID,
	})
	expiredSigned, err := expired.SignedString([]byte(testSigningKey))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":   "not-a-jwt",
		"wrong key": foreign,
		"expired":   expiredSigned,
		"empty":     "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := tokens.ValidateAccessToken(token)
			assert.True(t, errors.Is(err, domain.ErrTokenInvalid))
		})
	}
}

func TestService_RegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.Register(ctx, RegisterInput{Name: " Alice ", Email: "Alice@Example.com", Password: "password123"})
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "alice@example.com", session.User.Email)
	assert.Equal(t, "Alice", session.User.Name)

	login, err := svc.Login(ctx, LoginInput{Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, login.User.ID)
}

func TestService_Register_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		input RegisterInput
	}{
		{"missing name", RegisterInput{Email: "a@example.com", Password: "password123"}},
		{"bad email", RegisterInput{Name: "A", Email: "nope", Password: "password123"}},
		{"short password", RegisterInput{Name: "A", Email: "a@example.com", Password: "pw1"}},
		{"no digit", RegisterInput{Name: "A", Email: "a@example.com", Password: "passwordonly"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.input)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}

func TestService_Register_DuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	input := RegisterInput{Name: "A", Email: "a@example.com", Password: "password123"}

	_, err := svc.Register(ctx, input)
	require.NoError(t, err)
	_, err = svc.Register(ctx, input)
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}

func TestService_Login_WrongPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "password123"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, LoginInput{Email: "a@example.com", Password: "wrong-password1"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = svc.Login(ctx, LoginInput{Email: "nobody@example.com", Password: "password123"})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestService_Resolve(t *testing.T) {
	svc, users := newTestService(t)
	ctx := context.Background()
	session, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "password123"})
	require.NoError(t, err)

	user, err := svc.Resolve(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, user.ID)

	_, err = svc.Resolve(ctx, "")
	assert.ErrorIs(t, err, domain.ErrAuthRejected)

	_, err = svc.Resolve(ctx, "garbage")
	assert.ErrorIs(t, err, domain.ErrAuthRejected)

	users.delete(session.User.ID)
	_, err = svc.Resolve(ctx, session.Token)
	assert.ErrorIs(t, err, domain.ErrAuthRejected, "token for a deleted user is rejected")
}

func TestService_Resolve_StoreFailureIsNotRejection(t *testing.T) {
	svc, users := newTestService(t)
	ctx := context.Background()
	session, err := svc.Register(ctx, RegisterInput{Name: "A", Email: "a@example.com", Password: "password123"})
	require.NoError(t, err)

	users.err = errors.New("connection refused")
	_, err = svc.Resolve(ctx, session.Token)

	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrAuthRejected))
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		url        string
		allowQuery bool
		want       string
	}{
		{"header", "Bearer abc", "/", false, "abc"},
		{"lowercase scheme", "bearer abc", "/", false, "abc"},
		{"wrong scheme", "Basic abc", "/?token=q", true, ""},
		{"query allowed", "", "/ws?token=q", true, "q"},
		{"query not allowed", "", "/ws?token=q", false, ""},
		{"nothing", "", "/", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, BearerToken(r, tt.allowQuery))
		})
	}
}

func TestMiddleware(t *testing.T) {
	svc, _ := newTestService(t)
	session, err := svc.Register(context.Background(), RegisterInput{Name: "A", Email: "a@example.com", Password: "password123"})
	require.NoError(t, err)

	var seen uuid.UUID
	handler := Middleware(svc, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid token", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		r.Header.Set("Authorization", "Bearer "+session.Token)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, session.User.ID, seen)
	})

	t.Run("missing token", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.True(t, strings.Contains(w.Body.String(), "access token required"))
	})

	t.Run("query token ignored", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/me?token="+session.Token, nil))

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
