package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observer/notifyhub/internal/auth"
	"github.com/observer/notifyhub/internal/domain"
	"github.com/observer/notifyhub/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// =============================================================================
// Fakes
// =============================================================================

type memoryTests struct {
	mu    sync.Mutex
	tests map[uuid.UUID]domain.ScheduledTest
	err   error
}

func newMemoryTests() *memoryTests {
	return &memoryTests{tests: make(map[uuid.UUID]domain.ScheduledTest)}
}

func (m *memoryTests) Create(ctx context.Context, test *domain.ScheduledTest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	test.ID = uuid.New()
	test.ScheduledAt = time.Now().UTC()
	test.CreatedAt = test.ScheduledAt
	m.tests[test.ID] = *test
	return nil
}

func (m *memoryTests) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.ScheduledTest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.ScheduledTest{}
	for _, t := range m.tests {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memoryTests) ListAll(ctx context.Context) ([]domain.TestWithOwner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.TestWithOwner{}
	for _, t := range m.tests {
		out = append(out, domain.TestWithOwner{ScheduledTest: t})
	}
	return out, nil
}

func (m *memoryTests) Delete(ctx context.Context, id uuid.UUID) (*domain.ScheduledTest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tests[id]
	if !ok {
		return nil, domain.ErrTestNotFound
	}
	delete(m.tests, id)
	return &t, nil
}

type userSet map[uuid.UUID]*domain.User

func (u userSet) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if user, ok := u[id]; ok {
		return user, nil
	}
	return nil, domain.ErrUserNotFound
}

type recordingNotifier struct {
	mu      sync.Mutex
	devices int
	err     error
	sent    []domain.Notification
}

func (n *recordingNotifier) NotifyUser(ctx context.Context, userID uuid.UUID, note domain.Notification) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return 0, n.err
	}
	n.sent = append(n.sent, note)
	return n.devices, nil
}

type stubAuthenticator struct {
	session *auth.Session
	err     error
}

func (s *stubAuthenticator) Register(ctx context.Context, input auth.RegisterInput) (*auth.Session, error) {
	return s.session, s.err
}

func (s *stubAuthenticator) Login(ctx context.Context, input auth.LoginInput) (*auth.Session, error) {
	return s.session, s.err
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// =============================================================================
// Tests endpoints
// =============================================================================

func newTestHandlerFixture() (*TestHandler, *memoryTests, *recordingNotifier, *domain.User) {
	user := &domain.User{ID: uuid.New(), Name: "alice", Email: "alice@example.com"}
	tests := newMemoryTests()
	notifier := &recordingNotifier{devices: 2}
	h := NewTestHandler(tests, userSet{user.ID: user}, notifier, testLogger())
	return h, tests, notifier, user
}

func TestSchedule_NotifiesDevices(t *testing.T) {
	h, tests, notifier, user := newTestHandlerFixture()

	rec := doJSON(t, h.Schedule, http.MethodPost, "/api/tests/schedule",
		ScheduleTestRequest{UserID: user.ID.String(), TestName: "  Algebra final "})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Test scheduled successfully", body["message"])

	notification := body["notification"].(map[string]any)
	assert.Equal(t, true, notification["sent"])
	assert.EqualValues(t, 2, notification["devicesNotified"])
	assert.Equal(t, "Notification sent to 2 device(s)", notification["message"])

	test := body["test"].(map[string]any)
	assert.Equal(t, "Algebra final", test["testName"])
	assert.Equal(t, user.ID.String(), test["userId"])

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, domain.NotificationNewTest, notifier.sent[0].Type)
	assert.Equal(t, "New test scheduled: Algebra final", notifier.sent[0].Message)
	assert.Len(t, tests.tests, 1)
}

func TestSchedule_Validation(t *testing.T) {
	h, _, notifier, user := newTestHandlerFixture()

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"bad uuid", ScheduleTestRequest{UserID: "nope", TestName: "x"}, http.StatusBadRequest},
		{"empty name", ScheduleTestRequest{UserID: user.ID.String(), TestName: "   "}, http.StatusBadRequest},
		{"unknown user", ScheduleTestRequest{UserID: uuid.NewString(), TestName: "x"}, http.StatusNotFound},
		{"not json", "plain string", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h.Schedule, http.MethodPost, "/api/tests/schedule", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, decodeBody(t, rec), "error")
		})
	}
	assert.Empty(t, notifier.sent)
}

func TestSchedule_NotifierFailureStillSucceeds(t *testing.T) {
	h, tests, notifier, user := newTestHandlerFixture()
	notifier.err = errors.New("encode failed")

	rec := doJSON(t, h.Schedule, http.MethodPost, "/api/tests/schedule",
		ScheduleTestRequest{UserID: user.ID.String(), TestName: "Geometry"})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decodeBody(t, rec)["notification"].(map[string]any)["devicesNotified"])
	assert.Len(t, tests.tests, 1)
}

func TestSchedule_StoreFailure(t *testing.T) {
	h, tests, _, user := newTestHandlerFixture()
	tests.err = errors.New("connection reset")

	rec := doJSON(t, h.Schedule, http.MethodPost, "/api/tests/schedule",
		ScheduleTestRequest{UserID: user.ID.String(), TestName: "Geometry"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListByUser(t *testing.T) {
	h, _, _, user := newTestHandlerFixture()
	doJSON(t, h.Schedule, http.MethodPost, "/", ScheduleTestRequest{UserID: user.ID.String(), TestName: "One"})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tests/user/{userId}", h.ListByUser)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tests/user/"+user.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["tests"], 1)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tests/user/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tests/user/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAll_EmptyIsArray(t *testing.T) {
	h, _, _, _ := newTestHandlerFixture()

	rec := doJSON(t, h.ListAll, http.MethodGet, "/api/tests", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tests":[]}`, rec.Body.String())
}

func TestDelete_NotifiesOwner(t *testing.T) {
	h, tests, notifier, user := newTestHandlerFixture()
	test := &domain.ScheduledTest{UserID: user.ID, TestName: "History"}
	require.NoError(t, tests.Create(context.Background(), test))

	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/tests/{testId}", h.Delete)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/tests/"+test.ID.String(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Test deleted successfully", body["message"])
	assert.EqualValues(t, 2, body["notification"].(map[string]any)["devicesNotified"])

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, domain.NotificationTestDeleted, notifier.sent[0].Type)
	assert.Equal(t, `Test "History" has been deleted`, notifier.sent[0].Message)
	require.NotNil(t, notifier.sent[0].UserID)
	assert.Equal(t, user.ID, *notifier.sent[0].UserID)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/tests/"+test.ID.String(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Auth endpoints
// =============================================================================

func TestSignup_Created(t *testing.T) {
	session := &auth.Session{Token: "tok", User: domain.PublicUser{ID: uuid.New(), Name: "bob"}}
	h := NewAuthHandler(&stubAuthenticator{session: session}, testLogger())

	rec := doJSON(t, h.Signup, http.MethodPost, "/api/auth/signup",
		auth.RegisterInput{Name: "bob", Email: "bob@example.com", Password: "secret123"})

	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "tok", body["token"])
	assert.Equal(t, "bob", body["user"].(map[string]any)["name"])
}

func TestAuthErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &auth.ValidationError{Message: "password too short"}, http.StatusBadRequest},
		{"bad credentials", domain.ErrInvalidCredentials, http.StatusUnauthorized},
		{"email taken", domain.ErrEmailTaken, http.StatusConflict},
		{"store down", errors.New("dial tcp: refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(&stubAuthenticator{err: tt.err}, testLogger())
			rec := doJSON(t, h.Login, http.MethodPost, "/api/auth/login",
				auth.LoginInput{Email: "a@example.com", Password: "x"})
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestMe(t *testing.T) {
	h := NewAuthHandler(&stubAuthenticator{}, testLogger())
	user := &domain.User{ID: uuid.New(), Name: "carol", Email: "carol@example.com"}

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req = req.WithContext(auth.WithUser(req.Context(), user))
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "carol", decodeBody(t, rec)["user"].(map[string]any)["name"])

	rec = doJSON(t, h.Me, http.MethodGet, "/api/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// =============================================================================
// Broadcast and health
// =============================================================================

type recordingBroadcaster struct {
	notes []domain.Notification
	err   error
}

func (b *recordingBroadcaster) BroadcastSystem(ctx context.Context, note domain.Notification) error {
	if b.err != nil {
		return b.err
	}
	b.notes = append(b.notes, note)
	return nil
}

func TestBroadcast(t *testing.T) {
	b := &recordingBroadcaster{}
	h := NewNotificationHandler(b, testLogger())

	rec := doJSON(t, h.Broadcast, http.MethodPost, "/api/notifications/broadcast", BroadcastRequest{Message: "maintenance"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, b.notes, 1)
	assert.Equal(t, domain.NotificationSystem, b.notes[0].Type)

	rec = doJSON(t, h.Broadcast, http.MethodPost, "/api/notifications/broadcast", BroadcastRequest{Message: " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	b.err = errors.New("redis down")
	rec = doJSON(t, h.Broadcast, http.MethodPost, "/api/notifications/broadcast", BroadcastRequest{Message: "again"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type fixedLedgerStats registry.WriterStats

func (s fixedLedgerStats) Stats() registry.WriterStats { return registry.WriterStats(s) }

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Health(ctx context.Context) error { return f(ctx) }

func TestHealth_ReportsRegistryAndLedger(t *testing.T) {
	reg := registry.New(nil, testLogger())
	userID := uuid.New()
	reg.Add(userID, "boot.1")
	reg.Add(userID, "boot.2")

	h := NewHealthHandler(reg, fixedLedgerStats{Pending: 3, Dropped: 1}, pingerFunc(func(context.Context) error { return nil }))

	rec := doJSON(t, h.Health, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "OK", body["status"])
	ws := body["websocket"].(map[string]any)
	stats := ws["stats"].(map[string]any)
	assert.EqualValues(t, 1, stats["total_users"])
	assert.EqualValues(t, 2, stats["total_connections"])
	assert.EqualValues(t, 2, stats["connections_per_user"].(map[string]any)[userID.String()])
	assert.EqualValues(t, 3, ws["ledger"].(map[string]any)["pending"])
}

func TestReadyz(t *testing.T) {
	down := NewHealthHandler(nil, nil, pingerFunc(func(context.Context) error { return errors.New("down") }))
	rec := doJSON(t, down.Readyz, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	up := NewHealthHandler(nil, nil, pingerFunc(func(context.Context) error { return nil }))
	rec = doJSON(t, up.Readyz, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}
