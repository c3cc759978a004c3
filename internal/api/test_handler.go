package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/observer/notifyhub/internal/domain"
)

// TestStore persists scheduled tests. *database.TestRepository satisfies it.
type TestStore interface {
	Create(ctx context.Context, test *domain.ScheduledTest) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.ScheduledTest, error)
	ListAll(ctx context.Context) ([]domain.TestWithOwner, error)
	Delete(ctx context.Context, id uuid.UUID) (*domain.ScheduledTest, error)
}

// UserLookup loads users by id
type UserLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// Notifier pushes a notification to every live device of a user and
// reports how many devices it tried.
type Notifier interface {
	NotifyUser(ctx context.Context, userID uuid.UUID, note domain.Notification) (int, error)
}

// TestHandler handles the scheduled test endpoints
type TestHandler struct {
	tests    TestStore
	users    UserLookup
	notifier Notifier
	logger   *slog.Logger
}

func NewTestHandler(tests TestStore, users UserLookup, notifier Notifier, logger *slog.Logger) *TestHandler {
	return &TestHandler{
		tests:    tests,
		users:    users,
		notifier: notifier,
		logger:   logger,
	}
}

// ScheduleTestRequest is the body of POST /api/tests/schedule
type ScheduleTestRequest struct {
	UserID   string `json:"userId"`
	TestName string `json:"testName"`
}

// ScheduledTestView is the scheduled test as returned by the schedule endpoint
type ScheduledTestView struct {
	ID          uuid.UUID `json:"id"`
	TestName    string    `json:"testName"`
	UserID      uuid.UUID `json:"userId"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

// NotificationResult reports the fanout triggered by a request
type NotificationResult struct {
	Sent            bool   `json:"sent"`
	DevicesNotified int    `json:"devicesNotified"`
	Message         string `json:"message,omitempty"`
}

// Schedule godoc
//
//	@Summary		Schedule a test
//	@Description	Store a test for a user and notify every connected device of that user
//	@Tags			tests
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		ScheduleTestRequest	true	"Test details"
//	@Success		200		{object}	object{message=string,test=ScheduledTestView,notification=NotificationResult}
//	@Failure		400		{object}	map[string]string	"Invalid input"
//	@Failure		404		{object}	map[string]string	"User not found"
//	@Router			/api/tests/schedule [post]
func (h *TestHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req ScheduleTestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "userId must be a valid UUID")
		return
	}
	name, err := domain.ValidateTestName(req.TestName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.userExists(w, r, userID) {
		return
	}

	test := &domain.ScheduledTest{UserID: userID, TestName: name}
	if err := h.tests.Create(r.Context(), test); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("create test failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	devices := h.notify(r.Context(), userID, domain.NewTestScheduledNotification(test))
	h.logger.Info("test scheduled", "test_id", test.ID, "user_id", userID, "devices_notified", devices)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Test scheduled successfully",
		"test": ScheduledTestView{
			ID:          test.ID,
			TestName:    test.TestName,
			UserID:      test.UserID,
			ScheduledAt: test.ScheduledAt,
		},
		"notification": NotificationResult{
			Sent:            true,
			DevicesNotified: devices,
			Message:         fmt.Sprintf("Notification sent to %d device(s)", devices),
		},
	})
}

// ListByUser godoc
//
//	@Summary		List a user's tests
//	@Tags			tests
//	@Produce		json
//	@Security		BearerAuth
//	@Param			userId	path		string	true	"User ID"
//	@Success		200		{object}	object{tests=[]domain.ScheduledTest}
//	@Failure		400		{object}	map[string]string
//	@Failure		404		{object}	map[string]string
//	@Router			/api/tests/user/{userId} [get]
func (h *TestHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(r.PathValue("userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if !h.userExists(w, r, userID) {
		return
	}

	tests, err := h.tests.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("list tests failed", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"tests": tests})
}

// ListAll godoc
//
//	@Summary		List all tests
//	@Description	Every scheduled test joined with its owner, newest first
//	@Tags			tests
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{object}	object{tests=[]domain.TestWithOwner}
//	@Router			/api/tests [get]
func (h *TestHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	tests, err := h.tests.ListAll(r.Context())
	if err != nil {
		h.logger.Error("list all tests failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"tests": tests})
}

// Delete godoc
//
//	@Summary		Delete a test
//	@Description	Delete a test and notify every connected device of its owner
//	@Tags			tests
//	@Produce		json
//	@Security		BearerAuth
//	@Param			testId	path		string	true	"Test ID"
//	@Success		200		{object}	object{message=string,test=domain.ScheduledTest,notification=NotificationResult}
//	@Failure		400		{object}	map[string]string
//	@Failure		404		{object}	map[string]string
//	@Router			/api/tests/{testId} [delete]
func (h *TestHandler) Delete(w http.ResponseWriter, r *http.Request) {
	testID, err := uuid.Parse(r.PathValue("testId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid test id")
		return
	}

	test, err := h.tests.Delete(r.Context(), testID)
	if err != nil {
		if errors.Is(err, domain.ErrTestNotFound) {
			writeError(w, http.StatusNotFound, "test not found")
			return
		}
		h.logger.Error("delete test failed", "error", err, "test_id", testID)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	devices := h.notify(r.Context(), test.UserID, domain.NewTestDeletedNotification(test))
	h.logger.Info("test deleted", "test_id", test.ID, "user_id", test.UserID, "devices_notified", devices)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Test deleted successfully",
		"test":    test,
		"notification": NotificationResult{
			Sent:            true,
			DevicesNotified: devices,
		},
	})
}

func (h *TestHandler) userExists(w http.ResponseWriter, r *http.Request, userID uuid.UUID) bool {
	if _, err := h.users.GetByID(r.Context(), userID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return false
		}
		h.logger.Error("load user failed", "error", err, "user_id", userID)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return false
	}
	return true
}

// notify never fails the request; the change is already stored
func (h *TestHandler) notify(ctx context.Context, userID uuid.UUID, note domain.Notification) int {
	devices, err := h.notifier.NotifyUser(ctx, userID, note)
	if err != nil {
		h.logger.Error("notify user failed", "error", err, "user_id", userID, "notification_type", note.Type)
		return 0
	}
	return devices
}
