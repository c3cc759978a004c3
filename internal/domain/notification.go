package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Notification types
const (
	NotificationNewTest     = "NEW_TEST"
	NotificationTestDeleted = "TEST_DELETED"
	NotificationSystem      = "SYSTEM"
)

// Notification is the payload pushed to a user's devices.
// Test fields are omitted for system notifications.
type Notification struct {
	Type      string     `json:"type"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
	TestID    *uuid.UUID `json:"testId,omitempty"`
	TestName  string     `json:"testName,omitempty"`
	UserID    *uuid.UUID `json:"userId,omitempty"`
}

func NewTestScheduledNotification(t *ScheduledTest) Notification {
	return testNotification(NotificationNewTest, fmt.Sprintf("New test scheduled: %s", t.TestName), t)
}

func NewTestDeletedNotification(t *ScheduledTest) Notification {
	return testNotification(NotificationTestDeleted, fmt.Sprintf("Test %q has been deleted", t.TestName), t)
}

func NewSystemNotification(message string) Notification {
	return Notification{
		Type:      NotificationSystem,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

func testNotification(kind, message string, t *ScheduledTest) Notification {
	testID := t.ID
	userID := t.UserID
	return Notification{
		Type:      kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
		TestID:    &testID,
		TestName:  t.TestName,
		UserID:    &userID,
	}
}
