package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxTestNameLength mirrors the tests.test_name column width
const MaxTestNameLength = 255

// ScheduledTest is a test scheduled for a user. Creating or deleting one
// triggers a notification to every live device of that user.
type ScheduledTest struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	TestName    string    `json:"test_name"`
	ScheduledAt time.Time `json:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// TestWithOwner is a test joined with its owner, used by the admin listing
type TestWithOwner struct {
	ScheduledTest
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
}

// ValidateTestName trims and checks a test name
func ValidateTestName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: testName is required", ErrInvalidTest)
	}
	if len(name) > MaxTestNameLength {
		return "", fmt.Errorf("%w: testName must be at most %d characters", ErrInvalidTest, MaxTestNameLength)
	}
	return name, nil
}
