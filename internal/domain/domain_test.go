package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// User.ToPublic Tests
// =============================================================================

func TestUser_ToPublic(t *testing.T) {
	user := &User{
		ID:        uuid.New(),
		Email:     "alice@example.com",
		Name:      "Alice",
		CreatedAt: time.Now(),
	}

	pub := user.ToPublic()

	assert.Equal(t, user.ID, pub.ID)
	assert.Equal(t, "Alice", pub.Name)
	assert.Equal(t, "alice@example.com", pub.Email)
}

// =============================================================================
// Test name validation
// =============================================================================

func TestValidateTestName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain", "Math midterm", "Math midterm", false},
		{"trimmed", "  Physics  ", "Physics", false},
		{"empty", "", "", true},
		{"whitespace only", "   ", "", true},
		{"max length", strings.Repeat("a", MaxTestNameLength), strings.Repeat("a", MaxTestNameLength), false},
		{"too long", strings.Repeat("a", MaxTestNameLength+1), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateTestName(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTest))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// Notification Tests
// =============================================================================

func TestNewTestScheduledNotification(t *testing.T) {
	test := &ScheduledTest{ID: uuid.New(), UserID: uuid.New(), TestName: "Chemistry"}

	n := NewTestScheduledNotification(test)

	assert.Equal(t, NotificationNewTest, n.Type)
	assert.Equal(t, "New test scheduled: Chemistry", n.Message)
	require.NotNil(t, n.TestID)
	assert.Equal(t, test.ID, *n.TestID)
	require.NotNil(t, n.UserID)
	assert.Equal(t, test.UserID, *n.UserID)
	assert.False(t, n.Timestamp.IsZero())
}

func TestNewTestDeletedNotification(t *testing.T) {
	test := &ScheduledTest{ID: uuid.New(), UserID: uuid.New(), TestName: "Biology"}

	n := NewTestDeletedNotification(test)

	assert.Equal(t, NotificationTestDeleted, n.Type)
	assert.Contains(t, n.Message, `"Biology"`)
}

func TestNotification_JSONFieldNames(t *testing.T) {
	test := &ScheduledTest{ID: uuid.New(), UserID: uuid.New(), TestName: "History"}
	data, err := json.Marshal(NewTestScheduledNotification(test))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"type", "message", "timestamp", "testId", "testName", "userId"} {
		assert.Contains(t, fields, key)
	}
}

func TestNewSystemNotification_OmitsTestFields(t *testing.T) {
	data, err := json.Marshal(NewSystemNotification("maintenance at noon"))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, NotificationSystem, fields["type"])
	assert.NotContains(t, fields, "testId")
	assert.NotContains(t, fields, "userId")
}
