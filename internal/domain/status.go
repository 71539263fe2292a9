package domain

import (
	"fmt"
)

// TaskStatus is the lifecycle state of a Task. The zero value is not a valid
// status; values only come from the constants below or from ParseTaskStatus.
type TaskStatus uint8

// Task lifecycle states.
const (
	StatusPending TaskStatus = iota + 1
	StatusProcessing
	StatusCompleted
	StatusFailed
)

var taskStatusNames = map[TaskStatus]string{
	StatusPending:    "pending",
	StatusProcessing: "processing",
	StatusCompleted:  "completed",
	StatusFailed:     "failed",
}

// ParseTaskStatus converts the wire/storage name of a status into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	for status, name := range taskStatusNames {
		if name == s {
			return status, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// String returns the storage name of the status.
func (s TaskStatus) String() string {
	if name, ok := taskStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("TaskStatus(%d)", uint8(s))
}

// Valid reports whether s is one of the defined statuses.
func (s TaskStatus) Valid() bool {
	_, ok := taskStatusNames[s]
	return ok
}

// IsTerminal reports whether no further transition may leave s.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether s -> next is an edge of the lifecycle:
// pending -> processing -> completed | failed.
//
// Returning a processing task to pending after its lease expires is not a
// regular transition; stores expose it separately as lease release.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s TaskStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TaskStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseTaskStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// NotificationStatus is the delivery state of an outbox notification.
type NotificationStatus uint8

// Notification delivery states.
const (
	NotificationPending NotificationStatus = iota + 1
	NotificationDelivered
	NotificationDead
)

var notificationStatusNames = map[NotificationStatus]string{
	NotificationPending:   "pending",
	NotificationDelivered: "delivered",
	NotificationDead:      "dead",
}

// ParseNotificationStatus converts a stored name into a NotificationStatus.
func ParseNotificationStatus(s string) (NotificationStatus, error) {
	for status, name := range notificationStatusNames {
		if name == s {
			return status, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

func (s NotificationStatus) String() string {
	if name, ok := notificationStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("NotificationStatus(%d)", uint8(s))
}
