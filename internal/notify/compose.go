package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/phrazzld/emplan-api/internal/domain"
)

// ComposeOutcome writes the subject and body announcing a task's terminal
// status. errorMessage is used only for failures.
func ComposeOutcome(task *domain.Task, status domain.TaskStatus, errorMessage string) (subject, body string) {
	var b strings.Builder

	switch status {
	case domain.StatusCompleted:
		subject = fmt.Sprintf("Your plan for %s is ready", task.SubjectName)

		fmt.Fprintf(&b, "Hello,\n\nThe emergency response plan for %s has been generated and is attached.\n\n", task.SubjectName)
		b.WriteString("The document is protected with the secret you chose when you submitted the request. ")
		b.WriteString("We do not keep a copy of that secret and cannot recover it.\n\n")
		b.WriteString("Have the plan reviewed by a qualified professional and checked against local regulations before relying on it.\n\n")
	default:
		subject = fmt.Sprintf("We could not generate the plan for %s", task.SubjectName)

		fmt.Fprintf(&b, "Hello,\n\nWe were unable to generate the emergency response plan for %s.\n\n", task.SubjectName)
		if errorMessage != "" {
			fmt.Fprintf(&b, "Reason: %s\n\n", errorMessage)
		}
		b.WriteString("You can submit the request again. Contact support if the problem persists.\n\n")
	}

	fmt.Fprintf(&b, "Reference: %s\n", task.ID)
	return subject, b.String()
}

// NewOutcomeNotification builds the outbox entry written together with a
// terminal transition of task.
func NewOutcomeNotification(
	task *domain.Task,
	status domain.TaskStatus,
	errorMessage string,
	result *domain.ResultReference,
	now time.Time,
) (*domain.Notification, error) {
	kind, err := domain.KindForStatus(status)
	if err != nil {
		return nil, err
	}

	subject, body := ComposeOutcome(task, status, errorMessage)

	var attachment string
	if status == domain.StatusCompleted && result != nil {
		attachment = result.ArtifactRef
	}

	return domain.NewNotification(task.ID, kind, task.RequesterContact, subject, body, attachment, now)
}
