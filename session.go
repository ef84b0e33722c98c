package smartmailer

import (
	"time"

	"github.com/google/uuid"
)

// Session is one run of the dispatch pipeline. Its ID correlates every
// delivery, history report and tracking beacon of the run.
type Session struct {
	ID          uuid.UUID
	Subject     string
	Template    string
	TargetGroup string
	CreatedAt   time.Time
}

// NewSession creates a session with a fresh random ID.
func NewSession(subject, template, targetGroup string) *Session {
	return &Session{
		ID:          uuid.New(),
		Subject:     subject,
		Template:    template,
		TargetGroup: targetGroup,
		CreatedAt:   time.Now().UTC(),
	}
}
