package identity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/ledgerwatch/internal/model"
)

// Session is one authenticated pipeline invocation.
type Session struct {
	Principal model.Principal `json:"principal"`
	RequestID string          `json:"request_id"`
	StartedAt time.Time       `json:"started_at"`
}

// NewSession starts a session for p with a fresh request id.
func NewSession(p model.Principal) Session {
	return Session{
		Principal: p,
		RequestID: NewRequestID(),
		StartedAt: time.Now().UTC(),
	}
}

// NewRequestID returns a random request identifier.
func NewRequestID() string {
	return "req-" + uuid.NewString()
}
