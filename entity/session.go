package entity

import (
	"linkgate/lib/validate"
	"net/http"
	"time"
)

// SessionState is the lifecycle of an AccessSession.
// Pending → Verified → Consumed, or → Expired from any non-terminal state.
type SessionState string

const (
	SessionPending  SessionState = "pending"
	SessionVerified SessionState = "verified"
	SessionConsumed SessionState = "consumed"
	SessionExpired  SessionState = "expired"
)

func (s SessionState) Terminal() bool {
	return s == SessionConsumed || s == SessionExpired
}

// AccessSession is a single-use authorization scoped to one principal and one link.
type AccessSession struct {
	Token      string       `json:"token" bson:"token"`
	LinkId     string       `json:"link_id" bson:"link_id"`
	Principal  int64        `json:"principal" bson:"principal"`
	State      SessionState `json:"state" bson:"state"`
	Attempts   int          `json:"attempts" bson:"attempts"`
	CreatedAt  time.Time    `json:"created_at" bson:"created_at"`
	ExpiresAt  time.Time    `json:"expires_at" bson:"expires_at"`
	VerifiedAt *time.Time   `json:"verified_at,omitempty" bson:"verified_at,omitempty"`
	ConsumedAt *time.Time   `json:"consumed_at,omitempty" bson:"consumed_at,omitempty"`
}

// LiveAt reports whether the session window is still open at now.
func (s *AccessSession) LiveAt(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// SessionView is what the client app sees; it never carries the destination.
type SessionView struct {
	Token        string       `json:"token"`
	LinkId       string       `json:"link_id"`
	Principal    int64        `json:"principal"`
	State        SessionState `json:"state"`
	ExpiresAt    time.Time    `json:"expires_at"`
	Attempts     int          `json:"attempts"`
	AttemptsLeft int          `json:"attempts_left"`
}

// CompleteRequest is the body of the completion API; Code is only read in captcha mode.
type CompleteRequest struct {
	Code string `json:"code" validate:"omitempty,numeric,max=16"`
}

func (c *CompleteRequest) Bind(_ *http.Request) error {
	return validate.Struct(c)
}

// Completion is returned exactly once per session.
type Completion struct {
	Destination string    `json:"destination"`
	LinkId      string    `json:"link_id"`
	VerifiedAt  time.Time `json:"verified_at"`
}
