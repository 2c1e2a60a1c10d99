package entity

import "time"

// Principal is the append-only activity ledger entry of a Telegram user.
type Principal struct {
	Id                 int64     `json:"user_id" bson:"user_id"`
	Username           string    `json:"username,omitempty" bson:"username,omitempty"`
	FirstName          string    `json:"first_name,omitempty" bson:"first_name,omitempty"`
	JoinedAt           time.Time `json:"joined_at" bson:"joined_at"`
	LastActive         time.Time `json:"last_active" bson:"last_active"`
	MessageCount       int64     `json:"message_count" bson:"message_count"`
	TotalLinks         int64     `json:"total_links" bson:"total_links"`
	TotalVerifications int64     `json:"total_verifications" bson:"total_verifications"`
}

// Ledger counters
const (
	CounterLinks         = "total_links"
	CounterVerifications = "total_verifications"
)

// Stats is the admin overview.
type Stats struct {
	Users       int64 `json:"users"`
	ActiveToday int64 `json:"active_today"`
	Links       int64 `json:"links"`
	Sessions    int64 `json:"sessions"`
	Durable     bool  `json:"durable"`
}

// AccessEvent is the audit record of a completed verification.
type AccessEvent struct {
	Principal  int64     `json:"user_id" bson:"user_id"`
	LinkId     string    `json:"link_id" bson:"link_id"`
	Action     string    `json:"action" bson:"action"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
	RemoteAddr string    `json:"ip,omitempty" bson:"ip,omitempty"`
}

const ActionVerificationComplete = "verification_complete"

// ApiKey binds an API bearer key to the principal acting through it.
type ApiKey struct {
	Key       string `yaml:"key"`
	Principal int64  `yaml:"principal"`
}
