package entity

import "time"

// Challenge is a short-lived numeric code bound to a (principal, link) pair.
// At most one challenge exists per pair.
type Challenge struct {
	Principal int64     `bson:"principal"`
	LinkId    string    `bson:"link_id"`
	Code      string    `bson:"code"`
	CreatedAt time.Time `bson:"created_at"`
	ExpiresAt time.Time `bson:"expires_at"`
}
