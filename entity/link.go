package entity

import (
	"linkgate/lib/validate"
	"net/http"
	"time"
)

// LinkRecord maps an opaque id to the hidden destination.
// The id doubles as the Mongo _id and is never derived from the destination.
type LinkRecord struct {
	Id               string     `json:"id" bson:"_id"`
	Destination      string     `json:"destination" bson:"destination"`
	Owner            int64      `json:"owner" bson:"owner"`
	OwnerUsername    string     `json:"owner_username,omitempty" bson:"owner_username,omitempty"`
	Active           bool       `json:"active" bson:"active"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty" bson:"revoked_at,omitempty"`
	AccessCount      int64      `json:"access_count" bson:"access_count"`
	UniquePrincipals []int64    `json:"unique_principals" bson:"unique_principals"`
	LastAccessed     *time.Time `json:"last_accessed,omitempty" bson:"last_accessed,omitempty"`
	CreatedAt        time.Time  `json:"created_at" bson:"created_at"`
}

// ExpiredAt reports whether the record outlived the absolute ttl; ttl <= 0 disables it.
func (l *LinkRecord) ExpiredAt(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return !now.Before(l.CreatedAt.Add(ttl))
}

// LinkRequest is the body of the link creation API.
type LinkRequest struct {
	Destination string `json:"destination" validate:"required,url,max=512"`
}

func (r *LinkRequest) Bind(_ *http.Request) error {
	return validate.Struct(r)
}
