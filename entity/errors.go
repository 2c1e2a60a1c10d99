package entity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExpired  = errors.New("expired")

	ErrLinkNotFound      = fmt.Errorf("link %w", ErrNotFound)
	ErrSessionNotFound   = fmt.Errorf("session %w", ErrNotFound)
	ErrChallengeNotFound = fmt.Errorf("challenge %w", ErrNotFound)
	ErrPrincipalNotFound = fmt.Errorf("principal %w", ErrNotFound)

	ErrSessionExpired   = fmt.Errorf("session %w", ErrExpired)
	ErrChallengeExpired = fmt.Errorf("challenge %w", ErrExpired)

	ErrLinkRevoked         = errors.New("link revoked")
	ErrForbidden           = errors.New("forbidden")
	ErrUnauthorized        = errors.New("membership required")
	ErrUpstreamUnavailable = errors.New("membership service unavailable")
	ErrAlreadyConsumed     = errors.New("session already consumed")
	ErrAlreadyVerified     = errors.New("session already verified")
	ErrNotVerified         = errors.New("session not verified")
	ErrTooManyAttempts     = errors.New("too many attempts")
	ErrChallengeFailed     = errors.New("challenge failed")
	ErrInvalidDestination  = errors.New("invalid destination link")
	ErrDuplicate           = errors.New("duplicate key")

	// ErrConflict is returned by stores when a conditional update matched nothing.
	ErrConflict = errors.New("conditional update conflict")
)

// DenialReason tells why a single required group did not authorize a principal.
type DenialReason string

const (
	DenyNotMember DenialReason = "not_member" // lookup succeeded, status not accepted
	DenyRejected  DenialReason = "rejected"   // unknown principal/group or no rights
	DenyUpstream  DenialReason = "upstream"   // transport failure or timeout
)

type Denial struct {
	GroupID int64
	Reason  DenialReason
	Status  MemberStatus
	Err     error
}

// MembershipError lists every required group that did not authorize the principal.
// It always matches ErrUnauthorized; it matches ErrUpstreamUnavailable only when
// at least one lookup failed upstream.
type MembershipError struct {
	Principal int64
	Denials   []Denial
}

func (e *MembershipError) Error() string {
	parts := make([]string, 0, len(e.Denials))
	for _, d := range e.Denials {
		parts = append(parts, fmt.Sprintf("%d:%s", d.GroupID, d.Reason))
	}
	return fmt.Sprintf("principal %d not authorized: %s", e.Principal, strings.Join(parts, ", "))
}

func (e *MembershipError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return true
	case ErrUpstreamUnavailable:
		return e.Upstream()
	}
	return false
}

func (e *MembershipError) Upstream() bool {
	for _, d := range e.Denials {
		if d.Reason == DenyUpstream {
			return true
		}
	}
	return false
}

func (e *MembershipError) Groups() []int64 {
	ids := make([]int64, 0, len(e.Denials))
	for _, d := range e.Denials {
		ids = append(ids, d.GroupID)
	}
	return ids
}
