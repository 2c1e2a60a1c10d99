package errors

import (
	"fmt"
	"linkgate/entity"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{entity.ErrSessionNotFound, http.StatusNotFound},
		{entity.ErrChallengeNotFound, http.StatusNotFound},
		{entity.ErrSessionExpired, http.StatusGone},
		{entity.ErrTooManyAttempts, http.StatusTooManyRequests},
		{entity.ErrAlreadyConsumed, http.StatusConflict},
		{entity.ErrNotVerified, http.StatusConflict},
		{entity.ErrChallengeFailed, http.StatusUnprocessableEntity},
		{entity.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("%w: %w", entity.ErrLinkNotFound, entity.ErrLinkRevoked), http.StatusForbidden},
		{&entity.MembershipError{Denials: []entity.Denial{{Reason: entity.DenyNotMember}}}, http.StatusUnauthorized},
		{&entity.MembershipError{Denials: []entity.Denial{{Reason: entity.DenyUpstream}}}, http.StatusServiceUnavailable},
		{fmt.Errorf("mongodb find: boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, message := Status(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.NotEmpty(t, message)
	}
}
