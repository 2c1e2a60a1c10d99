package errors

import (
	goerrors "errors"
	"linkgate/entity"
	"linkgate/impl/core"
	"linkgate/lib/api/response"
	"net/http"

	"github.com/go-chi/render"
)

type outcome struct {
	target  error
	status  int
	message string
}

// first match wins; specific errors go before the families they wrap
var outcomes = []outcome{
	{entity.ErrTooManyAttempts, http.StatusTooManyRequests, "Too many attempts, request a new link"},
	{entity.ErrExpired, http.StatusGone, "Session expired, request a new link"},
	{entity.ErrLinkRevoked, http.StatusForbidden, "Link has been revoked"},
	{entity.ErrNotFound, http.StatusNotFound, "Not found"},
	{entity.ErrAlreadyConsumed, http.StatusConflict, "Session already used"},
	{entity.ErrAlreadyVerified, http.StatusConflict, "Session already verified"},
	{entity.ErrNotVerified, http.StatusConflict, "Session not verified"},
	{entity.ErrConflict, http.StatusConflict, "Concurrent update, retry"},
	{entity.ErrChallengeFailed, http.StatusUnprocessableEntity, "Wrong code, request a new one"},
	{entity.ErrInvalidDestination, http.StatusUnprocessableEntity, "Only Telegram group and channel links are supported"},
	{entity.ErrForbidden, http.StatusForbidden, "Forbidden"},
	{entity.ErrUpstreamUnavailable, http.StatusServiceUnavailable, "Membership check unavailable, retry later"},
	{entity.ErrUnauthorized, http.StatusUnauthorized, "Membership required"},
	{core.ErrCaptchaDisabled, http.StatusBadRequest, "Captcha is not enabled"},
}

// Status maps a domain error to an HTTP status and a user facing message.
func Status(err error) (int, string) {
	for _, o := range outcomes {
		if goerrors.Is(err, o.target) {
			return o.status, o.message
		}
	}
	return http.StatusInternalServerError, "Internal error"
}

// Render writes the error response for err.
func Render(w http.ResponseWriter, r *http.Request, err error) {
	status, message := Status(err)
	render.Status(r, status)
	render.JSON(w, r, response.Error(message))
}
