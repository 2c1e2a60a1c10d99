package session

import (
	"context"
	goerrors "errors"
	"fmt"
	"io"
	"linkgate/entity"
	"linkgate/internal/http-server/handlers/errors"
	"linkgate/lib/api/response"
	"linkgate/lib/sl"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	SessionStatus(ctx context.Context, token string) (*entity.SessionView, error)
	Complete(ctx context.Context, token, code string) (*entity.Completion, error)
	RefreshChallenge(ctx context.Context, token string) error
}

func requestLogger(log *slog.Logger, r *http.Request, token string) *slog.Logger {
	return log.With(
		sl.Module("http.handlers.session"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		sl.Secret("token", token),
	)
}

// Status returns the session state and expiry; never the destination.
func Status(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		logger := requestLogger(log, r, token)

		view, err := handler.SessionStatus(r.Context(), token)
		if err != nil {
			logger.Debug("session status", sl.Err(err))
			errors.Render(w, r, err)
			return
		}
		render.JSON(w, r, response.Ok(view))
	}
}

// Complete verifies and consumes the session, returning the destination once.
func Complete(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		logger := requestLogger(log, r, token)

		var req entity.CompleteRequest
		if err := render.Bind(r, &req); err != nil && !goerrors.Is(err, io.EOF) {
			logger.Debug("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}

		done, err := handler.Complete(r.Context(), token, req.Code)
		if err != nil {
			status, _ := errors.Status(err)
			if status == http.StatusInternalServerError {
				logger.Error("complete session", sl.Err(err))
			} else {
				logger.Debug("complete session", sl.Err(err))
			}
			errors.Render(w, r, err)
			return
		}
		logger.With(slog.String("link_id", done.LinkId)).Info("session completed")
		render.JSON(w, r, response.Ok(done))
	}
}

// Challenge issues a new code for a Pending session in captcha mode.
func Challenge(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := chi.URLParam(r, "token")
		logger := requestLogger(log, r, token)

		if err := handler.RefreshChallenge(r.Context(), token); err != nil {
			logger.Debug("refresh challenge", sl.Err(err))
			errors.Render(w, r, err)
			return
		}
		render.JSON(w, r, response.Ok(nil))
	}
}
