package links

import (
	"context"
	"fmt"
	"linkgate/entity"
	"linkgate/internal/http-server/handlers/errors"
	"linkgate/lib/api/cont"
	"linkgate/lib/api/response"
	"linkgate/lib/sl"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	CreateLink(ctx context.Context, owner entity.Principal, destination string) (*entity.LinkRecord, error)
	LinkInfo(ctx context.Context, id string, requester int64) (*entity.LinkRecord, error)
	RevokeLink(ctx context.Context, id string, requester int64) (*entity.LinkRecord, error)
}

func Create(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(
			sl.Module("http.handlers.links"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		principal, ok := cont.GetPrincipal(r.Context())
		if !ok {
			errors.Render(w, r, entity.ErrForbidden)
			return
		}

		var req entity.LinkRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Debug("bind request", sl.Err(err))
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}

		link, err := handler.CreateLink(r.Context(), entity.Principal{Id: principal}, req.Destination)
		if err != nil {
			logger.With(slog.Int64("owner", principal)).Warn("create link", sl.Err(err))
			errors.Render(w, r, err)
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.Ok(link))
	}
}

func Get(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		logger := log.With(
			sl.Module("http.handlers.links"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("id", id),
		)

		principal, ok := cont.GetPrincipal(r.Context())
		if !ok {
			errors.Render(w, r, entity.ErrForbidden)
			return
		}

		link, err := handler.LinkInfo(r.Context(), id, principal)
		if err != nil {
			logger.Debug("link info", sl.Err(err))
			errors.Render(w, r, err)
			return
		}
		render.JSON(w, r, response.Ok(link))
	}
}

func Revoke(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		logger := log.With(
			sl.Module("http.handlers.links"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("id", id),
		)

		principal, ok := cont.GetPrincipal(r.Context())
		if !ok {
			errors.Render(w, r, entity.ErrForbidden)
			return
		}

		link, err := handler.RevokeLink(r.Context(), id, principal)
		if err != nil {
			logger.Debug("revoke link", sl.Err(err))
			errors.Render(w, r, err)
			return
		}
		render.JSON(w, r, response.Ok(link))
	}
}
