package health

import (
	"context"
	"linkgate/entity"
	"linkgate/lib/api/response"
	"linkgate/lib/sl"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
)

type Core interface {
	Stats(ctx context.Context) (*entity.Stats, error)
}

type status struct {
	Status   string `json:"status"`
	Durable  bool   `json:"durable"`
	Links    int64  `json:"links"`
	Sessions int64  `json:"sessions"`
}

func Health(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := handler.Stats(r.Context())
		if err != nil {
			log.With(sl.Module("http.handlers.health")).Error("stats", sl.Err(err))
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, response.Error("Storage unavailable"))
			return
		}
		render.JSON(w, r, response.Ok(status{
			Status:   "ok",
			Durable:  stats.Durable,
			Links:    stats.Links,
			Sessions: stats.Sessions,
		}))
	}
}
