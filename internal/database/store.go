package database

import (
	"context"
	"linkgate/entity"
	"linkgate/impl/challenge"
	"linkgate/impl/core"
	"linkgate/impl/registry"
	"linkgate/impl/session"
	"linkgate/internal/config"
	"linkgate/internal/database/memory"
	"linkgate/lib/sl"
	"log/slog"
)

// Store is implemented by every storage backend.
type Store interface {
	registry.Store
	session.Store
	challenge.Store
	core.Ledger
	GetPrincipal(ctx context.Context, id int64) (*entity.Principal, error)
	Close(ctx context.Context) error
}

var (
	_ Store = (*MongoDB)(nil)
	_ Store = (*memory.MemStorage)(nil)
)

// Open connects the durable MongoDB store. When mongo is disabled, or it is
// unreachable and memory_fallback is set, the non-durable memory store is used.
func Open(ctx context.Context, conf *config.Config, log *slog.Logger) (Store, error) {
	log = log.With(sl.Module("database"))
	if !conf.Mongo.Enabled {
		log.Warn("mongodb disabled; using non-durable memory store")
		return memory.New(), nil
	}
	db, err := NewMongoClient(ctx, conf)
	if err != nil {
		if !conf.Mongo.MemoryFallback {
			return nil, err
		}
		log.Error("mongodb unavailable; falling back to non-durable memory store", sl.Err(err))
		return memory.New(), nil
	}
	log.With(slog.String("database", conf.Mongo.Database)).Info("mongodb connected")
	return db, nil
}
