// Package cache holds the redis-backed shared state: the invite link cache
// and the request rate limiter.
package cache

import (
	"context"
	"errors"
	"fmt"
	"linkgate/internal/config"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dialTimeout  = 10 * time.Second
	invitePrefix = "invite:"
)

// NewClient builds a redis client from the config and verifies it with PING.
func NewClient(ctx context.Context, conf config.RedisConfig) (*redis.Client, error) {
	host := conf.Host
	if host == "" {
		host = "localhost"
	}
	port := conf.Port
	if port == 0 {
		port = 6379
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: conf.Password,
		DB:       conf.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// Invites stores invite links shared by every instance of the service.
type Invites struct {
	client *redis.Client
}

func NewInvites(client *redis.Client) *Invites {
	return &Invites{client: client}
}

func inviteKey(groupId int64) string {
	return invitePrefix + strconv.FormatInt(groupId, 10)
}

func (i *Invites) GetInvite(ctx context.Context, groupId int64) (string, bool, error) {
	url, err := i.client.Get(ctx, inviteKey(groupId)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return url, true, nil
}

func (i *Invites) PutInvite(ctx context.Context, groupId int64, url string, ttl time.Duration) error {
	return i.client.Set(ctx, inviteKey(groupId), url, ttl).Err()
}
