package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Ping proves the store accepts writes, not just connections.
func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	key := "health_check_" + time.Now().Format(time.RFC3339Nano)
	if err := r.client.Set(ctx, key, "ok", 5*time.Second).Err(); err != nil {
		return errors.Wrap(err, "ping set")
	}
	return errors.Wrap(r.client.Del(ctx, key).Err(), "ping del")
}
