// Package lock guards against overlapping scheduled runs with a Redis lock:
// SETNX with a TTL, refreshed by a heartbeat while the run is alive, released
// only by its owner. A crashed run frees itself when the TTL lapses.
package lock

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// refreshScript extends the TTL only when the caller still owns the key.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

type RunLock struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
	logger *log.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// Acquire takes the lock or reports it busy. On success a heartbeat goroutine
// keeps the TTL alive until Release.
func Acquire(ctx context.Context, client *redis.Client, key string, ttl time.Duration, logger *log.Logger) (*RunLock, bool, error) {
	owner := uuid.NewString()
	ok, err := client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	heartbeatCtx, cancel := context.WithCancel(context.Background())
	l := &RunLock{
		client: client,
		key:    key,
		owner:  owner,
		ttl:    ttl,
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go l.heartbeat(heartbeatCtx)
	return l, true, nil
}

func (l *RunLock) heartbeat(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kept, err := refreshScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int()
			if err != nil && ctx.Err() == nil {
				if l.logger != nil {
					l.logger.Printf("lock: refresh failed for %s: %v", l.key, err)
				}
				continue
			}
			if kept == 0 && ctx.Err() == nil {
				// Lost ownership, e.g. the key expired during a long stall.
				if l.logger != nil {
					l.logger.Printf("lock: ownership of %s lost", l.key)
				}
				return
			}
		}
	}
}

// Release stops the heartbeat and deletes the key if still owned.
func (l *RunLock) Release(ctx context.Context) {
	l.cancel()
	<-l.done
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Result(); err != nil && l.logger != nil {
		l.logger.Printf("lock: release failed for %s: %v", l.key, err)
	}
}
