// Package pause tracks the temporary pause sets: per-identity code
// destruction pauses and the global notification pause. Entries expire on
// their own after the configured TTL.
package pause

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// DefaultTTL is the auto-expiry applied to every pause.
const DefaultTTL = 5 * time.Minute

const notifyKey = "pause:notify"

func destroyKey(identity int64) string {
	return fmt.Sprintf("pause:destroy:%d", identity)
}

// Registry holds both pause sets. State lives in memory; when a redis client
// is supplied the same keys are mirrored there with a TTL so pauses survive
// a supervised restart.
type Registry struct {
	rdb *redis.Client
	ttl time.Duration
	log *logrus.Entry

	mu          sync.Mutex
	destroy     map[int64]time.Time
	notifyUntil time.Time
}

// NewRegistry creates a Registry. rdb may be nil; ttl <= 0 selects
// DefaultTTL.
func NewRegistry(rdb *redis.Client, ttl time.Duration, log *logrus.Entry) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Registry{
		rdb:     rdb,
		ttl:     ttl,
		log:     log.WithField("component", "pause-registry"),
		destroy: make(map[int64]time.Time),
	}
}

// PauseDestroy suspends code destruction for identity until the TTL lapses.
func (r *Registry) PauseDestroy(ctx context.Context, identity int64) {
	r.mu.Lock()
	r.destroy[identity] = time.Now().Add(r.ttl)
	r.mu.Unlock()
	if r.rdb != nil {
		if err := r.rdb.Set(ctx, destroyKey(identity), "1", r.ttl).Err(); err != nil {
			r.log.Warnf("redis pause mirror failed for %d: %v", identity, err)
		}
	}
	r.log.Infof("code destruction paused for %d (%s)", identity, r.ttl)
}

// ResumeDestroy lifts the pause before its natural expiry.
func (r *Registry) ResumeDestroy(ctx context.Context, identity int64) {
	r.mu.Lock()
	delete(r.destroy, identity)
	r.mu.Unlock()
	if r.rdb != nil {
		if err := r.rdb.Del(ctx, destroyKey(identity)).Err(); err != nil {
			r.log.Warnf("redis pause clear failed for %d: %v", identity, err)
		}
	}
}

// DestroyPaused reports whether destruction is currently paused for identity.
func (r *Registry) DestroyPaused(ctx context.Context, identity int64) bool {
	r.mu.Lock()
	until, ok := r.destroy[identity]
	if ok && time.Now().After(until) {
		delete(r.destroy, identity)
		ok = false
	}
	r.mu.Unlock()
	if ok {
		return true
	}
	if r.rdb != nil {
		n, err := r.rdb.Exists(ctx, destroyKey(identity)).Result()
		if err != nil {
			r.log.Warnf("redis pause check failed for %d: %v", identity, err)
			return false
		}
		return n > 0
	}
	return false
}

// PauseNotifications sets the global notification pause flag.
func (r *Registry) PauseNotifications(ctx context.Context) {
	r.mu.Lock()
	r.notifyUntil = time.Now().Add(r.ttl)
	r.mu.Unlock()
	if r.rdb != nil {
		if err := r.rdb.Set(ctx, notifyKey, "1", r.ttl).Err(); err != nil {
			r.log.Warnf("redis notify pause mirror failed: %v", err)
		}
	}
	r.log.Infof("notifications paused (%s)", r.ttl)
}

// ResumeNotifications clears the global notification pause flag.
func (r *Registry) ResumeNotifications(ctx context.Context) {
	r.mu.Lock()
	r.notifyUntil = time.Time{}
	r.mu.Unlock()
	if r.rdb != nil {
		if err := r.rdb.Del(ctx, notifyKey).Err(); err != nil {
			r.log.Warnf("redis notify pause clear failed: %v", err)
		}
	}
}

// NotificationsPaused reports the global notification pause state.
func (r *Registry) NotificationsPaused(ctx context.Context) bool {
	r.mu.Lock()
	paused := time.Now().Before(r.notifyUntil)
	r.mu.Unlock()
	if paused {
		return true
	}
	if r.rdb != nil {
		n, err := r.rdb.Exists(ctx, notifyKey).Result()
		if err != nil {
			r.log.Warnf("redis notify pause check failed: %v", err)
			return false
		}
		return n > 0
	}
	return false
}
