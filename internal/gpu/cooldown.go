package gpu

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownStore gates how often the dispatcher is allowed to act on a scale
// decision: after scaling, a cooldown window suppresses further scale-up and
// scale-down decisions alike, and after an emergency the worker pool is
// paused entirely for a longer window.
type CooldownStore interface {
	InCooldown(ctx context.Context) (bool, error)
	SetCooldown(ctx context.Context, d time.Duration) error
	InEmergencyPause(ctx context.Context) (bool, error)
	SetEmergencyPause(ctx context.Context, d time.Duration) error
}

const (
	cooldownKey = "floorwatch:gpu:cooldown"
	pauseKey    = "floorwatch:gpu:emergency_pause"
)

// RedisCooldownStore persists cooldown/pause state in Redis so it survives
// a floorwatchd restart and is visible to any other process sharing the
// instance. Uses the same atomic SET-with-expiry idiom as the login rate
// limiter: a single round trip that both marks the key and bounds its
// lifetime, no separate EXPIRE call that could race.
type RedisCooldownStore struct {
	client *redis.Client
}

func NewRedisCooldownStore(client *redis.Client) *RedisCooldownStore {
	return &RedisCooldownStore{client: client}
}

func (r *RedisCooldownStore) InCooldown(ctx context.Context) (bool, error) {
	return r.exists(ctx, cooldownKey)
}

func (r *RedisCooldownStore) SetCooldown(ctx context.Context, d time.Duration) error {
	return r.client.Set(ctx, cooldownKey, "1", d).Err()
}

func (r *RedisCooldownStore) InEmergencyPause(ctx context.Context) (bool, error) {
	return r.exists(ctx, pauseKey)
}

func (r *RedisCooldownStore) SetEmergencyPause(ctx context.Context, d time.Duration) error {
	return r.client.Set(ctx, pauseKey, "1", d).Err()
}

func (r *RedisCooldownStore) exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InProcessCooldownStore is the fallback used when Redis is unreachable -
// a single-process appliance still needs the cooldown invariant even if its
// optional Redis sidecar is down. State does not survive a restart, which is
// an acceptable gap: a restart already resets the worker pool to its
// minimum size.
type InProcessCooldownStore struct {
	mu            sync.Mutex
	cooldownUntil time.Time
	pauseUntil    time.Time
}

func NewInProcessCooldownStore() *InProcessCooldownStore {
	return &InProcessCooldownStore{}
}

func (s *InProcessCooldownStore) InCooldown(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.cooldownUntil), nil
}

func (s *InProcessCooldownStore) SetCooldown(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldownUntil = time.Now().Add(d)
	return nil
}

func (s *InProcessCooldownStore) InEmergencyPause(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Now().Before(s.pauseUntil), nil
}

func (s *InProcessCooldownStore) SetEmergencyPause(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseUntil = time.Now().Add(d)
	return nil
}

// FallbackCooldownStore tries primary first and falls back to secondary on
// any primary error. The fallback is silent: neither this type nor Monitor
// logs it.
type FallbackCooldownStore struct {
	primary   CooldownStore
	secondary CooldownStore
}

func NewFallbackCooldownStore(primary, secondary CooldownStore) *FallbackCooldownStore {
	return &FallbackCooldownStore{primary: primary, secondary: secondary}
}

func (f *FallbackCooldownStore) InCooldown(ctx context.Context) (bool, error) {
	if v, err := f.primary.InCooldown(ctx); err == nil {
		return v, nil
	}
	return f.secondary.InCooldown(ctx)
}

func (f *FallbackCooldownStore) SetCooldown(ctx context.Context, d time.Duration) error {
	if err := f.primary.SetCooldown(ctx, d); err == nil {
		return nil
	}
	return f.secondary.SetCooldown(ctx, d)
}

func (f *FallbackCooldownStore) InEmergencyPause(ctx context.Context) (bool, error) {
	if v, err := f.primary.InEmergencyPause(ctx); err == nil {
		return v, nil
	}
	return f.secondary.InEmergencyPause(ctx)
}

func (f *FallbackCooldownStore) SetEmergencyPause(ctx context.Context, d time.Duration) error {
	if err := f.primary.SetEmergencyPause(ctx, d); err == nil {
		return nil
	}
	return f.secondary.SetEmergencyPause(ctx, d)
}
