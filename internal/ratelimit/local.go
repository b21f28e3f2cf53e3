package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reelay/reelay/internal/clock"
)

// LocalGate is the single-process Gate used when redis is not configured.
// Leases expire lazily on the next acquire attempt.
type LocalGate struct {
	clk clock.Clock

	mu   sync.Mutex
	held map[string]localLease
}

type localLease struct {
	token   string
	expires time.Time
}

var _ Gate = (*LocalGate)(nil)

func NewLocalGate(clk clock.Clock) *LocalGate {
	return &LocalGate{
		clk:  clk,
		held: make(map[string]localLease),
	}
}

func (g *LocalGate) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clk.Now()
	if lease, ok := g.held[key]; ok && now.Before(lease.expires) {
		return "", false, nil
	}

	token := uuid.NewString()
	g.held[key] = localLease{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (g *LocalGate) Release(_ context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if lease, ok := g.held[key]; ok && lease.token == token {
		delete(g.held, key)
	}
	return nil
}
