package autotrade

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"signal-trader/pkg/logging"
)

// EngineFactory builds the engine for a user.
type EngineFactory func(ctx context.Context, userID string) (*Engine, error)

// MultiUserManager keeps one engine per user and drops idle ones.
type MultiUserManager struct {
	mu       sync.RWMutex
	engines  map[string]*Engine
	lastSeen map[string]time.Time
	factory  EngineFactory
	log      logrus.FieldLogger
}

func NewMultiUserManager(factory EngineFactory, log logrus.FieldLogger) *MultiUserManager {
	return &MultiUserManager{
		engines:  make(map[string]*Engine),
		lastSeen: make(map[string]time.Time),
		factory:  factory,
		log:      logging.OrDiscard(log).WithField("component", "autotrade_users"),
	}
}

// Get returns the user's engine if one exists and refreshes its idle timer.
func (m *MultiUserManager) Get(userID string) (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[userID]
	if ok {
		m.lastSeen[userID] = time.Now()
	}
	return e, ok
}

// GetOrCreate returns the user's engine, building it on first use. The
// factory runs without the manager lock; when two callers race, the first
// engine stored wins.
func (m *MultiUserManager) GetOrCreate(ctx context.Context, userID string) (*Engine, error) {
	if e, ok := m.Get(userID); ok {
		return e, nil
	}
	built, err := m.factory(ctx, userID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen[userID] = time.Now()
	if e, ok := m.engines[userID]; ok {
		return e, nil
	}
	m.engines[userID] = built
	m.log.WithField("user_id", userID).Info("auto-trading engine created")
	return built, nil
}

// Remove drops the user's engine. Open trades stay in the store.
func (m *MultiUserManager) Remove(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.engines, userID)
	delete(m.lastSeen, userID)
}

// Engines implements EngineSet, ordered by user ID.
func (m *MultiUserManager) Engines() []*Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.engines))
	for id := range m.engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*Engine, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.engines[id])
	}
	return out
}

// CleanupIdle drops engines unused for ttl that have auto-trading disabled
// and hold no open trades. Enabled engines stay so they keep receiving
// signals.
func (m *MultiUserManager) CleanupIdle(ctx context.Context, ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	m.mu.RLock()
	idle := make(map[string]*Engine)
	for id, seen := range m.lastSeen {
		if seen.Before(cutoff) {
			idle[id] = m.engines[id]
		}
	}
	m.mu.RUnlock()

	removed := 0
	for id, e := range idle {
		if e != nil {
			if e.Config().Enabled {
				continue
			}
			if open, err := e.store.Count(ctx); err != nil || open > 0 {
				continue
			}
		}
		m.mu.Lock()
		if seen, ok := m.lastSeen[id]; ok && seen.Before(cutoff) && m.engines[id] == e {
			delete(m.engines, id)
			delete(m.lastSeen, id)
			removed++
		}
		m.mu.Unlock()
	}
	if removed > 0 {
		m.log.WithField("removed", removed).Info("idle auto-trading engines dropped")
	}
	return removed
}

// StartCleanup runs CleanupIdle every interval until ctx ends.
func (m *MultiUserManager) StartCleanup(ctx context.Context, interval, ttl time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.CleanupIdle(ctx, ttl)
			}
		}
	}()
}

// ResetDailyMetrics starts a new risk day for every active engine.
func (m *MultiUserManager) ResetDailyMetrics() {
	for _, e := range m.Engines() {
		e.ResetDailyMetrics()
	}
}

// nextUTCMidnight returns the first UTC midnight strictly after t.
func nextUTCMidnight(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d+1, 0, 0, 0, 0, time.UTC)
}

// StartDailyReset resets daily risk metrics at every UTC midnight until ctx
// ends.
func (m *MultiUserManager) StartDailyReset(ctx context.Context) {
	go func() {
		for {
			now := time.Now()
			t := time.NewTimer(nextUTCMidnight(now).Sub(now))
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
				m.ResetDailyMetrics()
				m.log.Info("daily risk metrics reset for all users")
			}
		}
	}()
}

// UserCount returns the number of active engines.
func (m *MultiUserManager) UserCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.engines)
}
