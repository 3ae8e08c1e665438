// Package gateway builds exchange clients and pools them per user and exchange.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"signal-trader/pkg/db"
	exchange "signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/logging"
)

var (
	ErrConnectionNotFound = errors.New("exchange not connected")
	ErrGatewayUnhealthy   = errors.New("exchange client is unhealthy")
	ErrPoolFull           = errors.New("client pool is full")
)

// CredentialSource loads the stored, encrypted credentials of a user.
type CredentialSource interface {
	GetCredential(ctx context.Context, userID, exchange string) (*db.ExchangeCredential, error)
}

// Opener reverses the at-rest encryption of a stored credential row.
type Opener interface {
	OpenCredentials(row db.ExchangeCredential) (exchange.Credentials, error)
}

// CachedClient holds a client with metadata for lifecycle management.
type CachedClient struct {
	Client    exchange.ExchangeClient
	UserID    string
	Exchange  exchange.Exchange
	CreatedAt time.Time
	LastUsed  time.Time
	HealthyAt time.Time
	Failures  int
}

// Config holds configuration for the Manager.
type Config struct {
	MaxSize          int           // Maximum number of cached clients (LRU eviction)
	IdleTimeout      time.Duration // Time before an idle client is removed
	HealthInterval   time.Duration // Interval between health checks
	FailureThreshold int           // Number of failures before marking unhealthy
	CircuitTimeout   time.Duration // Time to wait before retrying an unhealthy client
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxSize:          100,
		IdleTimeout:      30 * time.Minute,
		HealthInterval:   5 * time.Minute,
		FailureThreshold: 3,
		CircuitTimeout:   5 * time.Minute,
	}
}

// Manager manages a pool of exchange clients with LRU eviction, idle
// cleanup and a failure circuit breaker.
type Manager struct {
	mu       sync.RWMutex
	clients  map[string]*CachedClient // userID:exchange -> cached client
	lruOrder []string                 // oldest first

	config   Config
	crypto   Opener
	creds    CredentialSource
	registry *Registry
	log      logrus.FieldLogger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a new Manager.
func NewManager(creds CredentialSource, crypto Opener, registry *Registry, cfg Config, log logrus.FieldLogger) *Manager {
	return &Manager{
		clients:  make(map[string]*CachedClient),
		lruOrder: make([]string, 0),
		config:   cfg,
		crypto:   crypto,
		creds:    creds,
		registry: registry,
		log:      logging.OrDiscard(log).WithField("component", "gateway"),
		stopCh:   make(chan struct{}),
	}
}

func key(userID string, ex exchange.Exchange) string {
	return userID + ":" + string(ex)
}

// Start begins background cleanup and health check goroutines.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(2)

	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.IdleTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.cleanupIdle()
			}
		}
	}()

	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.healthCheckAll(ctx)
			}
		}
	}()
}

// Stop shuts down background work and drops all clients.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients = make(map[string]*CachedClient)
	m.lruOrder = nil
}

// Put caches a freshly validated client, replacing any previous one.
func (m *Manager) Put(userID string, client exchange.ExchangeClient) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(userID, client.Exchange())
	if _, ok := m.clients[k]; ok {
		m.removeLRULocked(k)
	} else if len(m.clients) >= m.config.MaxSize {
		m.evictOldestLocked()
	}
	now := time.Now()
	m.clients[k] = &CachedClient{
		Client:    client,
		UserID:    userID,
		Exchange:  client.Exchange(),
		CreatedAt: now,
		LastUsed:  now,
		HealthyAt: now,
	}
	m.lruOrder = append(m.lruOrder, k)
}

// GetOrCreate returns the cached client, or builds one from stored credentials.
func (m *Manager) GetOrCreate(ctx context.Context, userID string, ex exchange.Exchange) (exchange.ExchangeClient, error) {
	k := key(userID, ex)

	m.mu.RLock()
	if cached, ok := m.clients[k]; ok {
		if cached.Failures >= m.config.FailureThreshold && time.Since(cached.HealthyAt) < m.config.CircuitTimeout {
			m.mu.RUnlock()
			return nil, ErrGatewayUnhealthy
		}
		m.mu.RUnlock()
		m.touchLRU(k)
		return cached.Client, nil
	}
	m.mu.RUnlock()

	return m.createClient(ctx, userID, ex)
}

func (m *Manager) createClient(ctx context.Context, userID string, ex exchange.Exchange) (exchange.ExchangeClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(userID, ex)
	if cached, ok := m.clients[k]; ok {
		m.touchLRULocked(k)
		return cached.Client, nil
	}
	if m.creds == nil {
		return nil, ErrConnectionNotFound
	}

	stored, err := m.creds.GetCredential(ctx, userID, string(ex))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	creds, err := m.decrypt(stored)
	if err != nil {
		return nil, err
	}

	client, err := m.registry.New(creds)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	if len(m.clients) >= m.config.MaxSize {
		if !m.evictOldestLocked() {
			return nil, ErrPoolFull
		}
	}

	now := time.Now()
	m.clients[k] = &CachedClient{
		Client:    client,
		UserID:    userID,
		Exchange:  ex,
		CreatedAt: now,
		LastUsed:  now,
		HealthyAt: now,
	}
	m.lruOrder = append(m.lruOrder, k)
	m.log.WithFields(logrus.Fields{"user_id": userID, "exchange": ex}).Debug("client created from stored credentials")
	return client, nil
}

func (m *Manager) decrypt(stored *db.ExchangeCredential) (exchange.Credentials, error) {
	if m.crypto == nil {
		return exchange.Credentials{}, errors.New("decrypt credentials: no key vault configured")
	}
	return m.crypto.OpenCredentials(*stored)
}

// Remove drops a user's client for one exchange.
func (m *Manager) Remove(userID string, ex exchange.Exchange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(userID, ex)
	if _, ok := m.clients[k]; ok {
		delete(m.clients, k)
		m.removeLRULocked(k)
	}
}

// RemoveByUser removes all clients for a user.
func (m *Manager) RemoveByUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, cached := range m.clients {
		if cached.UserID == userID {
			delete(m.clients, k)
			m.removeLRULocked(k)
		}
	}
}

// RecordFailure records a failure for a client.
func (m *Manager) RecordFailure(userID string, ex exchange.Exchange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.clients[key(userID, ex)]; ok {
		cached.Failures++
		if cached.Failures == m.config.FailureThreshold {
			m.log.WithFields(logrus.Fields{"user_id": userID, "exchange": ex}).Warn("client marked unhealthy")
		}
	}
}

// RecordSuccess resets the failure counter.
func (m *Manager) RecordSuccess(userID string, ex exchange.Exchange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached, ok := m.clients[key(userID, ex)]; ok {
		cached.Failures = 0
		cached.HealthyAt = time.Now()
	}
}

// Stats returns current pool statistics.
func (m *Manager) Stats() PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := PoolStats{
		TotalClients: len(m.clients),
		MaxSize:      m.config.MaxSize,
		ByExchange:   make(map[string]int),
	}
	for _, cached := range m.clients {
		stats.ByExchange[string(cached.Exchange)]++
		if cached.Failures >= m.config.FailureThreshold {
			stats.UnhealthyCount++
		}
	}
	return stats
}

// PoolStats contains client pool statistics.
type PoolStats struct {
	TotalClients   int            `json:"totalClients"`
	MaxSize        int            `json:"maxSize"`
	ByExchange     map[string]int `json:"byExchange"`
	UnhealthyCount int            `json:"unhealthyCount"`
}

// --- Internal helpers ---

func (m *Manager) touchLRU(k string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchLRULocked(k)
}

func (m *Manager) touchLRULocked(k string) {
	if cached, ok := m.clients[k]; ok {
		cached.LastUsed = time.Now()
	}
	for i, id := range m.lruOrder {
		if id == k {
			m.lruOrder = append(m.lruOrder[:i], m.lruOrder[i+1:]...)
			m.lruOrder = append(m.lruOrder, k)
			break
		}
	}
}

func (m *Manager) removeLRULocked(k string) {
	for i, id := range m.lruOrder {
		if id == k {
			m.lruOrder = append(m.lruOrder[:i], m.lruOrder[i+1:]...)
			break
		}
	}
}

func (m *Manager) evictOldestLocked() bool {
	if len(m.lruOrder) == 0 {
		return false
	}
	oldest := m.lruOrder[0]
	delete(m.clients, oldest)
	m.lruOrder = m.lruOrder[1:]
	return true
}

func (m *Manager) cleanupIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for k, cached := range m.clients {
		if now.Sub(cached.LastUsed) > m.config.IdleTimeout {
			delete(m.clients, k)
			m.removeLRULocked(k)
		}
	}
}

func (m *Manager) healthCheckAll(ctx context.Context) {
	m.mu.RLock()
	targets := make([]*CachedClient, 0, len(m.clients))
	for _, cached := range m.clients {
		targets = append(targets, cached)
	}
	m.mu.RUnlock()

	for _, cached := range targets {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		ok := cached.Client.ValidateCredentials(checkCtx)
		cancel()
		if ok {
			m.RecordSuccess(cached.UserID, cached.Exchange)
		} else {
			m.RecordFailure(cached.UserID, cached.Exchange)
		}
	}
}
