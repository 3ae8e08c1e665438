package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"signal-trader/internal/gateway"
)

// SystemMetrics holds in-process counters for the trading path.
type SystemMetrics struct {
	// OrderLatency records exchange order round trips.
	OrderLatency *LatencyHistogram

	signalsReceived atomic.Uint64
	ticksProcessed  atomic.Uint64
	ordersPlaced    atomic.Uint64
	ordersFailed    atomic.Uint64
	feedDown        atomic.Uint64

	mu           sync.RWMutex
	rejections   map[string]uint64
	closes       map[string]uint64
	gatewayStats gateway.PoolStats
	activeUsers  int
	started      time.Time
}

func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		OrderLatency: NewLatencyHistogram(1000),
		rejections:   make(map[string]uint64),
		closes:       make(map[string]uint64),
		started:      time.Now(),
	}
}

func (m *SystemMetrics) SignalReceived() { m.signalsReceived.Add(1) }
func (m *SystemMetrics) TickProcessed()  { m.ticksProcessed.Add(1) }
func (m *SystemMetrics) OrderFailed()    { m.ordersFailed.Add(1) }
func (m *SystemMetrics) FeedDown()       { m.feedDown.Add(1) }

// OrderPlaced counts a successful order and its latency.
func (m *SystemMetrics) OrderPlaced(latency time.Duration) {
	m.ordersPlaced.Add(1)
	m.OrderLatency.RecordDuration(latency)
}

// Rejected counts a gate rejection by reason code.
func (m *SystemMetrics) Rejected(reason string) {
	m.mu.Lock()
	m.rejections[reason]++
	m.mu.Unlock()
}

// TradeClosed counts a close by reason (MANUAL, STOP_LOSS, TAKE_PROFIT).
func (m *SystemMetrics) TradeClosed(reason string) {
	m.mu.Lock()
	m.closes[reason]++
	m.mu.Unlock()
}

func (m *SystemMetrics) SetGatewayPoolStats(stats gateway.PoolStats) {
	m.mu.Lock()
	m.gatewayStats = stats
	m.mu.Unlock()
}

func (m *SystemMetrics) SetActiveUsers(n int) {
	m.mu.Lock()
	m.activeUsers = n
	m.mu.Unlock()
}

// MetricsSnapshot is what /api/metrics returns.
type MetricsSnapshot struct {
	SignalsReceived uint64            `json:"signalsReceived"`
	TicksProcessed  uint64            `json:"ticksProcessed"`
	OrdersPlaced    uint64            `json:"ordersPlaced"`
	OrdersFailed    uint64            `json:"ordersFailed"`
	FeedDownEvents  uint64            `json:"feedDownEvents"`
	Rejections      map[string]uint64 `json:"rejections"`
	Closes          map[string]uint64 `json:"closes"`
	OrderLatency    LatencyStats      `json:"orderLatencyMs"`
	GatewayPool     gateway.PoolStats `json:"gatewayPool"`
	ActiveUsers     int               `json:"activeUsers"`
	EventsDropped   uint64            `json:"eventsDropped"`
	GoroutineCount  int               `json:"goroutines"`
	HeapAlloc       uint64            `json:"heapAllocBytes"`
	Uptime          string            `json:"uptime"`
	Timestamp       time.Time         `json:"timestamp"`
}

func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.mu.RLock()
	rej := make(map[string]uint64, len(m.rejections))
	for k, v := range m.rejections {
		rej[k] = v
	}
	closes := make(map[string]uint64, len(m.closes))
	for k, v := range m.closes {
		closes[k] = v
	}
	gw, users := m.gatewayStats, m.activeUsers
	m.mu.RUnlock()

	return MetricsSnapshot{
		SignalsReceived: m.signalsReceived.Load(),
		TicksProcessed:  m.ticksProcessed.Load(),
		OrdersPlaced:    m.ordersPlaced.Load(),
		OrdersFailed:    m.ordersFailed.Load(),
		FeedDownEvents:  m.feedDown.Load(),
		Rejections:      rej,
		Closes:          closes,
		OrderLatency:    m.OrderLatency.Stats(),
		GatewayPool:     gw,
		ActiveUsers:     users,
		GoroutineCount:  runtime.NumGoroutine(),
		HeapAlloc:       mem.HeapAlloc,
		Uptime:          time.Since(m.started).Round(time.Second).String(),
		Timestamp:       time.Now(),
	}
}

// LatencyHistogram keeps the last N samples in a ring.
type LatencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	next    int
	full    bool
}

func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{samples: make([]float64, size)}
}

// RecordDuration stores d in milliseconds.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.mu.Lock()
	h.samples[h.next] = float64(d.Microseconds()) / 1000
	h.next = (h.next + 1) % len(h.samples)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
}

// LatencyStats summarises a histogram in milliseconds.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	n := h.next
	if h.full {
		n = len(h.samples)
	}
	sorted := append([]float64(nil), h.samples[:n]...)
	h.mu.Unlock()

	if n == 0 {
		return LatencyStats{}
	}
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
}
