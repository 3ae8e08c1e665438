package state

import (
	"context"
	"sort"
	"sync"

	"signal-trader/internal/order"
)

// MemoryStore is a process-local OpenTradeStore.
type MemoryStore struct {
	mu      sync.RWMutex
	open    map[string]string // symbol -> trade id
	trades  map[string]order.TradeExecution
	ordered []string // trade ids by insertion
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		open:   make(map[string]string),
		trades: make(map[string]order.TradeExecution),
	}
}

func (s *MemoryStore) Open(_ context.Context, trade order.TradeExecution, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.open[trade.Symbol]; ok {
		return ErrSymbolOpen
	}
	if len(s.open) >= max {
		return ErrCapacity
	}
	s.open[trade.Symbol] = trade.ID
	s.trades[trade.ID] = trade.Clone()
	s.ordered = append(s.ordered, trade.ID)
	return nil
}

func (s *MemoryStore) Close(_ context.Context, symbol string, c Closing) (order.TradeExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.open[symbol]
	if !ok {
		return order.TradeExecution{}, ErrNotOpen
	}
	closed := closeTrade(s.trades[id], c)
	s.trades[id] = closed
	delete(s.open, symbol)
	return closed.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, symbol string) (order.TradeExecution, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.open[symbol]
	if !ok {
		return order.TradeExecution{}, false, nil
	}
	return s.trades[id].Clone(), true, nil
}

func (s *MemoryStore) List(_ context.Context) ([]order.TradeExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]order.TradeExecution, 0, len(s.open))
	for _, id := range s.open {
		out = append(out, s.trades[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.open), nil
}

func (s *MemoryStore) History(_ context.Context) ([]order.TradeExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]order.TradeExecution, 0, len(s.ordered))
	for _, id := range s.ordered {
		out = append(out, s.trades[id].Clone())
	}
	return out, nil
}
