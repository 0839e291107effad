package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
)

// Memory guarda todo en memoria, acotado a capacity registros por tipo.
type Memory struct {
	mu       sync.RWMutex
	reports  []SyncReport
	events   []model.CrossChainEvent
	eventIdx map[string]int
	fees     []model.FeeDistribution
	feeKeys  map[string]struct{}
	capacity int
	now      func() time.Time
}

const defaultCapacity = 10000

func NewMemory() *Memory {
	return &Memory{
		eventIdx: map[string]int{},
		feeKeys:  map[string]struct{}{},
		capacity: defaultCapacity,
		now:      time.Now,
	}
}

func (m *Memory) SaveSyncReport(_ context.Context, r model.SyncResult) (SyncReport, error) {
	rep := SyncReport{ID: uuid.NewString(), SyncResult: r, RecordedAt: m.now().UTC()}
	rep.Errors = append([]string(nil), r.Errors...)
	m.mu.Lock()
	m.reports = append(m.reports, rep)
	if len(m.reports) > m.capacity {
		m.reports = m.reports[len(m.reports)-m.capacity:]
	}
	m.mu.Unlock()
	return rep, nil
}

func (m *Memory) ListSyncReports(_ context.Context, limit int) ([]SyncReport, error) {
	limit = clampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SyncReport, 0, min(limit, len(m.reports)))
	for i := len(m.reports) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.reports[i])
	}
	return out, nil
}

func (m *Memory) SaveCrossChainEvent(_ context.Context, ev model.CrossChainEvent) error {
	if ev.EventID == "" {
		return ErrInvalid
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.eventIdx[ev.EventID]; dup {
		return nil
	}
	m.events = append(m.events, ev)
	if len(m.events) > m.capacity {
		m.events = m.events[len(m.events)-m.capacity:]
		m.reindexLocked()
	} else {
		m.eventIdx[ev.EventID] = len(m.events) - 1
	}
	return nil
}

func (m *Memory) reindexLocked() {
	m.eventIdx = make(map[string]int, len(m.events))
	for i, ev := range m.events {
		m.eventIdx[ev.EventID] = i
	}
}

func (m *Memory) ListCrossChainEvents(_ context.Context, f EventFilter) ([]model.CrossChainEvent, error) {
	limit := clampLimit(f.Limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.CrossChainEvent{}
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if f.match(m.events[i]) {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func (m *Memory) GetCrossChainEvent(_ context.Context, eventID string) (*model.CrossChainEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.eventIdx[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	ev := m.events[i]
	return &ev, nil
}

func (m *Memory) RecordFeeDistribution(_ context.Context, d model.FeeDistribution) error {
	if d.ListingID == "" {
		return ErrInvalid
	}
	key := d.LedgerRef + "|" + d.ListingID
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.feeKeys[key]; dup {
		return nil
	}
	m.feeKeys[key] = struct{}{}
	m.fees = append(m.fees, d)
	return nil
}

func (m *Memory) ListFeeDistributions(_ context.Context, listingID string, limit int) ([]model.FeeDistribution, error) {
	limit = clampLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.FeeDistribution{}
	for i := len(m.fees) - 1; i >= 0 && len(out) < limit; i-- {
		if listingID == "" || m.fees[i].ListingID == listingID {
			out = append(out, m.fees[i])
		}
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

var _ Store = (*Memory)(nil)
