// Package memledger simula en memoria los dos ledgers para desarrollo y tests.
// Cada mutación emite el RawEvent correspondiente a los suscriptores, en orden.
package memledger

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
)

// feed reparte eventos a suscriptores sin perder ninguno: cada suscriptor
// tiene una cola propia y una goroutine que la vacía en su canal.
type feed struct {
	mu   sync.Mutex
	subs map[*sub]struct{}
}

type sub struct {
	mu      sync.Mutex
	cond    *sync.Cond
	pending []ledger.RawEvent
	closed  bool
	once    sync.Once
	done    chan struct{}
}

func newFeed() *feed {
	return &feed{subs: map[*sub]struct{}{}}
}

func (f *feed) subscribe(ctx context.Context) <-chan ledger.RawEvent {
	s := &sub{done: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	out := make(chan ledger.RawEvent)

	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			f.remove(s)
		case <-s.done:
		}
	}()
	go s.pump(ctx, out)
	return out
}

func (s *sub) pump(ctx context.Context, out chan<- ledger.RawEvent) {
	defer close(out)
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed && len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (s *sub) close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cond.Broadcast()
		close(s.done)
	})
}

func (f *feed) remove(s *sub) {
	f.mu.Lock()
	delete(f.subs, s)
	f.mu.Unlock()
	s.close()
}

func (f *feed) publish(ev ledger.RawEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		s.mu.Lock()
		if !s.closed {
			s.pending = append(s.pending, ev)
		}
		s.mu.Unlock()
		s.cond.Signal()
	}
}

// closeAll cierra todas las suscripciones (Disconnect).
func (f *feed) closeAll() {
	f.mu.Lock()
	subs := f.subs
	f.subs = map[*sub]struct{}{}
	f.mu.Unlock()
	for s := range subs {
		s.close()
	}
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
