package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

// Scheduler dispara corridas del Engine a intervalo fijo.
// Un tick con una corrida en curso se saltea.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	onResult func(model.SyncResult)

	mu       sync.Mutex
	stopped  bool
	stopCh   chan struct{}
	inflight sync.WaitGroup
	loopDone chan struct{}
}

// NewScheduler crea un scheduler. onResult puede ser nil.
func NewScheduler(e *Engine, interval time.Duration, onResult func(model.SyncResult)) *Scheduler {
	return &Scheduler{engine: e, interval: interval, onResult: onResult}
}

// Start arranca el ticker. Las corridas no se cancelan con ctx: una corrida
// en vuelo siempre termina.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopped = false
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.loop(context.WithoutCancel(ctx), s.stopCh, s.loopDone)
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if !s.begin() {
				return
			}
			go s.tick(ctx)
		}
	}
}

// begin registra una corrida salvo que el scheduler ya esté detenido.
// Stop toma el mismo lock, así que después de Stop no arranca ninguna corrida nueva.
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Scheduler) tick(ctx context.Context) {
	defer s.inflight.Done()
	res, ran := s.engine.TryRun(ctx, "schedule")
	if !ran {
		logger.From(ctx).Debug("reconciliation tick skipped, run in flight", logger.Component("reconcile"))
		return
	}
	if s.onResult != nil {
		s.onResult(res)
	}
}

// Stop limpia el timer. No espera a la corrida en curso (ver Wait).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	done := s.loopDone
	s.stopCh = nil
	s.mu.Unlock()
	<-done
}

// Wait bloquea hasta que terminen las corridas programadas en curso.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}
