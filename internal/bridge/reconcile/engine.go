// Package reconcile re-valida periódicamente todas las identidades verificadas
// y produce un SyncResult por corrida. Nunca propaga errores al caller.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
	"github.com/dropDatabas3/datasov-bridge/internal/bridge/proof"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/metrics"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

// Enumerator lista las identidades conocidas del ledger de identidades.
type Enumerator interface {
	ListIdentities(ctx context.Context) ([]ledger.IdentityRecord, error)
}

// Deps contains dependencies for the engine.
type Deps struct {
	Identities Enumerator
	Proofs     proof.Service
	// Opcionales.
	Events model.LifecyclePublisher
	Now    func() time.Time
}

// Engine ejecuta corridas de reconciliación, de a una por vez.
type Engine struct {
	deps Deps
	mu   sync.Mutex
}

func NewEngine(deps Deps) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{deps: deps}
}

// Run ejecuta una corrida; si hay otra en curso espera a que termine.
func (e *Engine) Run(ctx context.Context, trigger string) model.SyncResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run(ctx, trigger)
}

// TryRun ejecuta una corrida solo si no hay otra en curso.
func (e *Engine) TryRun(ctx context.Context, trigger string) (model.SyncResult, bool) {
	if !e.mu.TryLock() {
		return model.SyncResult{}, false
	}
	defer e.mu.Unlock()
	return e.run(ctx, trigger), true
}

func (e *Engine) run(ctx context.Context, trigger string) model.SyncResult {
	log := logger.From(ctx).With(
		logger.Layer("bridge"),
		logger.Component("reconcile"),
		logger.Op("Run"),
		logger.String("trigger", trigger),
	)

	startedAt := e.deps.Now().UTC()
	e.publish(model.BridgeEvent{Type: model.EventSyncStarted, Timestamp: startedAt, Data: map[string]any{"trigger": trigger}})

	identities, err := e.enumerate(ctx)
	if err != nil {
		// falla antes de iterar: resultado bien formado, duración 0
		res := model.SyncResult{
			Success:     false,
			FailedCount: 1,
			Errors:      []string{fmt.Sprintf("enumerate identities: %v", err)},
			StartedAt:   startedAt,
			Trigger:     trigger,
		}
		log.Error("reconciliation aborted", logger.Err(err))
		e.finish(res)
		return res
	}

	res := model.SyncResult{StartedAt: startedAt, Trigger: trigger, Errors: []string{}}
	for _, rec := range identities {
		if rec.Status != ledger.StatusVerified {
			continue
		}
		if err := e.syncOne(ctx, rec.ID); err != nil {
			res.FailedCount++
			res.Errors = append(res.Errors, err.Error())
			log.Warn("identity reconciliation failed", logger.IdentityID(rec.ID), logger.Err(err))
			continue
		}
		res.SyncedCount++
	}
	res.Success = res.FailedCount == 0
	res.Duration = e.deps.Now().Sub(startedAt)

	log.Info("reconciliation finished",
		logger.Int("synced", res.SyncedCount),
		logger.Int("failed", res.FailedCount),
		logger.Duration(res.Duration),
	)
	e.finish(res)
	return res
}

func (e *Engine) enumerate(ctx context.Context) (recs []ledger.IdentityRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.deps.Identities.ListIdentities(ctx)
}

// syncOne aísla el fallo (error o panic) de una identidad.
func (e *Engine) syncOne(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("identity %s: panic: %v", id, r)
		}
	}()

	p, err := e.deps.Proofs.GenerateIdentityProof(ctx, id)
	if err != nil {
		return fmt.Errorf("identity %s: generate proof: %w", id, err)
	}
	out := e.deps.Proofs.ValidateIdentityProof(ctx, *p)
	if !out.Valid {
		return fmt.Errorf("identity %s: %s: %v", id, out.Reason, out.Errors)
	}
	return nil
}

func (e *Engine) finish(res model.SyncResult) {
	result := "success"
	typ := model.EventSyncCompleted
	if !res.Success {
		result = "failed"
		typ = model.EventSyncFailed
	}
	metrics.ReconciliationRuns.WithLabelValues(result).Inc()
	metrics.ReconciliationDuration.Observe(res.Duration.Seconds())
	metrics.ReconciliationIdentities.WithLabelValues("synced").Set(float64(res.SyncedCount))
	metrics.ReconciliationIdentities.WithLabelValues("failed").Set(float64(res.FailedCount))

	r := res
	e.publish(model.BridgeEvent{Type: typ, Timestamp: e.deps.Now().UTC(), Sync: &r})
}

func (e *Engine) publish(ev model.BridgeEvent) {
	if e.deps.Events != nil {
		e.deps.Events.Publish(ev)
	}
}
