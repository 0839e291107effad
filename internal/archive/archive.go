// Package archive persiste en el store lo que el bridge emite: cada
// CrossChainEvent y el SyncResult de cada corrida de reconciliación terminada.
package archive

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
	"github.com/dropDatabas3/datasov-bridge/internal/store"
)

// Source son los streams del bridge. *bridge.Bridge lo implementa.
type Source interface {
	SubscribeCrossChain(buffer int) (<-chan model.CrossChainEvent, func())
	SubscribeLifecycle(buffer int) (<-chan model.BridgeEvent, func())
}

// Archiver consume ambos streams hasta Stop o hasta que los streams se cierren.
type Archiver struct {
	src    Source
	st     store.Store
	buffer int
	// timeout por escritura
	timeout time.Duration

	mu      sync.Mutex
	cancels []func()
	wg      sync.WaitGroup
}

func New(src Source, st store.Store, buffer int) *Archiver {
	if buffer <= 0 {
		buffer = 256
	}
	return &Archiver{src: src, st: st, buffer: buffer, timeout: 5 * time.Second}
}

// Start se suscribe a ambos streams y arranca los consumidores.
func (a *Archiver) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	log := logger.From(ctx).With(logger.Layer("archive"), logger.Component("archiver"))

	events, cancelEvents := a.src.SubscribeCrossChain(a.buffer)
	lifecycle, cancelLifecycle := a.src.SubscribeLifecycle(a.buffer)
	a.mu.Lock()
	a.cancels = append(a.cancels, cancelEvents, cancelLifecycle)
	a.mu.Unlock()

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		for ev := range events {
			wctx, cancel := context.WithTimeout(ctx, a.timeout)
			if err := a.st.SaveCrossChainEvent(wctx, ev); err != nil {
				log.Warn("archive event failed", logger.EventID(ev.EventID), logger.Err(err))
			}
			cancel()
		}
	}()
	go func() {
		defer a.wg.Done()
		for ev := range lifecycle {
			if ev.Sync == nil || (ev.Type != model.EventSyncCompleted && ev.Type != model.EventSyncFailed) {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, a.timeout)
			if _, err := a.st.SaveSyncReport(wctx, *ev.Sync); err != nil {
				log.Warn("archive sync report failed", logger.Err(err))
			}
			cancel()
		}
	}()
}

// Stop cancela las suscripciones y espera a que se drene lo recibido.
func (a *Archiver) Stop() {
	a.mu.Lock()
	cancels := a.cancels
	a.cancels = nil
	a.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	a.wg.Wait()
}
