// Package events consume los streams de ambos ledgers, ejecuta la acción de
// bridge de cada evento y emite un CrossChainEvent por evento manejado.
//
// Ciclo por evento: Received -> Classified -> Dispatched -> Emitted. No hay
// reintentos: una acción fallida viaja en details["error"] y el ledger de origen
// sigue siendo el registro; la reconciliación recupera lo perdido.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/bridgeerr"
	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
	"github.com/dropDatabas3/datasov-bridge/internal/jwt"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/metrics"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

// IdentityCache es el cache de identidades que el router invalida o refresca.
type IdentityCache interface {
	Invalidate(ctx context.Context, id string)
	Refresh(ctx context.Context, id string) (*ledger.IdentityRecord, error)
}

// FeeRecorder persiste las distribuciones de fees.
type FeeRecorder interface {
	RecordFeeDistribution(ctx context.Context, d model.FeeDistribution) error
}

// Signer firma el sobre de un CrossChainEvent. *jwt.Signer lo implementa.
type Signer interface {
	SignEnvelope(c jwt.EnvelopeClaims) (string, error)
}

// Deps contains dependencies for the router.
type Deps struct {
	Identity   ledger.IdentityLedger
	Trading    ledger.TradingLedger
	CrossChain model.CrossChainPublisher

	// Opcionales.
	Cache     IdentityCache
	Fees      FeeRecorder
	Signer    Signer
	Lifecycle model.LifecyclePublisher
	Now       func() time.Time
}

// SubscribeError indica qué cadena no aceptó la suscripción.
type SubscribeError struct {
	Chain string
	Err   error
}

func (e *SubscribeError) Error() string { return fmt.Sprintf("subscribe %s: %v", e.Chain, e.Err) }
func (e *SubscribeError) Unwrap() error { return e.Err }

type route struct {
	origin string
	kind   string
}

type action func(ctx context.Context, ev any) (map[string]any, error)

// Router une los dos streams de entrada en una sola tabla de dispatch.
type Router struct {
	deps   Deps
	routes map[route]action
	// kinds que, manejados con éxito, cambian estado visible del bridge
	stateful map[route]bool
	seq      map[string]*atomic.Uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewRouter arma el router con su tabla de dispatch.
func NewRouter(deps Deps) *Router {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	r := &Router{
		deps: deps,
		seq: map[string]*atomic.Uint64{
			ledger.ChainIdentity: {},
			ledger.ChainTrading:  {},
		},
	}
	id, tr := ledger.ChainIdentity, ledger.ChainTrading
	r.routes = map[route]action{
		{id, ledger.KindIdentityRegistered}: passThrough,
		{id, ledger.KindIdentityUpdated}:    passThrough,
		{id, ledger.KindIdentityVerified}:   on(r.identityVerified),
		{id, ledger.KindIdentityRevoked}:    on(r.identityRevoked),
		{id, ledger.KindAccessGranted}:      on(r.accessGranted),
		{id, ledger.KindAccessRevoked}:      on(r.accessRevoked),
		{tr, ledger.KindDataPurchased}:      on(r.dataPurchased),
		{tr, ledger.KindFeeDistributed}:     on(r.feeDistributed),
	}
	r.stateful = map[route]bool{
		{id, ledger.KindIdentityVerified}: true,
		{id, ledger.KindIdentityRevoked}:  true,
		{id, ledger.KindAccessGranted}:    true,
		{id, ledger.KindAccessRevoked}:    true,
		{tr, ledger.KindDataPurchased}:    true,
	}
	return r
}

// on adapta un handler tipado a la tabla de dispatch.
func on[T any](fn func(context.Context, T) (map[string]any, error)) action {
	return func(ctx context.Context, ev any) (map[string]any, error) {
		t, ok := ev.(T)
		if !ok {
			return nil, fmt.Errorf("unexpected event variant %T", ev)
		}
		return fn(ctx, t)
	}
}

func passThrough(context.Context, any) (map[string]any, error) { return nil, nil }

// Start suscribe ambos streams y arranca la goroutine de dispatch.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	idCh, err := r.deps.Identity.Subscribe(runCtx)
	if err != nil {
		cancel()
		return &SubscribeError{Chain: ledger.ChainIdentity, Err: err}
	}
	trCh, err := r.deps.Trading.Subscribe(runCtx)
	if err != nil {
		cancel()
		return &SubscribeError{Chain: ledger.ChainTrading, Err: err}
	}

	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	go r.loop(runCtx, idCh, trCh, r.done)
	return nil
}

// Stop cancela las suscripciones y espera a que termine el evento en curso.
func (r *Router) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.running = false
	r.mu.Unlock()

	cancel()
	<-done
}

func (r *Router) loop(ctx context.Context, idCh, trCh <-chan ledger.RawEvent, done chan struct{}) {
	defer close(done)
	log := logger.From(ctx).With(logger.Layer("bridge"), logger.Component("events"))

	for idCh != nil || trCh != nil {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-idCh:
			if !ok {
				idCh = nil
				r.sourceClosed(ctx, log, ledger.ChainIdentity)
				continue
			}
			r.HandleIdentity(ctx, raw)
		case raw, ok := <-trCh:
			if !ok {
				trCh = nil
				r.sourceClosed(ctx, log, ledger.ChainTrading)
				continue
			}
			r.HandleTrading(ctx, raw)
		}
	}
}

func (r *Router) sourceClosed(ctx context.Context, log *zap.Logger, chain string) {
	if ctx.Err() != nil {
		return
	}
	log.Error("ledger event stream closed", logger.Chain(chain),
		logger.Err(bridgeerr.ConnectionLost(chain, nil)))
}

// HandleIdentity maneja un evento del ledger de identidades y retorna el CrossChainEvent emitido.
func (r *Router) HandleIdentity(ctx context.Context, raw ledger.RawEvent) model.CrossChainEvent {
	ev, err := ledger.DecodeIdentityEvent(raw)
	return r.handle(ctx, ledger.ChainIdentity, raw, ev, err)
}

// HandleTrading maneja un evento del ledger de trading y retorna el CrossChainEvent emitido.
func (r *Router) HandleTrading(ctx context.Context, raw ledger.RawEvent) model.CrossChainEvent {
	ev, err := ledger.DecodeTradingEvent(raw)
	return r.handle(ctx, ledger.ChainTrading, raw, ev, err)
}

func (r *Router) handle(ctx context.Context, origin string, raw ledger.RawEvent, decoded any, decodeErr error) model.CrossChainEvent {
	ctx = logger.WithEvent(ctx, origin, raw.IdentityID)
	log := logger.From(ctx).With(
		logger.Layer("bridge"),
		logger.Component("events"),
		logger.EventKind(raw.Kind),
	)

	key := route{origin, raw.Kind}
	details := payloadDetails(raw)
	err := decodeErr
	if err == nil {
		act, ok := r.routes[key]
		if !ok {
			act = passThrough
			log.Debug("unknown event kind, passing through")
		}
		var extra map[string]any
		extra, err = r.dispatch(ctx, act, decoded)
		for k, v := range extra {
			details[k] = v
		}
	}

	outcome := "ok"
	if err != nil {
		outcome = "failed"
		details["error"] = err.Error()
		log.Warn("event dispatch failed, dropping", logger.Err(err))
	}

	ev := r.envelope(ctx, origin, raw, details)
	r.deps.CrossChain.Publish(ev)
	metrics.CrossChainEvents.WithLabelValues(origin, raw.Kind, outcome).Inc()
	log.Debug("cross-chain event emitted", logger.EventID(ev.EventID), logger.String("outcome", outcome))

	if err == nil && r.stateful[key] && r.deps.Lifecycle != nil {
		r.deps.Lifecycle.Publish(model.BridgeEvent{
			Type:       model.EventStateUpdated,
			IdentityID: raw.IdentityID,
			Timestamp:  r.deps.Now().UTC(),
			Data: map[string]any{
				"origin":  origin,
				"kind":    raw.Kind,
				"eventId": ev.EventID,
			},
		})
	}
	return ev
}

// dispatch contiene panics de los handlers; un evento nunca tumba el loop.
func (r *Router) dispatch(ctx context.Context, act action, ev any) (details map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return act(ctx, ev)
}

func (r *Router) envelope(ctx context.Context, origin string, raw ledger.RawEvent, details map[string]any) model.CrossChainEvent {
	now := r.deps.Now().UTC()
	ts := raw.Timestamp
	if ts.IsZero() {
		ts = now
	}
	ev := model.CrossChainEvent{
		EventID:         r.nextID(origin, ts),
		OriginChain:     origin,
		EventType:       raw.Kind,
		IdentityID:      raw.IdentityID,
		SourceTimestamp: ts,
		Details:         details,
		CrossChainRef:   raw.LedgerRef,
		Signature:       jwt.Unsigned,
		EmittedAt:       now,
	}
	if r.deps.Signer != nil {
		sig, err := r.deps.Signer.SignEnvelope(jwt.EnvelopeClaims{
			EventID:  ev.EventID,
			Origin:   origin,
			Kind:     raw.Kind,
			Subject:  raw.IdentityID,
			Ref:      raw.LedgerRef,
			IssuedAt: now,
		})
		if err != nil {
			logger.From(ctx).Warn("envelope signing failed", logger.Component("events"), logger.Err(err))
		} else {
			ev.Signature = sig
		}
	}
	return ev
}

// payloadDetails expone el payload de origen como details opacos.
func payloadDetails(raw ledger.RawEvent) map[string]any {
	out := map[string]any{}
	if len(raw.Payload) == 0 {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(raw.Payload, &m); err != nil {
		out["payload"] = string(raw.Payload)
		return out
	}
	for k, v := range m {
		out[k] = v
	}
	return out
}

// nextID: {chainTag}_{sourceTimestampMillis}_{seq}, seq monótono por cadena.
func (r *Router) nextID(origin string, ts time.Time) string {
	c, ok := r.seq[origin]
	if !ok {
		c = &atomic.Uint64{}
	}
	return fmt.Sprintf("%s_%d_%d", origin, ts.UnixMilli(), c.Add(1))
}

// ----- acciones -----

func (r *Router) identityVerified(ctx context.Context, ev ledger.IdentityVerified) (map[string]any, error) {
	if err := r.deps.Trading.SetTradingEnabled(ctx, ev.IdentityID, true); err != nil {
		return nil, fmt.Errorf("enable trading: %w", err)
	}
	r.refresh(ctx, ev.IdentityID)
	return map[string]any{"tradingEnabled": true}, nil
}

func (r *Router) identityRevoked(ctx context.Context, ev ledger.IdentityRevoked) (map[string]any, error) {
	if r.deps.Cache != nil {
		r.deps.Cache.Invalidate(ctx, ev.IdentityID)
	}
	out := map[string]any{}
	var errs []error

	if err := r.deps.Trading.SetTradingEnabled(ctx, ev.IdentityID, false); err != nil {
		errs = append(errs, fmt.Errorf("disable trading: %w", err))
	} else {
		out["tradingEnabled"] = false
	}
	// el cascade se intenta aunque falle el disable
	flagged, err := r.deps.Trading.FlagListingsForRemoval(ctx, ev.IdentityID)
	if err != nil {
		errs = append(errs, fmt.Errorf("flag listings: %w", err))
	} else {
		out["flaggedListings"] = flagged
	}
	return out, errors.Join(errs...)
}

func (r *Router) accessGranted(ctx context.Context, ev ledger.AccessGranted) (map[string]any, error) {
	r.refresh(ctx, ev.IdentityID)
	return map[string]any{"cache": "refreshed"}, nil
}

func (r *Router) accessRevoked(ctx context.Context, ev ledger.AccessRevoked) (map[string]any, error) {
	if r.deps.Cache != nil {
		r.deps.Cache.Invalidate(ctx, ev.IdentityID)
	}
	return map[string]any{"cache": "invalidated"}, nil
}

func (r *Router) refresh(ctx context.Context, id string) {
	if r.deps.Cache == nil {
		return
	}
	if _, err := r.deps.Cache.Refresh(ctx, id); err != nil {
		// la entrada ya quedó invalidada; la próxima lectura va al ledger
		// ctx ya trae chain e identidad del evento
		logger.From(ctx).Warn("identity cache refresh failed",
			logger.Component("events"), logger.Err(err))
	}
}

func (r *Router) dataPurchased(ctx context.Context, ev ledger.DataPurchased) (map[string]any, error) {
	entry := ledger.AccessLogEntry{
		IdentityID: ev.IdentityID,
		Consumer:   ev.Buyer,
		DataType:   ev.DataType,
		ListingID:  ev.ListingID,
		SourceRef:  ev.LedgerRef,
		AccessedAt: ev.Timestamp,
	}
	if err := r.deps.Identity.RecordDataAccess(ctx, entry); err != nil {
		return nil, fmt.Errorf("record data access: %w", err)
	}
	return map[string]any{"accessLogged": true}, nil
}

func (r *Router) feeDistributed(ctx context.Context, ev ledger.FeeDistributed) (map[string]any, error) {
	if r.deps.Fees == nil {
		return map[string]any{"recorded": false}, nil
	}
	d := model.FeeDistribution{
		ListingID:     ev.ListingID,
		IdentityID:    ev.IdentityID,
		Recipient:     ev.Recipient,
		Fee:           ev.Fee,
		OwnerAmount:   ev.OwnerAmount,
		LedgerRef:     ev.LedgerRef,
		DistributedAt: ev.Timestamp,
	}
	if err := r.deps.Fees.RecordFeeDistribution(ctx, d); err != nil {
		return nil, fmt.Errorf("record fee distribution: %w", err)
	}
	return map[string]any{"recorded": true}, nil
}
