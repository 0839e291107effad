// Package bridge es el orquestador: ciclo de vida de las conexiones a ambos
// ledgers, operaciones compuestas con gate de identidad y los streams observables.
//
// Estados: STOPPED -> STARTING -> RUNNING -> STOPPING -> STOPPED. Solo Start y
// Stop mueven el estado.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/bridgeerr"
	"github.com/dropDatabas3/datasov-bridge/internal/bridge/events"
	"github.com/dropDatabas3/datasov-bridge/internal/bridge/idcache"
	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
	"github.com/dropDatabas3/datasov-bridge/internal/bridge/proof"
	"github.com/dropDatabas3/datasov-bridge/internal/bridge/reconcile"
	"github.com/dropDatabas3/datasov-bridge/internal/bridge/stream"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/metrics"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

// State es el estado del ciclo de vida del bridge.
type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
)

var allStates = []string{string(StateStopped), string(StateStarting), string(StateRunning), string(StateStopping)}

// Config del orquestador.
type Config struct {
	// Enabled habilita la reconciliación periódica.
	Enabled           bool
	ReconcileInterval time.Duration
	// StreamBuffer es el buffer por defecto de los suscriptores de streams.
	StreamBuffer int
}

// Deps contains the collaborators of the bridge.
type Deps struct {
	Identity ledger.IdentityLedger
	Trading  ledger.TradingLedger

	// Opcionales.
	Cache  *idcache.Cache
	Fees   events.FeeRecorder
	Signer events.Signer
	Now    func() time.Time
}

// Bridge coordina ProofValidator, EventRouter y ReconciliationEngine.
type Bridge struct {
	cfg  Config
	deps Deps

	proofs proof.Service
	router *events.Router
	engine *reconcile.Engine

	lifecycle  *stream.Broadcaster[model.BridgeEvent]
	crossChain *stream.Broadcaster[model.CrossChainEvent]

	mu    sync.Mutex
	state State
	sched *reconcile.Scheduler
	// drain es el scheduler detenido por el último Stop, para Drain.
	drain *reconcile.Scheduler
	// stopReq marca un Stop pedido mientras Start conecta; startDone se cierra
	// cuando Start sale de STARTING.
	stopReq   bool
	startDone chan struct{}
}

// ErrStopRequested es la causa del BridgeStartupFailed cuando Stop llega durante Start.
var ErrStopRequested = errors.New("bridge: stop requested during start")

// New arma el bridge y sus componentes. No conecta nada hasta Start.
func New(cfg Config, deps Deps) *Bridge {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 5 * time.Minute
	}
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = 64
	}

	drop := func(name string) { metrics.StreamDrops.WithLabelValues(name).Inc() }
	b := &Bridge{
		cfg:        cfg,
		deps:       deps,
		lifecycle:  stream.New[model.BridgeEvent]("lifecycle", drop),
		crossChain: stream.New[model.CrossChainEvent]("cross_chain", drop),
		state:      StateStopped,
	}

	var reader proof.IdentityReader = deps.Identity
	var cache events.IdentityCache
	if deps.Cache != nil {
		reader = deps.Cache
		cache = deps.Cache
	}

	b.proofs = proof.NewService(proof.Deps{
		Identity:   deps.Identity,
		Trading:    deps.Trading,
		Identities: reader,
		Events:     b.lifecycle,
		Now:        deps.Now,
	})
	b.router = events.NewRouter(events.Deps{
		Identity:   deps.Identity,
		Trading:    deps.Trading,
		CrossChain: b.crossChain,
		Cache:      cache,
		Fees:       deps.Fees,
		Signer:     deps.Signer,
		Lifecycle:  b.lifecycle,
		Now:        deps.Now,
	})
	b.engine = reconcile.NewEngine(reconcile.Deps{
		Identities: deps.Identity,
		Proofs:     b.proofs,
		Events:     b.lifecycle,
		Now:        deps.Now,
	})
	metrics.SetLifecycleState(string(StateStopped), allStates)
	return b
}

// State retorna el estado actual.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) setState(s State) {
	b.state = s
	metrics.SetLifecycleState(string(s), allStates)
}

// Start conecta ambos ledgers en orden, suscribe el router y agenda la reconciliación.
// Si algo falla, ambos ledgers quedan desconectados y el estado vuelve a STOPPED.
func (b *Bridge) Start(ctx context.Context) error {
	log := logger.From(ctx).With(logger.Layer("bridge"), logger.Component("orchestrator"), logger.Op("Start"))

	b.mu.Lock()
	if b.state != StateStopped {
		st := b.state
		b.mu.Unlock()
		return bridgeerr.AlreadyRunning(string(st))
	}
	b.setState(StateStarting)
	b.stopReq = false
	done := make(chan struct{})
	b.startDone = done
	b.mu.Unlock()
	defer close(done)

	if err := b.deps.Identity.Connect(ctx); err != nil {
		b.abortStart(ctx)
		log.Error("identity ledger connect failed", logger.Err(err))
		return bridgeerr.BridgeStartupFailed(ledger.ChainIdentity, err)
	}
	if err := b.deps.Trading.Connect(ctx); err != nil {
		b.abortStart(ctx)
		log.Error("trading ledger connect failed", logger.Err(err))
		return bridgeerr.BridgeStartupFailed(ledger.ChainTrading, err)
	}
	if err := b.router.Start(ctx); err != nil {
		b.abortStart(ctx)
		chain := ""
		var se *events.SubscribeError
		if errors.As(err, &se) {
			chain = se.Chain
		}
		log.Error("event subscription failed", logger.Err(err))
		return bridgeerr.BridgeStartupFailed(chain, err)
	}

	b.mu.Lock()
	if b.stopReq {
		b.mu.Unlock()
		b.router.Stop()
		b.abortStart(ctx)
		log.Info("start aborted by stop")
		return bridgeerr.BridgeStartupFailed("", ErrStopRequested)
	}
	b.setState(StateRunning)
	if b.cfg.Enabled {
		b.sched = reconcile.NewScheduler(b.engine, b.cfg.ReconcileInterval, b.onScheduledResult)
		b.sched.Start(ctx)
	}
	b.mu.Unlock()

	log.Info("bridge started",
		logger.Bool("reconcile_enabled", b.cfg.Enabled),
		logger.Duration(b.cfg.ReconcileInterval))
	return nil
}

func (b *Bridge) abortStart(ctx context.Context) {
	b.disconnectAll(ctx)
	b.mu.Lock()
	b.setState(StateStopped)
	b.mu.Unlock()
}

// Stop limpia el timer de reconciliación, corta el router y desconecta ambos ledgers.
// Nunca falla: los errores de disconnect solo se loguean. Una corrida en vuelo
// puede terminar después; su resultado se descarta (ver Drain).
// Durante STARTING, Stop hace que Start aborte y espera a que termine.
func (b *Bridge) Stop(ctx context.Context) {
	log := logger.From(ctx).With(logger.Layer("bridge"), logger.Component("orchestrator"), logger.Op("Stop"))

	b.mu.Lock()
	if b.state == StateStarting {
		b.stopReq = true
		done := b.startDone
		b.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			log.Warn("stop gave up waiting for start", logger.Err(ctx.Err()))
			return
		}
		b.mu.Lock()
	}
	if b.state != StateRunning {
		b.mu.Unlock()
		return
	}
	b.setState(StateStopping)
	sched := b.sched
	b.sched = nil
	b.drain = sched
	b.mu.Unlock()

	if sched != nil {
		sched.Stop()
	}
	b.router.Stop()
	b.disconnectAll(ctx)

	b.mu.Lock()
	b.setState(StateStopped)
	b.mu.Unlock()
	log.Info("bridge stopped")
}

// Drain espera a que termine la corrida de reconciliación que el último Stop
// dejó en vuelo, o a que ctx venza.
func (b *Bridge) Drain(ctx context.Context) error {
	b.mu.Lock()
	sched := b.drain
	b.mu.Unlock()
	if sched == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		sched.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) disconnectAll(ctx context.Context) {
	log := logger.From(ctx).With(logger.Layer("bridge"), logger.Component("orchestrator"))
	if err := b.deps.Identity.Disconnect(ctx); err != nil {
		log.Warn("identity ledger disconnect failed", logger.Chain(ledger.ChainIdentity), logger.Err(err))
	}
	if err := b.deps.Trading.Disconnect(ctx); err != nil {
		log.Warn("trading ledger disconnect failed", logger.Chain(ledger.ChainTrading), logger.Err(err))
	}
}

func (b *Bridge) onScheduledResult(res model.SyncResult) {
	if b.State() != StateRunning {
		logger.L().Debug("discarding reconciliation result, bridge not running",
			logger.Component("orchestrator"), logger.Int("failed", res.FailedCount))
	}
}

func (b *Bridge) requireRunning() error {
	if b.State() != StateRunning {
		return bridgeerr.NotRunning()
	}
	return nil
}

// ----- proofs -----

func (b *Bridge) GenerateIdentityProof(ctx context.Context, identityID string) (*model.IdentityProof, error) {
	return b.proofs.GenerateIdentityProof(ctx, identityID)
}

func (b *Bridge) ValidateIdentityProof(ctx context.Context, p model.IdentityProof) model.ValidationOutcome {
	return b.proofs.ValidateIdentityProof(ctx, p)
}

func (b *Bridge) GenerateAccessProof(ctx context.Context, identityID, consumer string, dataType ledger.DataType) (*model.AccessProof, error) {
	return b.proofs.GenerateAccessProof(ctx, identityID, consumer, dataType)
}

// ----- operaciones compuestas -----

// CreateDataListing valida la identidad del owner y recién entonces crea el listing.
// No es transaccional: si el ledger de trading falla después de validar, no se compensa nada.
func (b *Bridge) CreateDataListing(ctx context.Context, req ledger.ListingRequest) (*ledger.Listing, error) {
	log := logger.From(ctx).With(
		logger.Layer("bridge"),
		logger.Component("orchestrator"),
		logger.Op("CreateDataListing"),
		logger.IdentityID(req.OwnerIdentityID),
	)
	if err := b.requireRunning(); err != nil {
		return nil, err
	}

	p, err := b.proofs.GenerateIdentityProof(ctx, req.OwnerIdentityID)
	if err != nil {
		metrics.CompositeOps.WithLabelValues("create_listing", "rejected").Inc()
		return nil, bridgeerr.IdentityValidationFailed(req.OwnerIdentityID, []string{err.Error()}, err)
	}
	if req.Owner != "" && !strings.EqualFold(req.Owner, p.Owner) {
		metrics.CompositeOps.WithLabelValues("create_listing", "rejected").Inc()
		return nil, bridgeerr.IdentityValidationFailed(req.OwnerIdentityID,
			[]string{fmt.Sprintf("owner %s does not match identity owner", req.Owner)}, nil)
	}
	out := b.proofs.ValidateIdentityProof(ctx, *p)
	if !out.Valid {
		metrics.CompositeOps.WithLabelValues("create_listing", "rejected").Inc()
		return nil, bridgeerr.IdentityValidationFailed(req.OwnerIdentityID, out.Errors, nil)
	}
	if req.Owner == "" {
		req.Owner = p.Owner
	}

	l, err := b.deps.Trading.CreateListing(ctx, req)
	if err != nil {
		metrics.CompositeOps.WithLabelValues("create_listing", "error").Inc()
		log.Warn("trading ledger create failed after identity validation", logger.Err(err))
		return nil, fmt.Errorf("create listing: %w", err)
	}
	metrics.CompositeOps.WithLabelValues("create_listing", "ok").Inc()
	log.Info("listing created", logger.ListingID(l.ID))
	return &l, nil
}

// PurchaseData exige una access proof del comprador sobre el data type del listing.
// La identidad es la del owner del listing salvo que el request indique otra.
func (b *Bridge) PurchaseData(ctx context.Context, req ledger.PurchaseRequest) (*model.PurchaseReceipt, error) {
	log := logger.From(ctx).With(
		logger.Layer("bridge"),
		logger.Component("orchestrator"),
		logger.Op("PurchaseData"),
		logger.ListingID(req.ListingID),
		logger.Principal(req.Buyer),
	)
	if err := b.requireRunning(); err != nil {
		return nil, err
	}

	l, err := b.deps.Trading.GetListing(ctx, req.ListingID)
	if err != nil {
		metrics.CompositeOps.WithLabelValues("purchase", "error").Inc()
		return nil, fmt.Errorf("get listing %s: %w", req.ListingID, err)
	}
	if l == nil {
		metrics.CompositeOps.WithLabelValues("purchase", "rejected").Inc()
		return nil, bridgeerr.ListingNotFound(req.ListingID)
	}
	if req.IdentityID == "" {
		req.IdentityID = l.OwnerIdentityID
	}

	ap, err := b.proofs.GenerateAccessProof(ctx, req.IdentityID, req.Buyer, l.DataType)
	if err != nil {
		metrics.CompositeOps.WithLabelValues("purchase", "rejected").Inc()
		return nil, err
	}

	res, err := b.deps.Trading.Purchase(ctx, req)
	if err != nil {
		metrics.CompositeOps.WithLabelValues("purchase", "error").Inc()
		log.Warn("trading ledger purchase failed after access check", logger.Err(err))
		return nil, fmt.Errorf("purchase listing %s: %w", req.ListingID, err)
	}
	metrics.CompositeOps.WithLabelValues("purchase", "ok").Inc()
	log.Info("data purchased", logger.LedgerRef(res.LedgerRef))
	return &model.PurchaseReceipt{Purchase: res, AccessProof: *ap}, nil
}

// UpdateListingPrice cambia el precio de un listing activo. El ledger exige
// que owner sea el dueño del listing.
func (b *Bridge) UpdateListingPrice(ctx context.Context, listingID, owner string, price uint64) (*ledger.Listing, error) {
	return b.ownerListingOp(ctx, "update_price", listingID, owner, func(ctx context.Context) error {
		return b.deps.Trading.UpdatePrice(ctx, listingID, owner, price)
	})
}

// CancelListing pasa un listing activo a CANCELLED.
func (b *Bridge) CancelListing(ctx context.Context, listingID, owner string) (*ledger.Listing, error) {
	return b.ownerListingOp(ctx, "cancel_listing", listingID, owner, func(ctx context.Context) error {
		return b.deps.Trading.CancelListing(ctx, listingID, owner)
	})
}

func (b *Bridge) ownerListingOp(ctx context.Context, op, listingID, owner string, apply func(context.Context) error) (*ledger.Listing, error) {
	ctx = logger.With(ctx, logger.Layer("bridge"), logger.Component("orchestrator"),
		logger.Op(op), logger.ListingID(listingID), logger.Principal(owner))
	if err := b.requireRunning(); err != nil {
		return nil, err
	}
	l, err := b.deps.Trading.GetListing(ctx, listingID)
	if err != nil {
		metrics.CompositeOps.WithLabelValues(op, "error").Inc()
		return nil, fmt.Errorf("get listing %s: %w", listingID, err)
	}
	if l == nil {
		metrics.CompositeOps.WithLabelValues(op, "rejected").Inc()
		return nil, bridgeerr.ListingNotFound(listingID)
	}
	if err := apply(ctx); err != nil {
		metrics.CompositeOps.WithLabelValues(op, "rejected").Inc()
		return nil, fmt.Errorf("%s %s: %w", op, listingID, err)
	}
	metrics.CompositeOps.WithLabelValues(op, "ok").Inc()
	logger.From(ctx).Info("listing updated")

	after, err := b.deps.Trading.GetListing(ctx, listingID)
	if err != nil || after == nil {
		// el cambio ya se aplicó; se devuelve lo último leído
		return l, nil
	}
	return after, nil
}

// WithdrawFees retira fees acumulados del marketplace; solo la autoridad.
func (b *Bridge) WithdrawFees(ctx context.Context, authority string, amount uint64) error {
	log := logger.From(ctx).With(
		logger.Layer("bridge"),
		logger.Component("orchestrator"),
		logger.Op("WithdrawFees"),
		logger.Principal(authority),
	)
	if err := b.requireRunning(); err != nil {
		return err
	}
	if err := b.deps.Trading.WithdrawFees(ctx, authority, amount); err != nil {
		metrics.CompositeOps.WithLabelValues("withdraw_fees", "rejected").Inc()
		log.Warn("fee withdrawal refused", logger.Err(err))
		return fmt.Errorf("withdraw fees: %w", err)
	}
	metrics.CompositeOps.WithLabelValues("withdraw_fees", "ok").Inc()
	log.Info("fees withdrawn", logger.Any("amount", amount))
	return nil
}

// SynchronizeState dispara una corrida manual de reconciliación.
func (b *Bridge) SynchronizeState(ctx context.Context) model.SyncResult {
	return b.engine.Run(ctx, "manual")
}

// GetStateSnapshot lee identidades y listings activos en paralelo.
func (b *Bridge) GetStateSnapshot(ctx context.Context) (*model.StateSnapshot, error) {
	var (
		ids      []ledger.IdentityRecord
		listings []ledger.Listing
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ids, err = b.deps.Identity.ListIdentities(gctx)
		if err != nil {
			return fmt.Errorf("list identities: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		listings, err = b.deps.Trading.GetActiveListings(gctx)
		if err != nil {
			return fmt.Errorf("list active listings: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []ledger.IdentityRecord{}
	}
	if listings == nil {
		listings = []ledger.Listing{}
	}
	return &model.StateSnapshot{
		Identities:     ids,
		ActiveListings: listings,
		Running:        b.State() == StateRunning,
		Timestamp:      b.deps.Now().UTC(),
	}, nil
}

// GetStatus resume estado y salud de ambos ledgers.
func (b *Bridge) GetStatus(ctx context.Context) model.Status {
	st := b.State()
	return model.Status{
		Running:               st == StateRunning,
		State:                 string(st),
		IdentityLedgerHealthy: b.deps.Identity.IsHealthy(ctx),
		TradingLedgerHealthy:  b.deps.Trading.IsHealthy(ctx),
	}
}

// ----- streams -----

// SubscribeLifecycle se suscribe al stream de eventos de ciclo de vida.
func (b *Bridge) SubscribeLifecycle(buffer int) (<-chan model.BridgeEvent, func()) {
	if buffer <= 0 {
		buffer = b.cfg.StreamBuffer
	}
	return b.lifecycle.Subscribe(buffer)
}

// SubscribeCrossChain se suscribe al stream de CrossChainEvents.
func (b *Bridge) SubscribeCrossChain(buffer int) (<-chan model.CrossChainEvent, func()) {
	if buffer <= 0 {
		buffer = b.cfg.StreamBuffer
	}
	return b.crossChain.Subscribe(buffer)
}

// Close cierra los streams. Llamar después de Stop.
func (b *Bridge) Close() {
	b.lifecycle.Close()
	b.crossChain.Close()
}
