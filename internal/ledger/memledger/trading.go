package memledger

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
)

// KindListingCreated y KindListingCancelled los emite el marketplace; el bridge
// los trata como pass-through.
const (
	KindListingCreated   = "LISTING_CREATED"
	KindListingCancelled = "LISTING_CANCELLED"
	KindPriceUpdated     = "LISTING_PRICE_UPDATED"
)

// MaxFeeBasisPoints es el máximo fee aceptado (100%).
const MaxFeeBasisPoints = 10000

// MarketplaceConfig es la configuración on-chain del marketplace.
type MarketplaceConfig struct {
	Authority       string
	FeeBasisPoints  uint16
	FeeRecipient    string
	TrustedIssuer   ed25519.PublicKey // validador secundario; nil solo chequea presencia de firma
}

// TradingLedger simula el marketplace del ledger de trading.
type TradingLedger struct {
	Faults Faults

	mu        sync.RWMutex
	connected bool
	cfg       MarketplaceConfig
	listings  map[string]*ledger.Listing
	disabled  map[string]bool
	fees      uint64
	feed      *feed
	now       func() time.Time
}

// NewTradingLedger crea el marketplace.
func NewTradingLedger(cfg MarketplaceConfig, opts ...Option) (*TradingLedger, error) {
	if cfg.FeeBasisPoints > MaxFeeBasisPoints {
		return nil, fmt.Errorf("memledger: fee_basis_points %d > %d", cfg.FeeBasisPoints, MaxFeeBasisPoints)
	}
	if cfg.FeeRecipient == "" {
		cfg.FeeRecipient = "marketplace"
	}
	if cfg.Authority == "" {
		cfg.Authority = cfg.FeeRecipient
	}
	o := buildOptions(opts)
	return &TradingLedger{
		cfg:      cfg,
		listings: map[string]*ledger.Listing{},
		disabled: map[string]bool{},
		feed:     newFeed(),
		now:      o.now,
	}, nil
}

// Trust fija la pública del ledger de identidades usada por el validador secundario.
func (t *TradingLedger) Trust(pub ed25519.PublicKey) {
	t.mu.Lock()
	t.cfg.TrustedIssuer = pub
	t.mu.Unlock()
}

func (t *TradingLedger) Connect(context.Context) error {
	if err := t.Faults.check("Connect"); err != nil {
		return err
	}
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *TradingLedger) Disconnect(context.Context) error {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()
	t.feed.closeAll()
	return t.Faults.check("Disconnect")
}

func (t *TradingLedger) guard(op string) error {
	if err := t.Faults.check(op); err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.connected {
		return ledger.ErrNotConnected
	}
	return nil
}

func (t *TradingLedger) IsHealthy(context.Context) bool {
	if t.Faults.check("IsHealthy") != nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *TradingLedger) Subscribe(ctx context.Context) (<-chan ledger.RawEvent, error) {
	if err := t.guard("Subscribe"); err != nil {
		return nil, err
	}
	return t.feed.subscribe(ctx), nil
}

// ----- listings -----

func (t *TradingLedger) CreateListing(_ context.Context, req ledger.ListingRequest) (ledger.Listing, error) {
	if err := t.guard("CreateListing"); err != nil {
		return ledger.Listing{}, err
	}
	if req.Price == 0 {
		return ledger.Listing{}, ledger.ErrInvalidPrice
	}
	if !req.DataType.Valid() {
		return ledger.Listing{}, fmt.Errorf("memledger: invalid data type %q", req.DataType)
	}
	if strings.TrimSpace(req.Owner) == "" {
		return ledger.Listing{}, fmt.Errorf("memledger: owner required")
	}
	now := t.now().UTC()

	t.mu.Lock()
	if t.disabled[req.OwnerIdentityID] {
		t.mu.Unlock()
		return ledger.Listing{}, ledger.ErrTradingDisabled
	}
	l := &ledger.Listing{
		ID:              uuid.NewString(),
		Owner:           req.Owner,
		OwnerIdentityID: req.OwnerIdentityID,
		Price:           req.Price,
		DataType:        req.DataType,
		Description:     req.Description,
		Status:          ledger.ListingActive,
		CreatedAt:       now,
	}
	l.LedgerRef = txRef("listing", l.ID)
	t.listings[l.ID] = l
	out := *l
	t.mu.Unlock()

	t.emit(KindListingCreated, out.OwnerIdentityID, out.LedgerRef, now, map[string]any{
		"listingId": out.ID, "price": out.Price, "dataType": out.DataType,
	})
	return out, nil
}

func (t *TradingLedger) GetListing(_ context.Context, id string) (*ledger.Listing, error) {
	if err := t.guard("GetListing"); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	l, ok := t.listings[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (t *TradingLedger) GetActiveListings(context.Context) ([]ledger.Listing, error) {
	if err := t.guard("GetActiveListings"); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := []ledger.Listing{}
	for _, l := range t.listings {
		if l.Status == ledger.ListingActive {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// FeeSplit calcula fee = price*bps/10000 y el remanente del owner.
func FeeSplit(price uint64, bps uint16) (fee, owner uint64) {
	// price*bps puede desbordar uint64 para precios enormes; se divide primero la parte entera
	fee = (price/10000)*uint64(bps) + (price%10000)*uint64(bps)/10000
	return fee, price - fee
}

func (t *TradingLedger) Purchase(_ context.Context, req ledger.PurchaseRequest) (ledger.PurchaseResult, error) {
	if err := t.guard("Purchase"); err != nil {
		return ledger.PurchaseResult{}, err
	}
	now := t.now().UTC()

	t.mu.Lock()
	l, ok := t.listings[req.ListingID]
	if !ok {
		t.mu.Unlock()
		return ledger.PurchaseResult{}, fmt.Errorf("%w: %s", ledger.ErrUnknownListing, req.ListingID)
	}
	if l.Status != ledger.ListingActive {
		t.mu.Unlock()
		return ledger.PurchaseResult{}, ledger.ErrListingNotActive
	}
	fee, ownerAmount := FeeSplit(l.Price, t.cfg.FeeBasisPoints)
	l.Status = ledger.ListingSold
	l.SoldAt = &now
	l.Buyer = req.Buyer
	t.fees += fee
	snapshot := *l
	recipient := t.cfg.FeeRecipient
	t.mu.Unlock()

	ref := txRef("purchase", snapshot.ID, req.Buyer)
	res := ledger.PurchaseResult{
		ListingID:   snapshot.ID,
		Buyer:       req.Buyer,
		Amount:      snapshot.Price,
		Fee:         fee,
		OwnerAmount: ownerAmount,
		LedgerRef:   ref,
		PurchasedAt: now,
	}

	t.emit(ledger.KindDataPurchased, snapshot.OwnerIdentityID, ref, now, map[string]any{
		"listingId": snapshot.ID,
		"buyer":     req.Buyer,
		"dataType":  snapshot.DataType,
		"amount":    snapshot.Price,
	})
	t.emit(ledger.KindFeeDistributed, snapshot.OwnerIdentityID, ref, now, map[string]any{
		"listingId":   snapshot.ID,
		"recipient":   recipient,
		"fee":         fee,
		"ownerAmount": ownerAmount,
	})
	return res, nil
}

// UpdatePrice cambia el precio de un listing activo; solo el owner.
func (t *TradingLedger) UpdatePrice(_ context.Context, listingID, owner string, price uint64) error {
	if err := t.guard("UpdatePrice"); err != nil {
		return err
	}
	if price == 0 {
		return ledger.ErrInvalidPrice
	}
	now := t.now().UTC()
	t.mu.Lock()
	l, err := t.ownedActiveLocked(listingID, owner)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	l.Price = price
	idn, ref := l.OwnerIdentityID, l.LedgerRef
	t.mu.Unlock()

	t.emit(KindPriceUpdated, idn, ref, now, map[string]any{"listingId": listingID, "price": price})
	return nil
}

// CancelListing cancela un listing activo; solo el owner.
func (t *TradingLedger) CancelListing(_ context.Context, listingID, owner string) error {
	if err := t.guard("CancelListing"); err != nil {
		return err
	}
	now := t.now().UTC()
	t.mu.Lock()
	l, err := t.ownedActiveLocked(listingID, owner)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	l.Status = ledger.ListingCancelled
	l.CancelledAt = &now
	idn, ref := l.OwnerIdentityID, l.LedgerRef
	t.mu.Unlock()

	t.emit(KindListingCancelled, idn, ref, now, map[string]any{"listingId": listingID})
	return nil
}

func (t *TradingLedger) ownedActiveLocked(listingID, owner string) (*ledger.Listing, error) {
	l, ok := t.listings[listingID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrUnknownListing, listingID)
	}
	if l.Status != ledger.ListingActive {
		return nil, ledger.ErrListingNotActive
	}
	if l.Owner != owner {
		return nil, ledger.ErrUnauthorized
	}
	return l, nil
}

// CollectedFees retorna los fees acumulados no retirados.
func (t *TradingLedger) CollectedFees() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fees
}

// WithdrawFees retira fees acumulados; solo la autoridad del marketplace.
func (t *TradingLedger) WithdrawFees(_ context.Context, authority string, amount uint64) error {
	if err := t.guard("WithdrawFees"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if authority != t.cfg.Authority {
		return ledger.ErrUnauthorized
	}
	if amount > t.fees {
		return ledger.ErrInsufficientFunds
	}
	t.fees -= amount
	return nil
}

// ----- capacidades del bridge -----

// ValidateIdentityProofRaw es el validador secundario: firma presente (y
// verificada si hay issuer de confianza) e identidad con trading habilitado.
func (t *TradingLedger) ValidateIdentityProofRaw(_ context.Context, p ledger.ProofClaims) (ledger.RawValidation, error) {
	if err := t.guard("ValidateIdentityProofRaw"); err != nil {
		return ledger.RawValidation{}, err
	}
	t.mu.RLock()
	trusted := t.cfg.TrustedIssuer
	disabled := t.disabled[p.IdentityID]
	t.mu.RUnlock()

	var errs []string
	if strings.TrimSpace(p.Signature) == "" {
		errs = append(errs, "signature missing")
	} else if trusted != nil && !VerifySignature(trusted, p) {
		errs = append(errs, "signature not issued by trusted identity ledger")
	}
	if disabled {
		errs = append(errs, "trading disabled for identity")
	}
	return ledger.RawValidation{Valid: len(errs) == 0, Errors: errs}, nil
}

func (t *TradingLedger) SetTradingEnabled(_ context.Context, identityID string, enabled bool) error {
	if err := t.guard("SetTradingEnabled"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if enabled {
		delete(t.disabled, identityID)
	} else {
		t.disabled[identityID] = true
	}
	return nil
}

// TradingEnabled indica si la identidad puede operar.
func (t *TradingLedger) TradingEnabled(identityID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.disabled[identityID]
}

// FlagListingsForRemoval es idempotente: listings ya flaggeados no se repiten.
func (t *TradingLedger) FlagListingsForRemoval(_ context.Context, identityID string) ([]string, error) {
	if err := t.guard("FlagListingsForRemoval"); err != nil {
		return nil, err
	}
	now := t.now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := []string{}
	for _, l := range t.listings {
		if l.OwnerIdentityID == identityID && l.Status == ledger.ListingActive {
			l.Status = ledger.ListingFlagged
			l.FlaggedAt = &now
			ids = append(ids, l.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// put carga un listing sin emitir eventos (seed).
func (t *TradingLedger) put(l ledger.Listing) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Status == "" {
		l.Status = ledger.ListingActive
	}
	if l.LedgerRef == "" {
		l.LedgerRef = txRef("listing", l.ID)
	}
	t.listings[l.ID] = &l
}

func (t *TradingLedger) emit(kind, identityID, ref string, ts time.Time, payload any) {
	t.feed.publish(ledger.RawEvent{
		Kind:       kind,
		IdentityID: identityID,
		LedgerRef:  ref,
		Timestamp:  ts,
		Payload:    mustJSON(payload),
	})
}

var _ ledger.TradingLedger = (*TradingLedger)(nil)
