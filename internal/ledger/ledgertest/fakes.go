// Package ledgertest provee fakes de los ledgers con contadores de llamadas para tests.
package ledgertest

import (
	"context"
	"strconv"
	"sync"

	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
)

// calls cuenta invocaciones por método.
type calls struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *calls) inc(m string) {
	c.mu.Lock()
	if c.n == nil {
		c.n = map[string]int{}
	}
	c.n[m]++
	c.mu.Unlock()
}

// Calls retorna cuántas veces se invocó el método.
func (c *calls) Calls(m string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[m]
}

// Identity es un IdentityLedger en memoria. Los campos *Fn permiten inyectar
// comportamiento; si son nil se usa el mapa Records.
type Identity struct {
	calls

	mu      sync.Mutex
	Records map[string]*ledger.IdentityRecord
	Access  []ledger.AccessLogEntry
	Events  chan ledger.RawEvent

	ConnectErr    error
	DisconnectErr error
	Healthy       bool

	GetFn          func(id string) (*ledger.IdentityRecord, error)
	ListFn         func() ([]ledger.IdentityRecord, error)
	ValidateFn     func(p ledger.ProofClaims) (ledger.RawValidation, error)
	ProofFn        func(id string) (ledger.RawProof, error)
	RecordAccessFn func(e ledger.AccessLogEntry) error
}

// NewIdentity crea el fake con las identidades dadas.
func NewIdentity(recs ...ledger.IdentityRecord) *Identity {
	f := &Identity{
		Records: map[string]*ledger.IdentityRecord{},
		Events:  make(chan ledger.RawEvent, 16),
		Healthy: true,
	}
	for i := range recs {
		r := recs[i]
		f.Records[r.ID] = &r
	}
	return f
}

// Put agrega o reemplaza una identidad.
func (f *Identity) Put(rec ledger.IdentityRecord) {
	f.mu.Lock()
	f.Records[rec.ID] = &rec
	f.mu.Unlock()
}

func (f *Identity) Connect(context.Context) error {
	f.inc("Connect")
	return f.ConnectErr
}

func (f *Identity) Disconnect(context.Context) error {
	f.inc("Disconnect")
	return f.DisconnectErr
}

func (f *Identity) GetIdentity(_ context.Context, id string) (*ledger.IdentityRecord, error) {
	f.inc("GetIdentity")
	if f.GetFn != nil {
		return f.GetFn(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.Records[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *Identity) GetIdentitiesByOwner(_ context.Context, owner string) ([]ledger.IdentityRecord, error) {
	f.inc("GetIdentitiesByOwner")
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledger.IdentityRecord
	for _, r := range f.Records {
		if r.Owner == owner {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *Identity) ListIdentities(context.Context) ([]ledger.IdentityRecord, error) {
	f.inc("ListIdentities")
	if f.ListFn != nil {
		return f.ListFn()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ledger.IdentityRecord, 0, len(f.Records))
	for _, r := range f.Records {
		out = append(out, *r)
	}
	return out, nil
}

func (f *Identity) GenerateIdentityProofRaw(_ context.Context, id string) (ledger.RawProof, error) {
	f.inc("GenerateIdentityProofRaw")
	if f.ProofFn != nil {
		return f.ProofFn(id)
	}
	return ledger.RawProof{Signature: "sig-" + id, LedgerRef: "tx-" + id}, nil
}

func (f *Identity) GenerateAccessProofRaw(_ context.Context, id, consumer string, dt ledger.DataType) (ledger.RawProof, error) {
	f.inc("GenerateAccessProofRaw")
	return ledger.RawProof{Signature: "asig-" + id + "-" + consumer, LedgerRef: "atx-" + id + "-" + string(dt)}, nil
}

func (f *Identity) ValidateIdentityProofRaw(_ context.Context, p ledger.ProofClaims) (ledger.RawValidation, error) {
	f.inc("ValidateIdentityProofRaw")
	if f.ValidateFn != nil {
		return f.ValidateFn(p)
	}
	return ledger.RawValidation{Valid: true}, nil
}

func (f *Identity) RecordDataAccess(_ context.Context, e ledger.AccessLogEntry) error {
	f.inc("RecordDataAccess")
	if f.RecordAccessFn != nil {
		if err := f.RecordAccessFn(e); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.Access = append(f.Access, e)
	f.mu.Unlock()
	return nil
}

func (f *Identity) Subscribe(context.Context) (<-chan ledger.RawEvent, error) {
	f.inc("Subscribe")
	return f.Events, nil
}

func (f *Identity) IsHealthy(context.Context) bool {
	f.inc("IsHealthy")
	return f.Healthy
}

// Trading es un TradingLedger en memoria con el mismo esquema de hooks.
type Trading struct {
	calls

	mu       sync.Mutex
	Listings map[string]*ledger.Listing
	Enabled  map[string]bool
	Events   chan ledger.RawEvent

	ConnectErr    error
	DisconnectErr error
	Healthy       bool

	// ConnectFn, si no es nil, corre antes de retornar ConnectErr.
	ConnectFn  func()
	CreateFn   func(req ledger.ListingRequest) (ledger.Listing, error)
	PurchaseFn func(req ledger.PurchaseRequest) (ledger.PurchaseResult, error)
	ValidateFn func(p ledger.ProofClaims) (ledger.RawValidation, error)
	FlagFn     func(identityID string) ([]string, error)
	ActiveFn   func() ([]ledger.Listing, error)
	WithdrawFn func(authority string, amount uint64) error
}

func NewTrading(listings ...ledger.Listing) *Trading {
	f := &Trading{
		Listings: map[string]*ledger.Listing{},
		Enabled:  map[string]bool{},
		Events:   make(chan ledger.RawEvent, 16),
		Healthy:  true,
	}
	for i := range listings {
		l := listings[i]
		f.Listings[l.ID] = &l
	}
	return f
}

func (f *Trading) Connect(context.Context) error {
	f.inc("Connect")
	if f.ConnectFn != nil {
		f.ConnectFn()
	}
	return f.ConnectErr
}

func (f *Trading) Disconnect(context.Context) error {
	f.inc("Disconnect")
	return f.DisconnectErr
}

func (f *Trading) CreateListing(_ context.Context, req ledger.ListingRequest) (ledger.Listing, error) {
	f.inc("CreateListing")
	if f.CreateFn != nil {
		return f.CreateFn(req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l := ledger.Listing{
		ID:              "L" + strconv.Itoa(len(f.Listings)+1),
		Owner:           req.Owner,
		OwnerIdentityID: req.OwnerIdentityID,
		Price:           req.Price,
		DataType:        req.DataType,
		Description:     req.Description,
		Status:          ledger.ListingActive,
	}
	f.Listings[l.ID] = &l
	return l, nil
}

func (f *Trading) GetListing(_ context.Context, id string) (*ledger.Listing, error) {
	f.inc("GetListing")
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.Listings[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (f *Trading) GetActiveListings(context.Context) ([]ledger.Listing, error) {
	f.inc("GetActiveListings")
	if f.ActiveFn != nil {
		return f.ActiveFn()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledger.Listing
	for _, l := range f.Listings {
		if l.Status == ledger.ListingActive {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (f *Trading) Purchase(_ context.Context, req ledger.PurchaseRequest) (ledger.PurchaseResult, error) {
	f.inc("Purchase")
	if f.PurchaseFn != nil {
		return f.PurchaseFn(req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.Listings[req.ListingID]
	if !ok || l.Status != ledger.ListingActive {
		return ledger.PurchaseResult{}, ledger.ErrListingNotActive
	}
	l.Status = ledger.ListingSold
	l.Buyer = req.Buyer
	return ledger.PurchaseResult{ListingID: l.ID, Buyer: req.Buyer, Amount: l.Price, OwnerAmount: l.Price, LedgerRef: "ptx-" + l.ID}, nil
}

func (f *Trading) UpdatePrice(_ context.Context, listingID, owner string, price uint64) error {
	f.inc("UpdatePrice")
	if price == 0 {
		return ledger.ErrInvalidPrice
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, err := f.ownedActiveLocked(listingID, owner)
	if err != nil {
		return err
	}
	l.Price = price
	return nil
}

func (f *Trading) CancelListing(_ context.Context, listingID, owner string) error {
	f.inc("CancelListing")
	f.mu.Lock()
	defer f.mu.Unlock()
	l, err := f.ownedActiveLocked(listingID, owner)
	if err != nil {
		return err
	}
	l.Status = ledger.ListingCancelled
	return nil
}

func (f *Trading) ownedActiveLocked(listingID, owner string) (*ledger.Listing, error) {
	l, ok := f.Listings[listingID]
	switch {
	case !ok:
		return nil, ledger.ErrUnknownListing
	case l.Status != ledger.ListingActive:
		return nil, ledger.ErrListingNotActive
	case l.Owner != owner:
		return nil, ledger.ErrUnauthorized
	}
	return l, nil
}

func (f *Trading) WithdrawFees(_ context.Context, authority string, amount uint64) error {
	f.inc("WithdrawFees")
	if f.WithdrawFn != nil {
		return f.WithdrawFn(authority, amount)
	}
	return nil
}

func (f *Trading) ValidateIdentityProofRaw(_ context.Context, p ledger.ProofClaims) (ledger.RawValidation, error) {
	f.inc("ValidateIdentityProofRaw")
	if f.ValidateFn != nil {
		return f.ValidateFn(p)
	}
	return ledger.RawValidation{Valid: true}, nil
}

func (f *Trading) SetTradingEnabled(_ context.Context, identityID string, enabled bool) error {
	f.inc("SetTradingEnabled")
	f.mu.Lock()
	f.Enabled[identityID] = enabled
	f.mu.Unlock()
	return nil
}

// TradingEnabled retorna el último valor seteado para la identidad.
func (f *Trading) TradingEnabled(identityID string) (enabled, set bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	enabled, set = f.Enabled[identityID]
	return enabled, set
}

func (f *Trading) FlagListingsForRemoval(_ context.Context, identityID string) ([]string, error) {
	f.inc("FlagListingsForRemoval")
	if f.FlagFn != nil {
		return f.FlagFn(identityID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, l := range f.Listings {
		if l.OwnerIdentityID == identityID && l.Status == ledger.ListingActive {
			l.Status = ledger.ListingFlagged
			ids = append(ids, l.ID)
		}
	}
	return ids, nil
}

func (f *Trading) Subscribe(context.Context) (<-chan ledger.RawEvent, error) {
	f.inc("Subscribe")
	return f.Events, nil
}

func (f *Trading) IsHealthy(context.Context) bool {
	f.inc("IsHealthy")
	return f.Healthy
}

// Recorder captura lo publicado en un stream.
type Recorder[T any] struct {
	mu   sync.Mutex
	msgs []T
}

func (r *Recorder[T]) Publish(v T) {
	r.mu.Lock()
	r.msgs = append(r.msgs, v)
	r.mu.Unlock()
}

// All retorna una copia de lo publicado.
func (r *Recorder[T]) All() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.msgs...)
}

var (
	_ ledger.IdentityLedger = (*Identity)(nil)
	_ ledger.TradingLedger  = (*Trading)(nil)
)
