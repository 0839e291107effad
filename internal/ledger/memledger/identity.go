package memledger

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
)

// IdentityLedger simula el ledger permisionado de identidades.
// Las proofs raw son firmas Ed25519 y los ledger refs digests SHA3-256.
type IdentityLedger struct {
	Faults Faults

	mu         sync.RWMutex
	connected  bool
	identities map[string]*ledger.IdentityRecord
	access     []ledger.AccessLogEntry
	feed       *feed
	priv       ed25519.PrivateKey
	pub        ed25519.PublicKey
	now        func() time.Time
}

// Option configura un ledger simulado.
type Option func(*options)

type options struct {
	now  func() time.Time
	seed []byte
}

// WithClock fija el reloj (tests).
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithSigningSeed fija la clave Ed25519 del ledger (32 bytes).
func WithSigningSeed(seed []byte) Option { return func(o *options) { o.seed = seed } }

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NewIdentityLedger crea el ledger vacío.
func NewIdentityLedger(opts ...Option) (*IdentityLedger, error) {
	o := buildOptions(opts)
	var priv ed25519.PrivateKey
	if len(o.seed) > 0 {
		if len(o.seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("memledger: signing seed must be %d bytes", ed25519.SeedSize)
		}
		priv = ed25519.NewKeyFromSeed(o.seed)
	} else {
		var err error
		_, priv, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, err
		}
	}
	return &IdentityLedger{
		identities: map[string]*ledger.IdentityRecord{},
		feed:       newFeed(),
		priv:       priv,
		pub:        priv.Public().(ed25519.PublicKey),
		now:        o.now,
	}, nil
}

// PublicKey es la clave con la que el ledger firma proofs. El ledger de trading
// la usa como validador secundario.
func (l *IdentityLedger) PublicKey() ed25519.PublicKey { return l.pub }

func (l *IdentityLedger) Connect(context.Context) error {
	if err := l.Faults.check("Connect"); err != nil {
		return err
	}
	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()
	return nil
}

func (l *IdentityLedger) Disconnect(context.Context) error {
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
	l.feed.closeAll()
	return l.Faults.check("Disconnect")
}

func (l *IdentityLedger) guard(op string) error {
	if err := l.Faults.check(op); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.connected {
		return ledger.ErrNotConnected
	}
	return nil
}

func (l *IdentityLedger) IsHealthy(context.Context) bool {
	if l.Faults.check("IsHealthy") != nil {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.connected
}

func (l *IdentityLedger) Subscribe(ctx context.Context) (<-chan ledger.RawEvent, error) {
	if err := l.guard("Subscribe"); err != nil {
		return nil, err
	}
	return l.feed.subscribe(ctx), nil
}

// ----- lecturas -----

func (l *IdentityLedger) GetIdentity(_ context.Context, id string) (*ledger.IdentityRecord, error) {
	if err := l.guard("GetIdentity"); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.identities[id]
	if !ok {
		return nil, nil
	}
	cp := clone(rec)
	return &cp, nil
}

func (l *IdentityLedger) GetIdentitiesByOwner(_ context.Context, owner string) ([]ledger.IdentityRecord, error) {
	if err := l.guard("GetIdentitiesByOwner"); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []ledger.IdentityRecord{}
	for _, rec := range l.sortedLocked() {
		if rec.Owner == owner {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

func (l *IdentityLedger) ListIdentities(context.Context) ([]ledger.IdentityRecord, error) {
	if err := l.guard("ListIdentities"); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ledger.IdentityRecord, 0, len(l.identities))
	for _, rec := range l.sortedLocked() {
		out = append(out, clone(rec))
	}
	return out, nil
}

// AccessLog retorna las entradas registradas por RecordDataAccess.
func (l *IdentityLedger) AccessLog() []ledger.AccessLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]ledger.AccessLogEntry(nil), l.access...)
}

func (l *IdentityLedger) sortedLocked() []*ledger.IdentityRecord {
	out := make([]*ledger.IdentityRecord, 0, len(l.identities))
	for _, rec := range l.identities {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func clone(rec *ledger.IdentityRecord) ledger.IdentityRecord {
	cp := *rec
	cp.Grants = make([]ledger.AccessGrant, len(rec.Grants))
	for i, g := range rec.Grants {
		g.DataTypes = append([]ledger.DataType(nil), g.DataTypes...)
		cp.Grants[i] = g
	}
	return cp
}

// ----- proofs -----

func identityMessage(id, owner string, level ledger.VerificationLevel, ref string) []byte {
	return []byte(strings.Join([]string{"identity", id, owner, string(level), ref}, "|"))
}

func accessMessage(id, consumer string, dt ledger.DataType, ref string) []byte {
	return []byte(strings.Join([]string{"access", id, consumer, string(dt), ref}, "|"))
}

// txRef deriva un id de transacción SHA3-256 único por llamada.
func txRef(parts ...string) string {
	h := sha3.Sum256([]byte(strings.Join(append(parts, uuid.NewString()), "|")))
	return hex.EncodeToString(h[:])
}

func (l *IdentityLedger) GenerateIdentityProofRaw(_ context.Context, id string) (ledger.RawProof, error) {
	if err := l.guard("GenerateIdentityProofRaw"); err != nil {
		return ledger.RawProof{}, err
	}
	l.mu.RLock()
	rec, ok := l.identities[id]
	var owner string
	var level ledger.VerificationLevel
	var status ledger.IdentityStatus
	if ok {
		owner, level, status = rec.Owner, rec.VerificationLevel, rec.Status
	}
	l.mu.RUnlock()
	if !ok {
		return ledger.RawProof{}, fmt.Errorf("%w: %s", ledger.ErrUnknownIdentity, id)
	}
	if status != ledger.StatusVerified {
		return ledger.RawProof{}, fmt.Errorf("memledger: identity %s is %s", id, status)
	}

	ref := txRef("identity", id)
	sig := ed25519.Sign(l.priv, identityMessage(id, owner, level, ref))
	return ledger.RawProof{Signature: base64.StdEncoding.EncodeToString(sig), LedgerRef: ref}, nil
}

func (l *IdentityLedger) GenerateAccessProofRaw(_ context.Context, id, consumer string, dataType ledger.DataType) (ledger.RawProof, error) {
	if err := l.guard("GenerateAccessProofRaw"); err != nil {
		return ledger.RawProof{}, err
	}
	l.mu.RLock()
	rec, ok := l.identities[id]
	granted := ok && hasGrant(rec, consumer, dataType, l.now())
	l.mu.RUnlock()
	if !ok {
		return ledger.RawProof{}, fmt.Errorf("%w: %s", ledger.ErrUnknownIdentity, id)
	}
	if !granted {
		return ledger.RawProof{}, fmt.Errorf("memledger: no grant for %s on %s", consumer, dataType)
	}

	ref := txRef("access", id, consumer, string(dataType))
	sig := ed25519.Sign(l.priv, accessMessage(id, consumer, dataType, ref))
	return ledger.RawProof{Signature: base64.StdEncoding.EncodeToString(sig), LedgerRef: ref}, nil
}

func hasGrant(rec *ledger.IdentityRecord, consumer string, dt ledger.DataType, now time.Time) bool {
	_, ok := rec.FindGrant(consumer, dt, now)
	return ok
}

// ValidateIdentityProofRaw verifica firma, existencia, estado y que la proof
// refleje el owner y nivel actuales.
func (l *IdentityLedger) ValidateIdentityProofRaw(_ context.Context, p ledger.ProofClaims) (ledger.RawValidation, error) {
	if err := l.guard("ValidateIdentityProofRaw"); err != nil {
		return ledger.RawValidation{}, err
	}
	var errs []string
	if !VerifySignature(l.pub, p) {
		errs = append(errs, "signature does not verify")
	}

	l.mu.RLock()
	rec, ok := l.identities[p.IdentityID]
	var cur ledger.IdentityRecord
	if ok {
		cur = clone(rec)
	}
	l.mu.RUnlock()

	var warnings []string
	switch {
	case !ok:
		errs = append(errs, "identity not found on ledger")
	default:
		if cur.Status != ledger.StatusVerified {
			errs = append(errs, fmt.Sprintf("identity status is %s", cur.Status))
		}
		if cur.Owner != p.Owner {
			errs = append(errs, "owner does not match ledger record")
		}
		if cur.VerificationLevel != p.VerificationLevel {
			if cur.VerificationLevel.Rank() > p.VerificationLevel.Rank() {
				warnings = append(warnings, "verification level upgraded since issuance")
			} else {
				errs = append(errs, "verification level downgraded since issuance")
			}
		}
	}
	return ledger.RawValidation{Valid: len(errs) == 0, Errors: errs, Warnings: warnings}, nil
}

// VerifySignature verifica una firma de identity proof contra la pública del ledger.
func VerifySignature(pub ed25519.PublicKey, p ledger.ProofClaims) bool {
	sig, err := base64.StdEncoding.DecodeString(p.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, identityMessage(p.IdentityID, p.Owner, p.VerificationLevel, p.LedgerRef), sig)
}

func (l *IdentityLedger) RecordDataAccess(_ context.Context, e ledger.AccessLogEntry) error {
	if err := l.guard("RecordDataAccess"); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.identities[e.IdentityID]; !ok {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownIdentity, e.IdentityID)
	}
	// idempotente ante re-entregas del mismo evento
	for _, prev := range l.access {
		if prev.SourceRef != "" && prev.SourceRef == e.SourceRef && prev.ListingID == e.ListingID {
			return nil
		}
	}
	l.access = append(l.access, e)
	return nil
}

// ----- mutaciones (simulan transacciones del chaincode) -----

// Registration son los datos para registrar una identidad. ID vacío genera uno.
type Registration struct {
	ID       string
	Owner    string
	Provider string
	Type     string
}

var ErrInvalidTransition = errors.New("memledger: invalid status transition")

// Register crea una identidad PENDING.
func (l *IdentityLedger) Register(_ context.Context, r Registration) (ledger.IdentityRecord, error) {
	if strings.TrimSpace(r.Owner) == "" {
		return ledger.IdentityRecord{}, errors.New("memledger: owner required")
	}
	if r.ID == "" {
		r.ID = "did:datasov:" + uuid.NewString()
	}
	now := l.now().UTC()

	l.mu.Lock()
	if _, dup := l.identities[r.ID]; dup {
		l.mu.Unlock()
		return ledger.IdentityRecord{}, fmt.Errorf("memledger: identity %s already exists", r.ID)
	}
	rec := &ledger.IdentityRecord{
		ID: r.ID, Owner: r.Owner, Provider: r.Provider, Type: r.Type,
		Status: ledger.StatusPending, CreatedAt: now,
	}
	l.identities[r.ID] = rec
	out := clone(rec)
	l.mu.Unlock()

	l.emit(ledger.KindIdentityRegistered, r.ID, now, map[string]string{
		"owner": r.Owner, "provider": r.Provider, "type": r.Type,
	})
	return out, nil
}

// Verify pasa PENDING -> VERIFIED con el nivel dado. Sobre una identidad ya
// verificada actualiza el nivel y emite IDENTITY_UPDATED.
func (l *IdentityLedger) Verify(_ context.Context, id string, level ledger.VerificationLevel) error {
	now := l.now().UTC()
	l.mu.Lock()
	rec, ok := l.identities[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ledger.ErrUnknownIdentity, id)
	}
	kind := ledger.KindIdentityVerified
	switch rec.Status {
	case ledger.StatusPending:
		rec.Status = ledger.StatusVerified
		rec.VerifiedAt = &now
	case ledger.StatusVerified:
		kind = ledger.KindIdentityUpdated
		rec.UpdatedAt = &now
	default:
		l.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, ledger.StatusVerified)
	}
	rec.VerificationLevel = level
	l.mu.Unlock()

	l.emit(kind, id, now, map[string]string{"verificationLevel": string(level)})
	return nil
}

// Reject pasa PENDING -> REJECTED.
func (l *IdentityLedger) Reject(_ context.Context, id string) error {
	now := l.now().UTC()
	l.mu.Lock()
	rec, ok := l.identities[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ledger.ErrUnknownIdentity, id)
	}
	if rec.Status != ledger.StatusPending {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, ledger.StatusRejected)
	}
	rec.Status = ledger.StatusRejected
	rec.UpdatedAt = &now
	l.mu.Unlock()

	l.emit(ledger.KindIdentityUpdated, id, now, map[string]string{"status": string(ledger.StatusRejected)})
	return nil
}

// Revoke pasa VERIFIED -> REVOKED y desactiva todos los grants.
func (l *IdentityLedger) Revoke(_ context.Context, id, reason string) error {
	now := l.now().UTC()
	l.mu.Lock()
	rec, ok := l.identities[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ledger.ErrUnknownIdentity, id)
	}
	if rec.Status != ledger.StatusVerified {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, ledger.StatusRevoked)
	}
	rec.Status = ledger.StatusRevoked
	rec.RevokedAt = &now
	for i := range rec.Grants {
		rec.Grants[i].Active = false
	}
	l.mu.Unlock()

	l.emit(ledger.KindIdentityRevoked, id, now, map[string]string{"reason": reason})
	return nil
}

// GrantAccess agrega un grant activo. GrantedAt vacío usa el reloj del ledger.
func (l *IdentityLedger) GrantAccess(_ context.Context, g ledger.AccessGrant) error {
	if g.Consumer == "" || len(g.DataTypes) == 0 {
		return errors.New("memledger: grant needs consumer and data types")
	}
	now := l.now().UTC()
	if g.GrantedAt.IsZero() {
		g.GrantedAt = now
	}
	g.Active = true

	l.mu.Lock()
	rec, ok := l.identities[g.IdentityID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ledger.ErrUnknownIdentity, g.IdentityID)
	}
	if rec.Status == ledger.StatusRevoked || rec.Status == ledger.StatusRejected {
		l.mu.Unlock()
		return fmt.Errorf("memledger: identity %s is %s", g.IdentityID, rec.Status)
	}
	g.DataTypes = append([]ledger.DataType(nil), g.DataTypes...)
	rec.Grants = append(rec.Grants, g)
	rec.UpdatedAt = &now
	l.mu.Unlock()

	l.emit(ledger.KindAccessGranted, g.IdentityID, now, map[string]any{
		"consumer":   g.Consumer,
		"permission": g.Permission,
		"dataTypes":  g.DataTypes,
		"expiresAt":  g.ExpiresAt,
	})
	return nil
}

// RevokeAccess desactiva todos los grants del consumer.
func (l *IdentityLedger) RevokeAccess(_ context.Context, id, consumer string) error {
	now := l.now().UTC()
	l.mu.Lock()
	rec, ok := l.identities[id]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ledger.ErrUnknownIdentity, id)
	}
	n := 0
	for i := range rec.Grants {
		if rec.Grants[i].Consumer == consumer && rec.Grants[i].Active {
			rec.Grants[i].Active = false
			n++
		}
	}
	if n > 0 {
		rec.UpdatedAt = &now
	}
	l.mu.Unlock()

	if n == 0 {
		return fmt.Errorf("memledger: no active grant for %s", consumer)
	}
	l.emit(ledger.KindAccessRevoked, id, now, map[string]string{"consumer": consumer})
	return nil
}

// put carga una identidad sin emitir eventos (seed).
func (l *IdentityLedger) put(rec ledger.IdentityRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := clone(&rec)
	l.identities[rec.ID] = &cp
}

func (l *IdentityLedger) emit(kind, id string, ts time.Time, payload any) {
	l.feed.publish(ledger.RawEvent{
		Kind:       kind,
		IdentityID: id,
		LedgerRef:  txRef(kind, id),
		Timestamp:  ts,
		Payload:    mustJSON(payload),
	})
}

var _ ledger.IdentityLedger = (*IdentityLedger)(nil)
