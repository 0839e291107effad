package ledger

import (
	"encoding/json"
	"fmt"
	"time"
)

// Tipos de evento del ledger de identidades.
const (
	KindIdentityRegistered = "IDENTITY_REGISTERED"
	KindIdentityVerified   = "IDENTITY_VERIFIED"
	KindIdentityUpdated    = "IDENTITY_UPDATED"
	KindIdentityRevoked    = "IDENTITY_REVOKED"
	KindAccessGranted      = "ACCESS_GRANTED"
	KindAccessRevoked      = "ACCESS_REVOKED"
)

// Tipos de evento del ledger de trading.
const (
	KindDataPurchased  = "DATA_PURCHASED"
	KindFeeDistributed = "FEE_DISTRIBUTED"
)

// EventMeta son los campos comunes a toda variante.
type EventMeta struct {
	Kind       string          `json:"-"`
	IdentityID string          `json:"-"`
	LedgerRef  string          `json:"-"`
	Timestamp  time.Time       `json:"-"`
	Payload    json.RawMessage `json:"-"`
}

func (m EventMeta) Meta() EventMeta { return m }

// IdentityEvent es la unión cerrada de eventos del ledger de identidades.
type IdentityEvent interface {
	Meta() EventMeta
	identityEvent()
}

// TradingEvent es la unión cerrada de eventos del ledger de trading.
type TradingEvent interface {
	Meta() EventMeta
	tradingEvent()
}

type IdentityRegistered struct {
	EventMeta
	Owner    string `json:"owner"`
	Provider string `json:"provider"`
	Type     string `json:"type"`
}

type IdentityVerified struct {
	EventMeta
	Level VerificationLevel `json:"verificationLevel"`
}

type IdentityUpdated struct {
	EventMeta
}

type IdentityRevoked struct {
	EventMeta
	Reason string `json:"reason"`
}

type AccessGranted struct {
	EventMeta
	Consumer   string     `json:"consumer"`
	Permission string     `json:"permission"`
	DataTypes  []DataType `json:"dataTypes"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

type AccessRevoked struct {
	EventMeta
	Consumer string `json:"consumer"`
}

// UnknownIdentityEvent agrupa cualquier kind no reconocido.
type UnknownIdentityEvent struct {
	EventMeta
}

func (IdentityRegistered) identityEvent()   {}
func (IdentityVerified) identityEvent()     {}
func (IdentityUpdated) identityEvent()      {}
func (IdentityRevoked) identityEvent()      {}
func (AccessGranted) identityEvent()        {}
func (AccessRevoked) identityEvent()        {}
func (UnknownIdentityEvent) identityEvent() {}

type DataPurchased struct {
	EventMeta
	ListingID string   `json:"listingId"`
	Buyer     string   `json:"buyer"`
	DataType  DataType `json:"dataType"`
	Amount    uint64   `json:"amount"`
}

type FeeDistributed struct {
	EventMeta
	ListingID   string `json:"listingId"`
	Recipient   string `json:"recipient"`
	Fee         uint64 `json:"fee"`
	OwnerAmount uint64 `json:"ownerAmount"`
}

// UnknownTradingEvent agrupa cualquier kind no reconocido.
type UnknownTradingEvent struct {
	EventMeta
}

func (DataPurchased) tradingEvent()       {}
func (FeeDistributed) tradingEvent()      {}
func (UnknownTradingEvent) tradingEvent() {}

func metaOf(raw RawEvent) EventMeta {
	return EventMeta{
		Kind:       raw.Kind,
		IdentityID: raw.IdentityID,
		LedgerRef:  raw.LedgerRef,
		Timestamp:  raw.Timestamp,
		Payload:    raw.Payload,
	}
}

func decodePayload(raw RawEvent, dst any) error {
	if len(raw.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw.Payload, dst); err != nil {
		return fmt.Errorf("ledger: decode %s payload: %w", raw.Kind, err)
	}
	return nil
}

// DecodeIdentityEvent convierte un RawEvent en su variante tipada.
// Un payload mal formado retorna la variante igual (con meta) junto al error.
func DecodeIdentityEvent(raw RawEvent) (IdentityEvent, error) {
	meta := metaOf(raw)
	switch raw.Kind {
	case KindIdentityRegistered:
		ev := IdentityRegistered{EventMeta: meta}
		err := decodePayload(raw, &ev)
		return ev, err
	case KindIdentityVerified:
		ev := IdentityVerified{EventMeta: meta}
		err := decodePayload(raw, &ev)
		return ev, err
	case KindIdentityUpdated:
		return IdentityUpdated{EventMeta: meta}, nil
	case KindIdentityRevoked:
		ev := IdentityRevoked{EventMeta: meta}
		err := decodePayload(raw, &ev)
		return ev, err
	case KindAccessGranted:
		ev := AccessGranted{EventMeta: meta}
		err := decodePayload(raw, &ev)
		return ev, err
	case KindAccessRevoked:
		ev := AccessRevoked{EventMeta: meta}
		err := decodePayload(raw, &ev)
		return ev, err
	default:
		return UnknownIdentityEvent{EventMeta: meta}, nil
	}
}

// DecodeTradingEvent convierte un RawEvent en su variante tipada.
func DecodeTradingEvent(raw RawEvent) (TradingEvent, error) {
	meta := metaOf(raw)
	switch raw.Kind {
	case KindDataPurchased:
		ev := DataPurchased{EventMeta: meta}
		err := decodePayload(raw, &ev)
		return ev, err
	case KindFeeDistributed:
		ev := FeeDistributed{EventMeta: meta}
		err := decodePayload(raw, &ev)
		return ev, err
	default:
		return UnknownTradingEvent{EventMeta: meta}, nil
	}
}
