// Package ledger define la superficie de capacidades que el bridge consume de
// los dos ledgers (identidad y trading) y el modelo de datos compartido.
//
// Las implementaciones viven en subpaquetes: memledger (simulador en memoria)
// y httpledger (gateways remotos).
package ledger

import (
	"encoding/json"
	"strings"
	"time"
)

// Chain tags. Son prefijos disjuntos de los event ids.
const (
	ChainIdentity = "hyperledger"
	ChainTrading  = "solana"
)

// IdentityStatus es el estado del ciclo de vida de una identidad.
// PENDING → VERIFIED → REVOKED, o PENDING → REJECTED.
type IdentityStatus string

const (
	StatusPending  IdentityStatus = "PENDING"
	StatusVerified IdentityStatus = "VERIFIED"
	StatusRevoked  IdentityStatus = "REVOKED"
	StatusRejected IdentityStatus = "REJECTED"
)

// VerificationLevel es ordenado: BASIC < ENHANCED < HIGH < CREDENTIAL.
type VerificationLevel string

const (
	LevelBasic      VerificationLevel = "BASIC"
	LevelEnhanced   VerificationLevel = "ENHANCED"
	LevelHigh       VerificationLevel = "HIGH"
	LevelCredential VerificationLevel = "CREDENTIAL"
)

// Rank retorna la posición del nivel en el orden; 0 para niveles desconocidos.
func (l VerificationLevel) Rank() int {
	switch l {
	case LevelBasic:
		return 1
	case LevelEnhanced:
		return 2
	case LevelHigh:
		return 3
	case LevelCredential:
		return 4
	default:
		return 0
	}
}

// Known indica si el nivel pertenece al catálogo.
func (l VerificationLevel) Known() bool { return l.Rank() > 0 }

// DataType es la categoría de datos tokenizada en un listing.
// Los tipos custom se expresan como "CUSTOM:<nombre>".
type DataType string

const (
	DataLocationHistory     DataType = "LOCATION_HISTORY"
	DataAppUsage            DataType = "APP_USAGE"
	DataPurchaseHistory     DataType = "PURCHASE_HISTORY"
	DataHealth              DataType = "HEALTH_DATA"
	DataSocialMediaActivity DataType = "SOCIAL_MEDIA_ACTIVITY"
	DataSearchHistory       DataType = "SEARCH_HISTORY"

	customPrefix = "CUSTOM:"
)

// CustomDataType construye un DataType custom.
func CustomDataType(name string) DataType {
	return DataType(customPrefix + strings.TrimSpace(name))
}

// Valid indica si el tipo es del catálogo o un custom con nombre.
func (d DataType) Valid() bool {
	switch d {
	case DataLocationHistory, DataAppUsage, DataPurchaseHistory, DataHealth,
		DataSocialMediaActivity, DataSearchHistory:
		return true
	}
	s := string(d)
	return strings.HasPrefix(s, customPrefix) && len(strings.TrimSpace(s[len(customPrefix):])) > 0
}

// AccessGrant permite a un consumer acceder a ciertos data types bajo una identidad.
type AccessGrant struct {
	IdentityID string     `json:"identityId"`
	Consumer   string     `json:"consumer"`
	Permission string     `json:"permission"`
	DataTypes  []DataType `json:"dataTypes"`
	GrantedAt  time.Time  `json:"grantedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Active     bool       `json:"active"`
}

// Usable: activo y sin expiración o con expiración posterior a now.
func (g AccessGrant) Usable(now time.Time) bool {
	if !g.Active {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// Covers indica si el grant incluye el data type.
func (g AccessGrant) Covers(dt DataType) bool {
	for _, d := range g.DataTypes {
		if d == dt {
			return true
		}
	}
	return false
}

// IdentityRecord es la vista del bridge de una identidad del ledger de identidades.
// El bridge solo mantiene copias de lectura.
type IdentityRecord struct {
	ID                string            `json:"id"`
	Owner             string            `json:"owner"`
	Provider          string            `json:"provider"`
	Type              string            `json:"type"`
	Status            IdentityStatus    `json:"status"`
	VerificationLevel VerificationLevel `json:"verificationLevel"`
	Grants            []AccessGrant     `json:"grants,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	VerifiedAt        *time.Time        `json:"verifiedAt,omitempty"`
	UpdatedAt         *time.Time        `json:"updatedAt,omitempty"`
	RevokedAt         *time.Time        `json:"revokedAt,omitempty"`
}

// FindGrant busca el primer grant usable para (consumer, dataType).
func (r IdentityRecord) FindGrant(consumer string, dt DataType, now time.Time) (AccessGrant, bool) {
	for _, g := range r.Grants {
		if g.Consumer == consumer && g.Covers(dt) && g.Usable(now) {
			return g, true
		}
	}
	return AccessGrant{}, false
}

// RawProof es el material criptográfico que produce un ledger.
type RawProof struct {
	Signature string `json:"signature"`
	LedgerRef string `json:"ledgerRef"`
}

// RawValidation es el resultado de un validador de ledger.
type RawValidation struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ListingStatus es el estado de un listing en el marketplace.
type ListingStatus string

const (
	ListingActive    ListingStatus = "ACTIVE"
	ListingSold      ListingStatus = "SOLD"
	ListingCancelled ListingStatus = "CANCELLED"
	ListingFlagged   ListingStatus = "FLAGGED"
)

// Listing es un data NFT listado en el ledger de trading.
type Listing struct {
	ID              string        `json:"id"`
	Owner           string        `json:"owner"`
	OwnerIdentityID string        `json:"ownerIdentityId"`
	Price           uint64        `json:"price"`
	DataType        DataType      `json:"dataType"`
	Description     string        `json:"description"`
	Status          ListingStatus `json:"status"`
	LedgerRef       string        `json:"ledgerRef,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	SoldAt          *time.Time    `json:"soldAt,omitempty"`
	CancelledAt     *time.Time    `json:"cancelledAt,omitempty"`
	FlaggedAt       *time.Time    `json:"flaggedAt,omitempty"`
	Buyer           string        `json:"buyer,omitempty"`
}

// ListingRequest son los datos para crear un listing.
type ListingRequest struct {
	Owner           string   `json:"owner"`
	OwnerIdentityID string   `json:"ownerIdentityId"`
	Price           uint64   `json:"price"`
	DataType        DataType `json:"dataType"`
	Description     string   `json:"description"`
}

// PurchaseRequest son los datos de una compra.
type PurchaseRequest struct {
	ListingID  string `json:"listingId"`
	Buyer      string `json:"buyer"`
	IdentityID string `json:"identityId"`
}

// PurchaseResult es el resultado de una compra en el ledger de trading.
type PurchaseResult struct {
	ListingID   string    `json:"listingId"`
	Buyer       string    `json:"buyer"`
	Amount      uint64    `json:"amount"`
	Fee         uint64    `json:"fee"`
	OwnerAmount uint64    `json:"ownerAmount"`
	LedgerRef   string    `json:"ledgerRef"`
	PurchasedAt time.Time `json:"purchasedAt"`
}

// AccessLogEntry se escribe en el ledger de identidades cuando se compran datos.
type AccessLogEntry struct {
	IdentityID string    `json:"identityId"`
	Consumer   string    `json:"consumer"`
	DataType   DataType  `json:"dataType"`
	ListingID  string    `json:"listingId"`
	SourceRef  string    `json:"sourceRef"`
	AccessedAt time.Time `json:"accessedAt"`
}

// RawEvent es el evento tal como lo entrega la suscripción de un ledger.
// El payload se decodifica en el borde (ver events.go).
type RawEvent struct {
	Kind       string          `json:"kind"`
	IdentityID string          `json:"identityId"`
	LedgerRef  string          `json:"ledgerRef"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}
