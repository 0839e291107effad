package ledger

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected lo retornan los clientes cuando se usan antes de Connect.
	ErrNotConnected = errors.New("ledger: not connected")
	// ErrListingNotActive: compra sobre un listing vendido, cancelado o flaggeado.
	ErrListingNotActive = errors.New("ledger: listing is not active")
	// ErrInvalidPrice: listing con precio 0.
	ErrInvalidPrice = errors.New("ledger: invalid price")
	// ErrTradingDisabled: la identidad no tiene capacidad de trading.
	ErrTradingDisabled = errors.New("ledger: trading disabled for identity")
	// ErrUnauthorized: el caller no es el owner del listing o la autoridad del marketplace.
	ErrUnauthorized = errors.New("ledger: unauthorized")
	// ErrUnknownListing: el id no corresponde a ningún listing.
	ErrUnknownListing = errors.New("ledger: invalid listing id")
	// ErrUnknownIdentity: el id no corresponde a ninguna identidad.
	ErrUnknownIdentity = errors.New("ledger: unknown identity")
	// ErrInsufficientFunds: retiro de fees mayor a lo acumulado.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
)

// IdentityLedger es la capacidad que expone el ledger permisionado de identidades.
// Las implementaciones deben ser seguras para uso concurrente.
type IdentityLedger interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	// GetIdentity retorna (nil, nil) si la identidad no existe.
	GetIdentity(ctx context.Context, id string) (*IdentityRecord, error)
	GetIdentitiesByOwner(ctx context.Context, owner string) ([]IdentityRecord, error)
	ListIdentities(ctx context.Context) ([]IdentityRecord, error)

	GenerateIdentityProofRaw(ctx context.Context, id string) (RawProof, error)
	GenerateAccessProofRaw(ctx context.Context, id, consumer string, dataType DataType) (RawProof, error)
	ValidateIdentityProofRaw(ctx context.Context, proof ProofClaims) (RawValidation, error)

	RecordDataAccess(ctx context.Context, entry AccessLogEntry) error

	// Subscribe entrega eventos en orden FIFO hasta que ctx se cancela
	// o el cliente se desconecta; el canal se cierra en ambos casos.
	Subscribe(ctx context.Context) (<-chan RawEvent, error)
	IsHealthy(ctx context.Context) bool
}

// TradingLedger es la capacidad que expone el ledger abierto de trading.
type TradingLedger interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	CreateListing(ctx context.Context, req ListingRequest) (Listing, error)
	// GetListing retorna (nil, nil) si el listing no existe.
	GetListing(ctx context.Context, id string) (*Listing, error)
	GetActiveListings(ctx context.Context) ([]Listing, error)
	Purchase(ctx context.Context, req PurchaseRequest) (PurchaseResult, error)
	// UpdatePrice y CancelListing solo aplican a listings activos y solo al owner.
	UpdatePrice(ctx context.Context, listingID, owner string, price uint64) error
	CancelListing(ctx context.Context, listingID, owner string) error
	// WithdrawFees retira fees acumulados; solo la autoridad del marketplace.
	WithdrawFees(ctx context.Context, authority string, amount uint64) error

	// ValidateIdentityProofRaw es el validador secundario.
	ValidateIdentityProofRaw(ctx context.Context, proof ProofClaims) (RawValidation, error)

	SetTradingEnabled(ctx context.Context, identityID string, enabled bool) error
	// FlagListingsForRemoval marca los listings activos de la identidad y retorna sus ids.
	FlagListingsForRemoval(ctx context.Context, identityID string) ([]string, error)

	Subscribe(ctx context.Context) (<-chan RawEvent, error)
	IsHealthy(ctx context.Context) bool
}

// ProofClaims es la parte de un IdentityProof que los validadores de ledger inspeccionan.
// Se define aquí para que los ledgers no dependan del paquete del bridge.
type ProofClaims struct {
	IdentityID        string            `json:"identityId"`
	Owner             string            `json:"owner"`
	VerificationLevel VerificationLevel `json:"verificationLevel"`
	Signature         string            `json:"signature"`
	LedgerRef         string            `json:"ledgerRef"`
}
