// Package bridge contiene los controllers HTTP de las operaciones del bridge.
package bridge

import (
	"context"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
)

// Service es la superficie del orquestador que expone el gateway.
type Service interface {
	GenerateIdentityProof(ctx context.Context, identityID string) (*model.IdentityProof, error)
	ValidateIdentityProof(ctx context.Context, p model.IdentityProof) model.ValidationOutcome
	GenerateAccessProof(ctx context.Context, identityID, consumer string, dataType ledger.DataType) (*model.AccessProof, error)
	CreateDataListing(ctx context.Context, req ledger.ListingRequest) (*ledger.Listing, error)
	PurchaseData(ctx context.Context, req ledger.PurchaseRequest) (*model.PurchaseReceipt, error)
	UpdateListingPrice(ctx context.Context, listingID, owner string, price uint64) (*ledger.Listing, error)
	CancelListing(ctx context.Context, listingID, owner string) (*ledger.Listing, error)
	WithdrawFees(ctx context.Context, authority string, amount uint64) error
	SynchronizeState(ctx context.Context) model.SyncResult
	GetStateSnapshot(ctx context.Context) (*model.StateSnapshot, error)
	GetStatus(ctx context.Context) model.Status
}

// Controllers agrupa los controllers del dominio bridge.
type Controllers struct {
	Proofs *ProofsController
	Market *MarketController
	State  *StateController
}

func NewControllers(s Service) *Controllers {
	return &Controllers{
		Proofs: NewProofsController(s),
		Market: NewMarketController(s),
		State:  NewStateController(s),
	}
}
