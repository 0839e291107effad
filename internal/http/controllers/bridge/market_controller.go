package bridge

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/datasov-bridge/internal/audit"
	httperrors "github.com/dropDatabas3/datasov-bridge/internal/http/errors"
	"github.com/dropDatabas3/datasov-bridge/internal/http/helpers"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

type MarketController struct {
	service Service
}

func NewMarketController(s Service) *MarketController {
	return &MarketController{service: s}
}

type priceRequest struct {
	Owner string `json:"owner"`
	Price uint64 `json:"price"`
}

type cancelRequest struct {
	Owner string `json:"owner"`
}

type withdrawRequest struct {
	Authority string `json:"authority"`
	Amount    uint64 `json:"amount"`
}

type purchaseRequest struct {
	Buyer      string `json:"buyer"`
	IdentityID string `json:"identityId"`
}

// CreateListing maneja POST /v1/listings
func (c *MarketController) CreateListing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ledger.ListingRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	req.OwnerIdentityID = strings.TrimSpace(req.OwnerIdentityID)
	if req.OwnerIdentityID == "" || req.DataType == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("ownerIdentityId, dataType"))
		return
	}
	if !req.DataType.Valid() {
		httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("dataType desconocido: "+string(req.DataType)))
		return
	}

	l, err := c.service.CreateDataListing(ctx, req)
	if err != nil {
		writeErr(w, r, "MarketController.CreateListing", err)
		return
	}
	audit.Log(ctx, audit.ListingCreated, logger.ListingID(l.ID), logger.IdentityID(l.OwnerIdentityID),
		logger.Principal(l.Owner), logger.Any("price", l.Price))
	w.Header().Set("Location", "/v1/listings/"+l.ID)
	helpers.WriteJSON(w, http.StatusCreated, l)
}

// Purchase maneja POST /v1/listings/{id}/purchase
func (c *MarketController) Purchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	listingID := chi.URLParam(r, "id")
	var body purchaseRequest
	if !helpers.ReadJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Buyer) == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("buyer"))
		return
	}

	rec, err := c.service.PurchaseData(ctx, ledger.PurchaseRequest{
		ListingID:  listingID,
		Buyer:      body.Buyer,
		IdentityID: strings.TrimSpace(body.IdentityID),
	})
	if err != nil {
		writeErr(w, r, "MarketController.Purchase", err)
		return
	}
	audit.Log(ctx, audit.DataPurchased, logger.ListingID(listingID), logger.Principal(body.Buyer),
		logger.LedgerRef(rec.Purchase.LedgerRef), logger.Any("amount", rec.Purchase.Amount),
		logger.Any("fee", rec.Purchase.Fee))
	helpers.WriteJSON(w, http.StatusOK, rec)
}

// UpdatePrice maneja PUT /v1/listings/{id}/price
func (c *MarketController) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	listingID := chi.URLParam(r, "id")
	var body priceRequest
	if !helpers.ReadJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Owner) == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("owner"))
		return
	}

	l, err := c.service.UpdateListingPrice(ctx, listingID, strings.TrimSpace(body.Owner), body.Price)
	if err != nil {
		writeErr(w, r, "MarketController.UpdatePrice", err)
		return
	}
	audit.Log(ctx, audit.ListingRepriced, logger.ListingID(listingID), logger.Principal(body.Owner),
		logger.Any("price", body.Price))
	helpers.WriteJSON(w, http.StatusOK, l)
}

// Cancel maneja POST /v1/listings/{id}/cancel
func (c *MarketController) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	listingID := chi.URLParam(r, "id")
	var body cancelRequest
	if !helpers.ReadJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Owner) == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("owner"))
		return
	}

	l, err := c.service.CancelListing(ctx, listingID, strings.TrimSpace(body.Owner))
	if err != nil {
		writeErr(w, r, "MarketController.Cancel", err)
		return
	}
	audit.Log(ctx, audit.ListingCanceled, logger.ListingID(listingID), logger.Principal(body.Owner))
	helpers.WriteJSON(w, http.StatusOK, l)
}

// WithdrawFees maneja POST /v1/fees/withdraw
func (c *MarketController) WithdrawFees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body withdrawRequest
	if !helpers.ReadJSON(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Authority) == "" || body.Amount == 0 {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("authority, amount"))
		return
	}

	if err := c.service.WithdrawFees(ctx, strings.TrimSpace(body.Authority), body.Amount); err != nil {
		writeErr(w, r, "MarketController.WithdrawFees", err)
		return
	}
	audit.Log(ctx, audit.FeesWithdrawn, logger.Principal(body.Authority), logger.Any("amount", body.Amount))
	w.WriteHeader(http.StatusNoContent)
}
