package httpledger

import (
	"context"
	"net/http"
	"net/url"

	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
)

// TradingClient habla con el gateway del marketplace.
type TradingClient struct {
	*client
}

func NewTradingClient(cfg Config) *TradingClient {
	return &TradingClient{client: newClient(ledger.ChainTrading, cfg)}
}

func (c *TradingClient) CreateListing(ctx context.Context, req ledger.ListingRequest) (ledger.Listing, error) {
	var l ledger.Listing
	err := c.call(ctx, http.MethodPost, "/listings", req, &l)
	return l, err
}

func (c *TradingClient) GetListing(ctx context.Context, id string) (*ledger.Listing, error) {
	var l ledger.Listing
	err := c.call(ctx, http.MethodGet, "/listings/"+url.PathEscape(id), nil, &l)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *TradingClient) GetActiveListings(ctx context.Context) ([]ledger.Listing, error) {
	var out []ledger.Listing
	if err := c.call(ctx, http.MethodGet, "/listings?status="+string(ledger.ListingActive), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *TradingClient) Purchase(ctx context.Context, req ledger.PurchaseRequest) (ledger.PurchaseResult, error) {
	var res ledger.PurchaseResult
	err := c.call(ctx, http.MethodPost, "/listings/"+url.PathEscape(req.ListingID)+"/purchase", req, &res)
	return res, err
}

func (c *TradingClient) UpdatePrice(ctx context.Context, listingID, owner string, price uint64) error {
	return c.call(ctx, http.MethodPut, "/listings/"+url.PathEscape(listingID)+"/price", priceRequest{Owner: owner, Price: price}, nil)
}

func (c *TradingClient) CancelListing(ctx context.Context, listingID, owner string) error {
	return c.call(ctx, http.MethodPost, "/listings/"+url.PathEscape(listingID)+"/cancel", cancelRequest{Owner: owner}, nil)
}

func (c *TradingClient) WithdrawFees(ctx context.Context, authority string, amount uint64) error {
	return c.call(ctx, http.MethodPost, "/fees/withdraw", withdrawRequest{Authority: authority, Amount: amount}, nil)
}

func (c *TradingClient) ValidateIdentityProofRaw(ctx context.Context, proof ledger.ProofClaims) (ledger.RawValidation, error) {
	var v ledger.RawValidation
	err := c.call(ctx, http.MethodPost, "/proofs/validate", proof, &v)
	return v, err
}

func (c *TradingClient) SetTradingEnabled(ctx context.Context, identityID string, enabled bool) error {
	return c.call(ctx, http.MethodPut, "/identities/"+url.PathEscape(identityID)+"/trading", tradingRequest{Enabled: enabled}, nil)
}

func (c *TradingClient) FlagListingsForRemoval(ctx context.Context, identityID string) ([]string, error) {
	var fr flagResponse
	if err := c.call(ctx, http.MethodPost, "/identities/"+url.PathEscape(identityID)+"/flag-listings", nil, &fr); err != nil {
		return nil, err
	}
	return fr.ListingIDs, nil
}

func (c *TradingClient) Subscribe(ctx context.Context) (<-chan ledger.RawEvent, error) {
	return c.subscribe(ctx)
}

var _ ledger.TradingLedger = (*TradingClient)(nil)
