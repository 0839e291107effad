package httpledger

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
)

// IdentityClient habla con el gateway del ledger de identidades.
type IdentityClient struct {
	*client
}

func NewIdentityClient(cfg Config) *IdentityClient {
	return &IdentityClient{client: newClient(ledger.ChainIdentity, cfg)}
}

func (c *IdentityClient) GetIdentity(ctx context.Context, id string) (*ledger.IdentityRecord, error) {
	var rec ledger.IdentityRecord
	err := c.call(ctx, http.MethodGet, "/identities/"+url.PathEscape(id), nil, &rec)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *IdentityClient) GetIdentitiesByOwner(ctx context.Context, owner string) ([]ledger.IdentityRecord, error) {
	var out []ledger.IdentityRecord
	if err := c.call(ctx, http.MethodGet, "/identities?owner="+url.QueryEscape(owner), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IdentityClient) ListIdentities(ctx context.Context) ([]ledger.IdentityRecord, error) {
	var out []ledger.IdentityRecord
	if err := c.call(ctx, http.MethodGet, "/identities", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IdentityClient) GenerateIdentityProofRaw(ctx context.Context, id string) (ledger.RawProof, error) {
	var p ledger.RawProof
	err := c.call(ctx, http.MethodPost, "/identities/"+url.PathEscape(id)+"/proofs", nil, &p)
	return p, err
}

func (c *IdentityClient) GenerateAccessProofRaw(ctx context.Context, id, consumer string, dataType ledger.DataType) (ledger.RawProof, error) {
	var p ledger.RawProof
	err := c.call(ctx, http.MethodPost, "/identities/"+url.PathEscape(id)+"/access-proofs",
		accessProofRequest{Consumer: consumer, DataType: dataType}, &p)
	return p, err
}

func (c *IdentityClient) ValidateIdentityProofRaw(ctx context.Context, proof ledger.ProofClaims) (ledger.RawValidation, error) {
	var v ledger.RawValidation
	err := c.call(ctx, http.MethodPost, "/proofs/validate", proof, &v)
	return v, err
}

func (c *IdentityClient) RecordDataAccess(ctx context.Context, entry ledger.AccessLogEntry) error {
	return c.call(ctx, http.MethodPost, "/access-log", entry, nil)
}

func (c *IdentityClient) Subscribe(ctx context.Context) (<-chan ledger.RawEvent, error) {
	return c.subscribe(ctx)
}

func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

var _ ledger.IdentityLedger = (*IdentityClient)(nil)
