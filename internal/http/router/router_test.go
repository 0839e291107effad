package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge"
	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger/ledgertest"
	"github.com/dropDatabas3/datasov-bridge/internal/rate"
	"github.com/dropDatabas3/datasov-bridge/internal/store"
)

type harness struct {
	b     *bridge.Bridge
	tr    *ledgertest.Trading
	store *store.Memory
	h     http.Handler
}

func newHarness(t *testing.T, limiter rate.Limiter) *harness {
	t.Helper()
	now := time.Now().UTC()
	id := ledgertest.NewIdentity(
		ledger.IdentityRecord{
			ID: "ID_1", Owner: "alice", Status: ledger.StatusVerified, VerificationLevel: ledger.LevelHigh,
			Grants: []ledger.AccessGrant{{
				IdentityID: "ID_1", Consumer: "acme", Permission: "READ",
				DataTypes: []ledger.DataType{ledger.DataAppUsage}, GrantedAt: now.Add(-time.Hour), Active: true,
			}},
		},
		ledger.IdentityRecord{ID: "ID_2", Owner: "bob", Status: ledger.StatusPending, VerificationLevel: ledger.LevelBasic},
	)
	tr := ledgertest.NewTrading(
		ledger.Listing{ID: "L-usage", Owner: "alice", OwnerIdentityID: "ID_1", Price: 100, DataType: ledger.DataAppUsage, Status: ledger.ListingActive},
		ledger.Listing{ID: "L-health", Owner: "alice", OwnerIdentityID: "ID_1", Price: 100, DataType: ledger.DataHealth, Status: ledger.ListingActive},
	)
	b := bridge.New(bridge.Config{}, bridge.Deps{Identity: id, Trading: tr})
	t.Cleanup(func() {
		b.Stop(context.Background())
		b.Close()
	})
	st := store.NewMemory()
	return &harness{
		b:     b,
		tr:    tr,
		store: st,
		h:     New(Deps{Bridge: b, Store: st, JWKS: []byte(`{"keys":[]}`), Limiter: limiter}),
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.b.Start(context.Background()))
}

func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndReadiness(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = h.do(http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.start(t)
	rec = h.do(http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, true, body["isRunning"])
	require.Equal(t, true, body["storeHealthy"])
}

func TestRequestIDPropagates(t *testing.T) {
	h := newHarness(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "rid-123")
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	require.Equal(t, "rid-123", rec.Header().Get("X-Request-ID"))
}

func TestIdentityProofErrors(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	rec := h.do(http.MethodPost, "/v1/proofs/identity", map[string]string{"identityId": "ID_1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ID_1", decode(t, rec)["identityId"])

	rec = h.do(http.MethodPost, "/v1/proofs/identity", map[string]string{"identityId": "ID_X"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "IDENTITY_NOT_FOUND", body["code"])
	require.Equal(t, "ID_X", body["ids"].(map[string]any)["identity_id"])

	rec = h.do(http.MethodPost, "/v1/proofs/identity", map[string]string{"identityId": "ID_2"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "IDENTITY_NOT_VERIFIED", decode(t, rec)["code"])

	rec = h.do(http.MethodPost, "/v1/proofs/identity", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "MISSING_FIELDS", decode(t, rec)["code"])
}

func TestValidateMalformedProofIsOK(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodPost, "/v1/proofs/identity/validate", model.IdentityProof{IdentityID: "ID_1"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, false, body["valid"])
	require.Equal(t, "MALFORMED_PROOF", body["reason"])
}

func TestAccessProof(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	rec := h.do(http.MethodPost, "/v1/proofs/access", map[string]string{"identityId": "ID_1", "consumer": "acme", "dataType": "APP_USAGE"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "acme", decode(t, rec)["consumer"])

	rec = h.do(http.MethodPost, "/v1/proofs/access", map[string]string{"identityId": "ID_1", "consumer": "acme", "dataType": "HEALTH_DATA"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "ACCESS_NOT_GRANTED", decode(t, rec)["code"])

	rec = h.do(http.MethodPost, "/v1/proofs/access", map[string]string{"identityId": "ID_1", "consumer": "acme", "dataType": "DNA"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompositeOperationsNeedRunningBridge(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodPost, "/v1/listings", ledger.ListingRequest{OwnerIdentityID: "ID_1", Price: 10, DataType: ledger.DataAppUsage})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "BRIDGE_NOT_RUNNING", decode(t, rec)["code"])
}

func TestCreateListingAndPurchase(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	rec := h.do(http.MethodPost, "/v1/listings", ledger.ListingRequest{OwnerIdentityID: "ID_1", Price: 10, DataType: ledger.DataAppUsage})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "alice", body["owner"])
	require.Equal(t, "/v1/listings/"+body["id"].(string), rec.Header().Get("Location"))

	rec = h.do(http.MethodPost, "/v1/listings", ledger.ListingRequest{OwnerIdentityID: "ID_2", Price: 10, DataType: ledger.DataAppUsage})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "IDENTITY_VALIDATION_FAILED", decode(t, rec)["code"])

	rec = h.do(http.MethodPost, "/v1/listings/L-health/purchase", map[string]string{"buyer": "acme"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/v1/listings/L-usage/purchase", map[string]string{"buyer": "acme"})
	require.Equal(t, http.StatusOK, rec.Code)
	receipt := decode(t, rec)
	require.Equal(t, "ptx-L-usage", receipt["purchase"].(map[string]any)["ledgerRef"])
	require.Equal(t, "acme", receipt["accessProof"].(map[string]any)["consumer"])

	rec = h.do(http.MethodPost, "/v1/listings/L-usage/purchase", map[string]string{"buyer": "acme"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "LISTING_NOT_ACTIVE", decode(t, rec)["code"])

	rec = h.do(http.MethodPost, "/v1/listings/L-nope/purchase", map[string]string{"buyer": "acme"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "LISTING_NOT_FOUND", decode(t, rec)["code"])
}

func TestListingOwnerOperations(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	rec := h.do(http.MethodPut, "/v1/listings/L-usage/price", map[string]any{"owner": "mallory", "price": 250})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "UNAUTHORIZED", decode(t, rec)["code"])

	rec = h.do(http.MethodPut, "/v1/listings/L-usage/price", map[string]any{"owner": "alice", "price": 0})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "INVALID_PRICE", decode(t, rec)["code"])

	rec = h.do(http.MethodPut, "/v1/listings/L-usage/price", map[string]any{"owner": "alice", "price": 250})
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 250, decode(t, rec)["price"])

	rec = h.do(http.MethodPost, "/v1/listings/L-usage/cancel", map[string]string{"owner": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, string(ledger.ListingCancelled), decode(t, rec)["status"])

	rec = h.do(http.MethodPost, "/v1/listings/L-usage/cancel", map[string]string{"owner": "alice"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "LISTING_NOT_ACTIVE", decode(t, rec)["code"])

	rec = h.do(http.MethodPost, "/v1/listings/L-nope/cancel", map[string]string{"owner": "alice"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "LISTING_NOT_FOUND", decode(t, rec)["code"])
}

func TestWithdrawFeesMapsLedgerErrors(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.tr.WithdrawFn = func(authority string, amount uint64) error {
		if authority != "admin" {
			return ledger.ErrUnauthorized
		}
		if amount > 5 {
			return ledger.ErrInsufficientFunds
		}
		return nil
	}

	rec := h.do(http.MethodPost, "/v1/fees/withdraw", map[string]any{"authority": "alice", "amount": 1})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/v1/fees/withdraw", map[string]any{"authority": "admin", "amount": 9})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "INSUFFICIENT_FUNDS", decode(t, rec)["code"])

	rec = h.do(http.MethodPost, "/v1/fees/withdraw", map[string]any{"authority": "admin", "amount": 5})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(http.MethodPost, "/v1/fees/withdraw", map[string]any{"authority": "admin"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRejectsNonJSON(t *testing.T) {
	h := newHarness(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/proofs/identity", bytes.NewBufferString("identityId=ID_1"))
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncAndStatus(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	rec := h.do(http.MethodPost, "/v1/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.Equal(t, true, body["success"])
	require.EqualValues(t, 1, body["syncedCount"])

	rec = h.do(http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "RUNNING", decode(t, rec)["state"])

	rec = h.do(http.MethodGet, "/v1/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode(t, rec)
	require.Len(t, snap["identities"], 2)
	require.Len(t, snap["activeListings"], 2)
}

func TestHistoryEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	base := time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)
	require.NoError(t, h.store.SaveCrossChainEvent(ctx, model.CrossChainEvent{EventID: "e1", OriginChain: ledger.ChainIdentity, EventType: "IDENTITY_VERIFIED", IdentityID: "ID_1", EmittedAt: base}))
	require.NoError(t, h.store.SaveCrossChainEvent(ctx, model.CrossChainEvent{EventID: "e2", OriginChain: ledger.ChainTrading, EventType: "DATA_PURCHASED", IdentityID: "ID_1", EmittedAt: base.Add(time.Minute)}))
	_, err := h.store.SaveSyncReport(ctx, model.SyncResult{Success: true, SyncedCount: 2, Trigger: "manual"})
	require.NoError(t, err)

	rec := h.do(http.MethodGet, "/v1/events?origin=solana", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	evs := decode(t, rec)["events"].([]any)
	require.Len(t, evs, 1)
	require.Equal(t, "e2", evs[0].(map[string]any)["eventId"])

	rec = h.do(http.MethodGet, "/v1/events?since=not-a-time", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/v1/events/e1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(http.MethodGet, "/v1/events/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodGet, "/v1/sync/reports?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode(t, rec)["reports"], 1)

	rec = h.do(http.MethodGet, "/v1/sync/reports?limit=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitOnMutatingRoutes(t *testing.T) {
	h := newHarness(t, rate.NewMemoryLimiter(1, time.Minute))
	h.start(t)

	rec := h.do(http.MethodPost, "/v1/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(http.MethodPost, "/v1/sync", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	// lecturas no pasan por el limiter
	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, h.do(http.MethodGet, "/v1/status", nil).Code)
	}
}

func TestJWKSAndNotFound(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodGet, "/.well-known/jwks.json", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"keys":[]}`, rec.Body.String())

	rec = h.do(http.MethodGet, "/v1/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", decode(t, rec)["code"])

	rec = h.do(http.MethodDelete, "/v1/status", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
