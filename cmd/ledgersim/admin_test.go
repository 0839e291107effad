package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger/memledger"
)

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdminIdentityLifecycle(t *testing.T) {
	ctx := context.Background()
	id, tr, err := memledger.NewPair(memledger.PairConfig{})
	require.NoError(t, err)
	require.NoError(t, id.Connect(ctx))
	h := adminRoutes(id, tr)

	rec := post(t, h, "/identities", `{"identityId":"ID_9","owner":"carol","provider":"gov","identityType":"PASSPORT"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = post(t, h, "/identities/ID_9/verify", `{"verificationLevel":"ENHANCED"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = post(t, h, "/identities/ID_9/grants", `{"consumer":"acme","dataTypes":["APP_USAGE"],"expiresIn":"24h"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := id.GetIdentity(ctx, "ID_9")
	require.NoError(t, err)
	require.Equal(t, ledger.StatusVerified, got.Status)
	require.Equal(t, ledger.LevelEnhanced, got.VerificationLevel)
	require.Len(t, got.Grants, 1)
	require.NotNil(t, got.Grants[0].ExpiresAt)

	// VERIFIED -> REJECTED no es una transición válida
	rec = post(t, h, "/identities/ID_9/reject", `{}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "INVALID_TRANSITION")

	rec = post(t, h, "/identities/ID_9/grants", `{"consumer":"acme","dataTypes":["APP_USAGE"],"expiresIn":"soon"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	st := httptest.NewRecorder()
	h.ServeHTTP(st, req)
	require.Equal(t, http.StatusOK, st.Code)
	require.Contains(t, st.Body.String(), "ID_9")
}

func TestMuxServesListingOwnerOperations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	id, tr, err := memledger.NewPair(memledger.PairConfig{
		Marketplace: memledger.MarketplaceConfig{Authority: "admin", FeeBasisPoints: 250},
	})
	require.NoError(t, err)
	require.NoError(t, id.Connect(ctx))
	require.NoError(t, tr.Connect(ctx))
	h, err := newMux(ctx, id, tr)
	require.NoError(t, err)

	l, err := tr.CreateListing(ctx, ledger.ListingRequest{Owner: "carol", OwnerIdentityID: "ID_9", Price: 400, DataType: ledger.DataAppUsage})
	require.NoError(t, err)

	rec := post(t, h, "/trading/listings/"+l.ID+"/cancel", `{"owner":"mallory"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = post(t, h, "/trading/listings/"+l.ID+"/cancel", `{"owner":"carol"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	got, err := tr.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.ListingCancelled, got.Status)

	rec = post(t, h, "/trading/fees/withdraw", `{"authority":"admin","amount":1}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "insufficient_funds")

	req := httptest.NewRequest(http.MethodGet, "/admin/fees", nil)
	fees := httptest.NewRecorder()
	h.ServeHTTP(fees, req)
	require.Equal(t, http.StatusOK, fees.Code)
}
