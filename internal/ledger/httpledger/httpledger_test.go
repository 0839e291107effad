package httpledger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger/memledger"
)

type gateways struct {
	idLedger *memledger.IdentityLedger
	trLedger *memledger.TradingLedger
	identity *IdentityClient
	trading  *TradingClient
}

func setup(t *testing.T) gateways {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	idl, err := memledger.NewIdentityLedger()
	require.NoError(t, err)
	require.NoError(t, idl.Connect(ctx))
	trl, err := memledger.NewTradingLedger(memledger.MarketplaceConfig{FeeBasisPoints: 250, Authority: "admin"})
	require.NoError(t, err)
	require.NoError(t, trl.Connect(ctx))
	trl.Trust(idl.PublicKey())

	idh, err := NewIdentityHandler(ctx, idl)
	require.NoError(t, err)
	trh, err := NewTradingHandler(ctx, trl)
	require.NoError(t, err)
	idSrv := httptest.NewServer(idh)
	trSrv := httptest.NewServer(trh)
	t.Cleanup(idSrv.Close)
	t.Cleanup(trSrv.Close)

	cfg := func(u string) Config { return Config{BaseURL: u, Timeout: 2 * time.Second, PollWait: 200 * time.Millisecond} }
	g := gateways{
		idLedger: idl,
		trLedger: trl,
		identity: NewIdentityClient(cfg(idSrv.URL)),
		trading:  NewTradingClient(cfg(trSrv.URL)),
	}
	require.NoError(t, g.identity.Connect(ctx))
	require.NoError(t, g.trading.Connect(ctx))
	return g
}

func TestNotConnectedBeforeConnect(t *testing.T) {
	c := NewIdentityClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := c.GetIdentity(context.Background(), "x")
	require.ErrorIs(t, err, ledger.ErrNotConnected)
	require.Error(t, c.Connect(context.Background()))
	require.Error(t, NewTradingClient(Config{}).Connect(context.Background()))
}

func TestIdentityRoundTrip(t *testing.T) {
	ctx := context.Background()
	g := setup(t)
	_, err := g.idLedger.Register(ctx, memledger.Registration{ID: "ID_1", Owner: "alice"})
	require.NoError(t, err)
	require.NoError(t, g.idLedger.Verify(ctx, "ID_1", ledger.LevelHigh))
	require.NoError(t, g.idLedger.GrantAccess(ctx, ledger.AccessGrant{IdentityID: "ID_1", Consumer: "acme", Permission: "READ", DataTypes: []ledger.DataType{ledger.DataAppUsage}}))

	rec, err := g.identity.GetIdentity(ctx, "ID_1")
	require.NoError(t, err)
	require.Equal(t, ledger.StatusVerified, rec.Status)
	require.Len(t, rec.Grants, 1)

	missing, err := g.identity.GetIdentity(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	byOwner, err := g.identity.GetIdentitiesByOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, byOwner, 1)
	all, err := g.identity.ListIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	raw, err := g.identity.GenerateIdentityProofRaw(ctx, "ID_1")
	require.NoError(t, err)
	claims := ledger.ProofClaims{IdentityID: "ID_1", Owner: "alice", VerificationLevel: ledger.LevelHigh, Signature: raw.Signature, LedgerRef: raw.LedgerRef}
	v, err := g.identity.ValidateIdentityProofRaw(ctx, claims)
	require.NoError(t, err)
	require.True(t, v.Valid)

	// el validador secundario confía en la misma clave
	v, err = g.trading.ValidateIdentityProofRaw(ctx, claims)
	require.NoError(t, err)
	require.True(t, v.Valid)

	_, err = g.identity.GenerateAccessProofRaw(ctx, "ID_1", "acme", ledger.DataAppUsage)
	require.NoError(t, err)
	_, err = g.identity.GenerateIdentityProofRaw(ctx, "ghost")
	require.ErrorIs(t, err, ledger.ErrUnknownIdentity)

	require.NoError(t, g.identity.RecordDataAccess(ctx, ledger.AccessLogEntry{IdentityID: "ID_1", Consumer: "acme", ListingID: "L1", SourceRef: "tx"}))
	require.Len(t, g.idLedger.AccessLog(), 1)
}

func TestTradingErrorsKeepIdentity(t *testing.T) {
	ctx := context.Background()
	g := setup(t)

	_, err := g.trading.CreateListing(ctx, ledger.ListingRequest{Owner: "alice", OwnerIdentityID: "ID_1", DataType: ledger.DataAppUsage})
	require.ErrorIs(t, err, ledger.ErrInvalidPrice)

	l, err := g.trading.CreateListing(ctx, ledger.ListingRequest{Owner: "alice", OwnerIdentityID: "ID_1", Price: 1000, DataType: ledger.DataAppUsage})
	require.NoError(t, err)

	active, err := g.trading.GetActiveListings(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)

	res, err := g.trading.Purchase(ctx, ledger.PurchaseRequest{ListingID: l.ID, Buyer: "acme"})
	require.NoError(t, err)
	require.EqualValues(t, 25, res.Fee)

	_, err = g.trading.Purchase(ctx, ledger.PurchaseRequest{ListingID: l.ID, Buyer: "acme"})
	require.ErrorIs(t, err, ledger.ErrListingNotActive)
	_, err = g.trading.Purchase(ctx, ledger.PurchaseRequest{ListingID: "nope", Buyer: "acme"})
	require.ErrorIs(t, err, ledger.ErrUnknownListing)
	require.Contains(t, err.Error(), "nope")

	got, err := g.trading.GetListing(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, g.trading.SetTradingEnabled(ctx, "ID_1", false))
	require.False(t, g.trLedger.TradingEnabled("ID_1"))
	ids, err := g.trading.FlagListingsForRemoval(ctx, "ID_1")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestOwnerOperationsOverTheWire(t *testing.T) {
	ctx := context.Background()
	g := setup(t)

	l, err := g.trading.CreateListing(ctx, ledger.ListingRequest{Owner: "alice", OwnerIdentityID: "ID_1", Price: 1000, DataType: ledger.DataAppUsage})
	require.NoError(t, err)

	require.ErrorIs(t, g.trading.UpdatePrice(ctx, l.ID, "mallory", 10), ledger.ErrUnauthorized)
	require.ErrorIs(t, g.trading.UpdatePrice(ctx, l.ID, "alice", 0), ledger.ErrInvalidPrice)
	require.ErrorIs(t, g.trading.UpdatePrice(ctx, "nope", "alice", 10), ledger.ErrUnknownListing)
	require.NoError(t, g.trading.UpdatePrice(ctx, l.ID, "alice", 2000))

	require.NoError(t, g.trading.CancelListing(ctx, l.ID, "alice"))
	got, err := g.trading.GetListing(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.ListingCancelled, got.Status)
	require.EqualValues(t, 2000, got.Price)
	require.ErrorIs(t, g.trading.CancelListing(ctx, l.ID, "alice"), ledger.ErrListingNotActive)

	l2, err := g.trading.CreateListing(ctx, ledger.ListingRequest{Owner: "alice", OwnerIdentityID: "ID_1", Price: 1000, DataType: ledger.DataAppUsage})
	require.NoError(t, err)
	_, err = g.trading.Purchase(ctx, ledger.PurchaseRequest{ListingID: l2.ID, Buyer: "acme"})
	require.NoError(t, err)
	require.EqualValues(t, 25, g.trLedger.CollectedFees())

	require.ErrorIs(t, g.trading.WithdrawFees(ctx, "alice", 1), ledger.ErrUnauthorized)
	require.ErrorIs(t, g.trading.WithdrawFees(ctx, "admin", 26), ledger.ErrInsufficientFunds)
	require.NoError(t, g.trading.WithdrawFees(ctx, "admin", 25))
	require.Zero(t, g.trLedger.CollectedFees())
}

func TestUnknownFailureIsStatusError(t *testing.T) {
	ctx := context.Background()
	g := setup(t)
	g.idLedger.Faults.Set("ListIdentities", errors.New("peer down"))

	_, err := g.identity.ListIdentities(ctx)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadGateway, se.Status)
	require.Contains(t, se.Message, "peer down")
}

func TestSubscribeDeliversNewEventsInOrder(t *testing.T) {
	ctx := context.Background()
	g := setup(t)

	// anterior a la suscripción: no se entrega
	_, err := g.idLedger.Register(ctx, memledger.Registration{ID: "OLD", Owner: "x"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		var head eventPage
		return g.identity.do(ctx, http.MethodGet, "/events?wait=0s", nil, &head) == nil && head.Next == 1
	}, time.Second, 10*time.Millisecond)

	ch, err := g.identity.Subscribe(ctx)
	require.NoError(t, err)

	_, err = g.idLedger.Register(ctx, memledger.Registration{ID: "ID_1", Owner: "alice"})
	require.NoError(t, err)
	require.NoError(t, g.idLedger.Verify(ctx, "ID_1", ledger.LevelBasic))

	var got []string
	for len(got) < 2 {
		select {
		case ev := <-ch:
			got = append(got, ev.Kind+":"+ev.IdentityID)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %v", got)
		}
	}
	require.Equal(t, []string{ledger.KindIdentityRegistered + ":ID_1", ledger.KindIdentityVerified + ":ID_1"}, got)

	require.NoError(t, g.identity.Disconnect(ctx))
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	require.False(t, g.identity.IsHealthy(ctx))
}

func TestSubscriptionClosesAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/health":
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		case r.URL.Query().Get("after") == "":
			writeJSON(w, http.StatusOK, eventPage{Next: 0})
		default:
			writeErr(w, http.StatusInternalServerError, "boom", errors.New("down"))
		}
	}))
	defer srv.Close()

	c := NewTradingClient(Config{BaseURL: srv.URL, Timeout: time.Second, PollWait: 10 * time.Millisecond, MaxPollFailures: 2})
	c.backoff = time.Millisecond
	require.NoError(t, c.Connect(context.Background()))
	ch, err := c.Subscribe(context.Background())
	require.NoError(t, err)

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream not closed")
	}
}
