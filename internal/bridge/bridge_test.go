package bridge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/bridgeerr"
	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger/ledgertest"
)

func seededLedgers() (*ledgertest.Identity, *ledgertest.Trading) {
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
	return id, tr
}

func startedBridge(t *testing.T, cfg Config) (*Bridge, *ledgertest.Identity, *ledgertest.Trading) {
	t.Helper()
	id, tr := seededLedgers()
	b := New(cfg, Deps{Identity: id, Trading: tr})
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(func() { b.Stop(context.Background()) })
	return b, id, tr
}

func TestStartStopLifecycle(t *testing.T) {
	id, tr := seededLedgers()
	b := New(Config{}, Deps{Identity: id, Trading: tr})
	ctx := context.Background()

	require.Equal(t, StateStopped, b.State())
	require.NoError(t, b.Start(ctx))
	require.Equal(t, StateRunning, b.State())
	require.ErrorIs(t, b.Start(ctx), bridgeerr.ErrAlreadyRunning)

	st := b.GetStatus(ctx)
	require.True(t, st.Running)
	require.True(t, st.IdentityLedgerHealthy)

	b.Stop(ctx)
	require.Equal(t, StateStopped, b.State())
	require.Equal(t, 1, id.Calls("Disconnect"))
	require.Equal(t, 1, tr.Calls("Disconnect"))

	// stop repetido es no-op
	b.Stop(ctx)
	require.Equal(t, 1, id.Calls("Disconnect"))
}

func TestStartFailureLeavesBothDisconnected(t *testing.T) {
	id, tr := seededLedgers()
	tr.ConnectErr = errors.New("rpc refused")
	b := New(Config{}, Deps{Identity: id, Trading: tr})

	err := b.Start(context.Background())
	require.ErrorIs(t, err, bridgeerr.ErrBridgeStartupFailed)
	require.Equal(t, ledger.ChainTrading, err.(*bridgeerr.Error).ID("chain"))
	require.Equal(t, StateStopped, b.State())
	require.Equal(t, 1, id.Calls("Disconnect"))
	require.Equal(t, 1, tr.Calls("Disconnect"))
	require.Zero(t, id.Calls("Subscribe"))
}

func TestStopToleratesDisconnectErrors(t *testing.T) {
	b, id, tr := startedBridge(t, Config{})
	id.DisconnectErr = errors.New("already closed")
	tr.DisconnectErr = errors.New("already closed")

	b.Stop(context.Background())
	require.Equal(t, StateStopped, b.State())
}

func TestCreateDataListingRejectsBeforeMutation(t *testing.T) {
	b, _, tr := startedBridge(t, Config{})
	ctx := context.Background()

	// ID_2 está PENDING
	_, err := b.CreateDataListing(ctx, ledger.ListingRequest{OwnerIdentityID: "ID_2", Price: 10, DataType: ledger.DataAppUsage})
	require.ErrorIs(t, err, bridgeerr.ErrIdentityValidationFailed)
	require.ErrorIs(t, err, bridgeerr.ErrIdentityNotVerified)

	// identidad inexistente
	_, err = b.CreateDataListing(ctx, ledger.ListingRequest{OwnerIdentityID: "ID_404", Price: 10, DataType: ledger.DataAppUsage})
	require.ErrorIs(t, err, bridgeerr.ErrIdentityValidationFailed)

	// owner que no coincide
	_, err = b.CreateDataListing(ctx, ledger.ListingRequest{Owner: "mallory", OwnerIdentityID: "ID_1", Price: 10, DataType: ledger.DataAppUsage})
	require.ErrorIs(t, err, bridgeerr.ErrIdentityValidationFailed)

	require.Zero(t, tr.Calls("CreateListing"))
}

func TestCreateDataListingRejectsOnInvalidProof(t *testing.T) {
	b, _, tr := startedBridge(t, Config{})
	tr.ValidateFn = func(ledger.ProofClaims) (ledger.RawValidation, error) {
		return ledger.RawValidation{Valid: false, Errors: []string{"identity flagged"}}, nil
	}
	_, err := b.CreateDataListing(context.Background(), ledger.ListingRequest{OwnerIdentityID: "ID_1", Price: 10, DataType: ledger.DataAppUsage})
	require.ErrorIs(t, err, bridgeerr.ErrIdentityValidationFailed)
	require.Equal(t, []string{"identity flagged"}, err.(*bridgeerr.Error).Reasons)
	require.Zero(t, tr.Calls("CreateListing"))
}

func TestCreateDataListing(t *testing.T) {
	b, _, tr := startedBridge(t, Config{})
	l, err := b.CreateDataListing(context.Background(), ledger.ListingRequest{
		OwnerIdentityID: "ID_1", Price: 500, DataType: ledger.DataLocationHistory, Description: "6 months",
	})
	require.NoError(t, err)
	require.Equal(t, "alice", l.Owner)
	require.Equal(t, 1, tr.Calls("CreateListing"))
}

func TestPurchaseData(t *testing.T) {
	b, _, tr := startedBridge(t, Config{})
	ctx := context.Background()

	_, err := b.PurchaseData(ctx, ledger.PurchaseRequest{ListingID: "L-missing", Buyer: "acme"})
	require.ErrorIs(t, err, bridgeerr.ErrListingNotFound)

	// sin grant para HEALTH_DATA
	_, err = b.PurchaseData(ctx, ledger.PurchaseRequest{ListingID: "L-health", Buyer: "acme"})
	require.ErrorIs(t, err, bridgeerr.ErrAccessNotGranted)
	require.Zero(t, tr.Calls("Purchase"))

	rcpt, err := b.PurchaseData(ctx, ledger.PurchaseRequest{ListingID: "L-usage", Buyer: "acme"})
	require.NoError(t, err)
	require.Equal(t, "L-usage", rcpt.Purchase.ListingID)
	require.Equal(t, "READ", rcpt.AccessProof.Permission)
	require.Equal(t, 1, tr.Calls("Purchase"))

	// listing ya vendido: el error del ledger se propaga
	_, err = b.PurchaseData(ctx, ledger.PurchaseRequest{ListingID: "L-usage", Buyer: "acme"})
	require.ErrorIs(t, err, ledger.ErrListingNotActive)
}

func TestCompositeOpsRequireRunning(t *testing.T) {
	id, tr := seededLedgers()
	b := New(Config{}, Deps{Identity: id, Trading: tr})
	_, err := b.CreateDataListing(context.Background(), ledger.ListingRequest{OwnerIdentityID: "ID_1"})
	require.ErrorIs(t, err, bridgeerr.ErrNotRunning)
	_, err = b.PurchaseData(context.Background(), ledger.PurchaseRequest{ListingID: "L-usage"})
	require.ErrorIs(t, err, bridgeerr.ErrNotRunning)
	_, err = b.CancelListing(context.Background(), "L-usage", "alice")
	require.ErrorIs(t, err, bridgeerr.ErrNotRunning)
	require.ErrorIs(t, b.WithdrawFees(context.Background(), "admin", 1), bridgeerr.ErrNotRunning)
	require.Zero(t, tr.Calls("CancelListing"))
}

func TestListingOwnerOperations(t *testing.T) {
	b, _, tr := startedBridge(t, Config{})
	ctx := context.Background()

	_, err := b.UpdateListingPrice(ctx, "L-usage", "mallory", 900)
	require.ErrorIs(t, err, ledger.ErrUnauthorized)

	l, err := b.UpdateListingPrice(ctx, "L-usage", "alice", 900)
	require.NoError(t, err)
	require.EqualValues(t, 900, l.Price)

	l, err = b.CancelListing(ctx, "L-usage", "alice")
	require.NoError(t, err)
	require.Equal(t, ledger.ListingCancelled, l.Status)

	_, err = b.CancelListing(ctx, "L-missing", "alice")
	require.ErrorIs(t, err, bridgeerr.ErrListingNotFound)
	require.Equal(t, 1, tr.Calls("CancelListing"), "listing inexistente no llega al ledger")
}

func TestStateSnapshot(t *testing.T) {
	b, _, _ := startedBridge(t, Config{})
	snap, err := b.GetStateSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Identities, 2)
	require.Len(t, snap.ActiveListings, 2)
	require.True(t, snap.Running)
}

func TestSynchronizeStatePublishesLifecycle(t *testing.T) {
	b, _, _ := startedBridge(t, Config{})
	ch, cancel := b.SubscribeLifecycle(32)
	defer cancel()

	res := b.SynchronizeState(context.Background())
	require.True(t, res.Success)
	require.Equal(t, 1, res.SyncedCount)

	var types []model.BridgeEventType
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	require.Equal(t, model.EventSyncStarted, types[0])
	require.Equal(t, model.EventSyncCompleted, types[len(types)-1])
	require.Contains(t, types, model.EventProofValidated)
}

func TestStopDuringInFlightReconciliation(t *testing.T) {
	id, tr := seededLedgers()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	finished := make(chan struct{})
	var runs atomic.Int32
	id.ListFn = func() ([]ledger.IdentityRecord, error) {
		if runs.Add(1) == 1 {
			entered <- struct{}{}
			<-release
			defer close(finished)
		}
		return nil, nil
	}
	b := New(Config{Enabled: true, ReconcileInterval: 10 * time.Millisecond}, Deps{Identity: id, Trading: tr})
	require.NoError(t, b.Start(context.Background()))

	<-entered
	b.Stop(context.Background())
	require.Equal(t, StateStopped, b.State())
	require.Equal(t, 1, id.Calls("Disconnect"))
	require.Equal(t, 1, tr.Calls("Disconnect"))

	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("in-flight run did not complete")
	}
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, runs.Load(), "no run scheduled after stop")
}

func TestCrossChainStream(t *testing.T) {
	b, id, _ := startedBridge(t, Config{})
	ch, cancel := b.SubscribeCrossChain(4)
	defer cancel()

	id.Events <- ledger.RawEvent{Kind: ledger.KindIdentityRevoked, IdentityID: "ID_2", Timestamp: time.Now()}
	select {
	case ev := <-ch:
		require.Equal(t, ledger.ChainIdentity, ev.OriginChain)
		require.Equal(t, ledger.KindIdentityRevoked, ev.EventType)
	case <-time.After(time.Second):
		t.Fatal("no cross-chain event")
	}
}

func TestStopWhileStartingAbortsStart(t *testing.T) {
	id, tr := seededLedgers()
	entered := make(chan struct{})
	release := make(chan struct{})
	tr.ConnectFn = func() {
		close(entered)
		<-release
	}
	b := New(Config{Enabled: true, ReconcileInterval: time.Hour}, Deps{Identity: id, Trading: tr})

	startErr := make(chan error, 1)
	go func() { startErr <- b.Start(context.Background()) }()
	<-entered
	require.Equal(t, StateStarting, b.State())

	stopped := make(chan struct{})
	go func() {
		b.Stop(context.Background())
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("stop returned before start finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop did not return")
	}
	err := <-startErr
	require.ErrorIs(t, err, bridgeerr.ErrBridgeStartupFailed)
	require.ErrorIs(t, err, ErrStopRequested)
	require.Equal(t, StateStopped, b.State())
	require.Equal(t, 1, id.Calls("Disconnect"))
	require.Equal(t, 1, tr.Calls("Disconnect"))

	// un Start posterior funciona normalmente
	tr.ConnectFn = nil
	require.NoError(t, b.Start(context.Background()))
	require.Equal(t, StateRunning, b.State())
	b.Stop(context.Background())
}

func TestDrainWaitsForInFlightRun(t *testing.T) {
	id, tr := seededLedgers()
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var runs atomic.Int32
	id.ListFn = func() ([]ledger.IdentityRecord, error) {
		if runs.Add(1) == 1 {
			entered <- struct{}{}
			<-release
		}
		return nil, nil
	}
	b := New(Config{Enabled: true, ReconcileInterval: 10 * time.Millisecond}, Deps{Identity: id, Trading: tr})
	require.NoError(t, b.Start(context.Background()))
	<-entered
	b.Stop(context.Background())

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, b.Drain(short), context.DeadlineExceeded)

	close(release)
	require.NoError(t, b.Drain(context.Background()))
}
