package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
	"github.com/dropDatabas3/datasov-bridge/internal/bridge/proof"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger/ledgertest"
)

func identities(n int, status ledger.IdentityStatus) []ledger.IdentityRecord {
	out := make([]ledger.IdentityRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ledger.IdentityRecord{
			ID: fmt.Sprintf("ID_%d", i), Owner: fmt.Sprintf("owner-%d", i),
			Status: status, VerificationLevel: ledger.LevelEnhanced,
		})
	}
	return out
}

func newEngine(id *ledgertest.Identity, events model.LifecyclePublisher) *Engine {
	tr := ledgertest.NewTrading()
	svc := proof.NewService(proof.Deps{Identity: id, Trading: tr})
	return NewEngine(Deps{Identities: id, Proofs: svc, Events: events})
}

func TestRunCountsFailuresPerIdentity(t *testing.T) {
	recs := identities(5, ledger.StatusVerified)
	id := ledgertest.NewIdentity(recs...)
	// K=2 fallan validación criptográfica
	id.ValidateFn = func(p ledger.ProofClaims) (ledger.RawValidation, error) {
		if p.IdentityID == "ID_1" || p.IdentityID == "ID_3" {
			return ledger.RawValidation{Valid: false, Errors: []string{"signature mismatch"}}, nil
		}
		return ledger.RawValidation{Valid: true}, nil
	}
	rec := &ledgertest.Recorder[model.BridgeEvent]{}

	res := newEngine(id, rec).Run(context.Background(), "test")
	require.Equal(t, 3, res.SyncedCount)
	require.Equal(t, 2, res.FailedCount)
	require.False(t, res.Success)
	require.Len(t, res.Errors, 2)

	evs := rec.All()
	require.Equal(t, model.EventSyncStarted, evs[0].Type)
	last := evs[len(evs)-1]
	require.Equal(t, model.EventSyncFailed, last.Type)
	require.Equal(t, 2, last.Sync.FailedCount)
}

func TestRunIsolatesPanickingIdentity(t *testing.T) {
	recs := identities(4, ledger.StatusVerified)
	id := ledgertest.NewIdentity(recs...)
	id.ProofFn = func(identityID string) (ledger.RawProof, error) {
		if identityID == "ID_2" {
			panic("ledger client bug")
		}
		return ledger.RawProof{Signature: "s", LedgerRef: "r"}, nil
	}

	res := newEngine(id, nil).Run(context.Background(), "test")
	require.Equal(t, 3, res.SyncedCount)
	require.Equal(t, 1, res.FailedCount)
	require.Contains(t, res.Errors[0], "ID_2")
}

func TestRunSkipsNonVerified(t *testing.T) {
	recs := append(identities(2, ledger.StatusVerified), ledger.IdentityRecord{ID: "P", Status: ledger.StatusPending})
	id := ledgertest.NewIdentity(recs...)
	rec := &ledgertest.Recorder[model.BridgeEvent]{}

	res := newEngine(id, rec).Run(context.Background(), "test")
	require.True(t, res.Success)
	require.Equal(t, 2, res.SyncedCount)
	require.Zero(t, res.FailedCount)
	require.Empty(t, res.Errors)

	evs := rec.All()
	require.Equal(t, model.EventSyncCompleted, evs[len(evs)-1].Type)
}

func TestEnumerationFailureYieldsWellFormedResult(t *testing.T) {
	id := ledgertest.NewIdentity()
	id.ListFn = func() ([]ledger.IdentityRecord, error) { return nil, errors.New("channel unavailable") }

	res := newEngine(id, nil).Run(context.Background(), "test")
	require.False(t, res.Success)
	require.Equal(t, 1, res.FailedCount)
	require.Zero(t, res.SyncedCount)
	require.Zero(t, res.Duration)
	require.Contains(t, res.Errors[0], "channel unavailable")
}

func TestTryRunSkipsWhenBusy(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	id := ledgertest.NewIdentity()
	id.ListFn = func() ([]ledger.IdentityRecord, error) {
		close(entered)
		<-release
		return nil, nil
	}
	e := newEngine(id, nil)

	go e.Run(context.Background(), "manual")
	<-entered
	_, ran := e.TryRun(context.Background(), "schedule")
	require.False(t, ran)
	close(release)
}

func TestSchedulerStopPreventsNewRuns(t *testing.T) {
	var runs atomic.Int32
	id := ledgertest.NewIdentity(identities(1, ledger.StatusVerified)...)
	id.ListFn = func() ([]ledger.IdentityRecord, error) {
		runs.Add(1)
		return nil, nil
	}
	s := NewScheduler(newEngine(id, nil), 10*time.Millisecond, nil)
	s.Start(context.Background())

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Wait()
	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, after, runs.Load())

	// Stop repetido no bloquea
	s.Stop()
}
