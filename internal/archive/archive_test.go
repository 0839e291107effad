package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
	"github.com/dropDatabas3/datasov-bridge/internal/bridge/stream"
	"github.com/dropDatabas3/datasov-bridge/internal/store"
)

type fakeSource struct {
	cross     *stream.Broadcaster[model.CrossChainEvent]
	lifecycle *stream.Broadcaster[model.BridgeEvent]
}

func (f fakeSource) SubscribeCrossChain(n int) (<-chan model.CrossChainEvent, func()) {
	return f.cross.Subscribe(n)
}

func (f fakeSource) SubscribeLifecycle(n int) (<-chan model.BridgeEvent, func()) {
	return f.lifecycle.Subscribe(n)
}

func TestArchiverPersistsEventsAndFinishedRuns(t *testing.T) {
	src := fakeSource{
		cross:     stream.New[model.CrossChainEvent]("cross", nil),
		lifecycle: stream.New[model.BridgeEvent]("lifecycle", nil),
	}
	st := store.NewMemory()
	a := New(src, st, 16)
	a.Start(context.Background())

	src.cross.Publish(model.CrossChainEvent{EventID: "hyperledger_1_1", OriginChain: "hyperledger", EventType: "IDENTITY_VERIFIED"})
	src.lifecycle.Publish(model.BridgeEvent{Type: model.EventSyncStarted})
	src.lifecycle.Publish(model.BridgeEvent{Type: model.EventSyncCompleted, Sync: &model.SyncResult{Success: true, SyncedCount: 4}})
	src.lifecycle.Publish(model.BridgeEvent{Type: model.EventSyncFailed, Sync: &model.SyncResult{FailedCount: 1, Errors: []string{"enumerate identities: down"}}})
	src.lifecycle.Publish(model.BridgeEvent{Type: model.EventProofValidated, IdentityID: "ID_1"})

	a.Stop()

	ctx := context.Background()
	evs, err := st.ListCrossChainEvents(ctx, store.EventFilter{})
	require.NoError(t, err)
	require.Len(t, evs, 1)

	reps, err := st.ListSyncReports(ctx, 0)
	require.NoError(t, err)
	require.Len(t, reps, 2)
	require.False(t, reps[0].Success)
	require.Equal(t, 4, reps[1].SyncedCount)
}

func TestStopIsIdempotent(t *testing.T) {
	src := fakeSource{
		cross:     stream.New[model.CrossChainEvent]("cross", nil),
		lifecycle: stream.New[model.BridgeEvent]("lifecycle", nil),
	}
	a := New(src, store.NewMemory(), 0)
	a.Start(context.Background())
	done := make(chan struct{})
	go func() {
		a.Stop()
		a.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stop blocked")
	}
}
