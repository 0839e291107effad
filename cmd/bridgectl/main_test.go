package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWithQuerySkipsEmpty(t *testing.T) {
	require.Equal(t, "/v1/events", withQuery("/v1/events", "origin", "", "limit", itoa(0)))
	require.Equal(t, "/v1/events?limit=5&origin=solana", withQuery("/v1/events", "origin", "solana", "limit", itoa(5)))
}

func TestProofIdentityPostsBody(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"identityId":"ID_1"}`))
	}))
	defer srv.Close()

	root := newRootCmd()
	root.SetArgs([]string{"--url", srv.URL, "proof", "identity", "--identity", "ID_1"})
	require.NoError(t, root.Execute())
	require.Equal(t, "/v1/proofs/identity", gotPath)
	require.Equal(t, "ID_1", gotBody["identityId"])
}

func TestListingCancelAndWithdraw(t *testing.T) {
	var calls []string
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		var b map[string]any
		_ = json.NewDecoder(r.Body).Decode(&b)
		bodies = append(bodies, b)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	root := newRootCmd()
	root.SetArgs([]string{"--url", srv.URL, "listing", "cancel", "L-7", "--owner", "alice"})
	require.NoError(t, root.Execute())

	root = newRootCmd()
	root.SetArgs([]string{"--url", srv.URL, "listing", "withdraw", "--authority", "admin", "--amount", "25"})
	require.NoError(t, root.Execute())

	root = newRootCmd()
	root.SetArgs([]string{"--url", srv.URL, "listing", "reprice", "L-7", "--owner", "alice"})
	require.ErrorContains(t, root.Execute(), "--price")

	require.Equal(t, []string{"POST /v1/listings/L-7/cancel", "POST /v1/fees/withdraw"}, calls)
	require.Equal(t, "alice", bodies[0]["owner"])
	require.EqualValues(t, 25, bodies[1]["amount"])
}

func TestCallReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":"BRIDGE_NOT_RUNNING"}`))
	}))
	defer srv.Close()

	root := newRootCmd()
	root.SetArgs([]string{"--url", srv.URL, "status"})
	err := root.Execute()
	require.ErrorContains(t, err, "status=503")
	require.ErrorContains(t, err, "BRIDGE_NOT_RUNNING")
}

func TestOutFlagValidated(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"--out", "yaml", "status"})
	require.ErrorContains(t, root.Execute(), "--out")
}
