package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/bridgeerr"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
)

func TestFromErrorBridgeKinds(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{bridgeerr.IdentityNotFound("ID_1"), http.StatusNotFound},
		{bridgeerr.ListingNotFound("L1"), http.StatusNotFound},
		{bridgeerr.IdentityNotVerified("ID_1", "PENDING"), http.StatusForbidden},
		{bridgeerr.AccessNotGranted("ID_1", "acme", "HEALTH_DATA"), http.StatusForbidden},
		{bridgeerr.IdentityValidationFailed("ID_1", []string{"expired"}, nil), http.StatusUnprocessableEntity},
		{bridgeerr.NotRunning(), http.StatusServiceUnavailable},
		{bridgeerr.AlreadyRunning("RUNNING"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			require.Equal(t, tc.want, FromError(tc.err).HTTPStatus)
		})
	}
}

func TestFromErrorOutermostKindWins(t *testing.T) {
	inner := bridgeerr.IdentityNotFound("ID_9")
	err := bridgeerr.IdentityValidationFailed("ID_9", []string{inner.Error()}, inner)
	app := FromError(err)
	require.Equal(t, http.StatusUnprocessableEntity, app.HTTPStatus)
	require.Equal(t, "IDENTITY_VALIDATION_FAILED", app.Code)
	require.Equal(t, []string{inner.Error()}, app.Reasons)
}

func TestFromErrorLedgerSentinels(t *testing.T) {
	err := fmt.Errorf("purchase listing L1: %w", ledger.ErrListingNotActive)
	app := FromError(err)
	require.Equal(t, http.StatusConflict, app.HTTPStatus)
	require.Equal(t, "LISTING_NOT_ACTIVE", app.Code)
	require.ErrorIs(t, app, ledger.ErrListingNotActive)

	require.Equal(t, http.StatusUnprocessableEntity, FromError(ledger.ErrInvalidPrice).HTTPStatus)
	// la tabla base no se muta
	require.Empty(t, ErrConflict.Detail)
}

func TestFromErrorUnknownIs500(t *testing.T) {
	boom := stderrors.New("boom")
	app := FromError(boom)
	require.Equal(t, http.StatusInternalServerError, app.HTTPStatus)
	require.ErrorIs(t, app, boom)
}

func TestWriteErrorBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, bridgeerr.AccessNotGranted("ID_1", "acme", "HEALTH_DATA"))
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ACCESS_NOT_GRANTED", body["code"])
	require.Equal(t, "acme", body["ids"].(map[string]any)["consumer"])
	require.NotContains(t, body, "Err")
}
