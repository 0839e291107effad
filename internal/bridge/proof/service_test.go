package proof

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/bridgeerr"
	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger/ledgertest"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(ts time.Time) func() time.Time { return func() time.Time { return ts } }

func verified(id string, level ledger.VerificationLevel) ledger.IdentityRecord {
	v := t0.Add(-time.Hour)
	return ledger.IdentityRecord{
		ID: id, Owner: "owner-" + id, Provider: "gov", Type: "national_id",
		Status: ledger.StatusVerified, VerificationLevel: level, VerifiedAt: &v,
	}
}

type harness struct {
	id     *ledgertest.Identity
	tr     *ledgertest.Trading
	events *ledgertest.Recorder[model.BridgeEvent]
	svc    Service
}

func newHarness(recs ...ledger.IdentityRecord) *harness {
	h := &harness{
		id:     ledgertest.NewIdentity(recs...),
		tr:     ledgertest.NewTrading(),
		events: &ledgertest.Recorder[model.BridgeEvent]{},
	}
	h.svc = NewService(Deps{Identity: h.id, Trading: h.tr, Events: h.events, Now: fixedClock(t0)})
	return h
}

func TestGenerateIdentityProofValidityTable(t *testing.T) {
	cases := map[ledger.VerificationLevel]time.Duration{
		ledger.LevelBasic:      30 * 24 * time.Hour,
		ledger.LevelEnhanced:   90 * 24 * time.Hour,
		ledger.LevelHigh:       180 * 24 * time.Hour,
		ledger.LevelCredential: 365 * 24 * time.Hour,
		"PLATINUM":             7 * 24 * time.Hour,
	}
	for level, want := range cases {
		t.Run(string(level), func(t *testing.T) {
			h := newHarness(verified("ID_1", level))
			p, err := h.svc.GenerateIdentityProof(context.Background(), "ID_1")
			require.NoError(t, err)
			require.NotNil(t, p.ValidUntil)
			require.Equal(t, want, p.ValidUntil.Sub(p.IssuedAt))
		})
	}
}

func TestHighLevelProofValidUntilIsExactly180Days(t *testing.T) {
	h := newHarness(verified("ID_1", ledger.LevelHigh))
	p, err := h.svc.GenerateIdentityProof(context.Background(), "ID_1")
	require.NoError(t, err)
	require.True(t, p.ValidUntil.Equal(t0.Add(180*24*time.Hour)))
	require.Equal(t, "owner-ID_1", p.Owner)
	require.Equal(t, "sig-ID_1", p.Signature)
	require.Equal(t, "tx-ID_1", p.LedgerRef)
	require.Equal(t, "gov", p.Metadata.Provider)
}

func TestGenerateIdentityProofPreconditions(t *testing.T) {
	pending := verified("ID_P", ledger.LevelBasic)
	pending.Status = ledger.StatusPending
	h := newHarness(pending)

	_, err := h.svc.GenerateIdentityProof(context.Background(), "ID_X")
	require.ErrorIs(t, err, bridgeerr.ErrIdentityNotFound)
	require.Equal(t, "ID_X", err.(*bridgeerr.Error).ID("identity_id"))

	_, err = h.svc.GenerateIdentityProof(context.Background(), "ID_P")
	require.ErrorIs(t, err, bridgeerr.ErrIdentityNotVerified)
	require.Zero(t, h.id.Calls("GenerateIdentityProofRaw"))
}

func TestGenerateIdentityProofLedgerErrorPropagates(t *testing.T) {
	h := newHarness(verified("ID_1", ledger.LevelHigh))
	boom := errors.New("peer unreachable")
	h.id.ProofFn = func(string) (ledger.RawProof, error) { return ledger.RawProof{}, boom }

	_, err := h.svc.GenerateIdentityProof(context.Background(), "ID_1")
	require.ErrorIs(t, err, boom)
}

func TestValidateReportsEveryMissingField(t *testing.T) {
	h := newHarness()
	out := h.svc.ValidateIdentityProof(context.Background(), model.IdentityProof{IdentityID: "ID_1"})

	require.False(t, out.Valid)
	require.Equal(t, bridgeerr.KindMalformedProof, out.Reason)
	require.Equal(t, []string{"owner", "verificationLevel", "signature", "ledgerRef"}, out.MissingFields)
	require.Len(t, out.Errors, 4)
	require.Zero(t, h.id.Calls("ValidateIdentityProofRaw"), "format failure short-circuits")

	evs := h.events.All()
	require.Len(t, evs, 1)
	require.Equal(t, model.EventProofInvalid, evs[0].Type)
}

func validProof(validUntil *time.Time) model.IdentityProof {
	return model.IdentityProof{
		IdentityID: "ID_1", Owner: "owner-ID_1", VerificationLevel: ledger.LevelHigh,
		Signature: "sig", LedgerRef: "tx", ValidUntil: validUntil,
	}
}

func TestValidateCryptographicFailurePropagatesReasons(t *testing.T) {
	h := newHarness()
	h.id.ValidateFn = func(ledger.ProofClaims) (ledger.RawValidation, error) {
		return ledger.RawValidation{Valid: false, Errors: []string{"bad signature"}}, nil
	}
	out := h.svc.ValidateIdentityProof(context.Background(), validProof(nil))
	require.False(t, out.Valid)
	require.Equal(t, bridgeerr.KindCryptographicValidationFailed, out.Reason)
	require.Equal(t, []string{"bad signature"}, out.Errors)
	require.Zero(t, h.tr.Calls("ValidateIdentityProofRaw"))
}

func TestValidateLedgerFaultIsAResult(t *testing.T) {
	h := newHarness()
	h.tr.ValidateFn = func(ledger.ProofClaims) (ledger.RawValidation, error) {
		return ledger.RawValidation{}, errors.New("rpc timeout")
	}
	out := h.svc.ValidateIdentityProof(context.Background(), validProof(nil))
	require.False(t, out.Valid)
	require.Equal(t, bridgeerr.KindCrossLedgerValidationFailed, out.Reason)
	require.Contains(t, out.Errors[0], "rpc timeout")
}

func TestValidateCrossLedgerRejection(t *testing.T) {
	h := newHarness()
	h.tr.ValidateFn = func(ledger.ProofClaims) (ledger.RawValidation, error) {
		return ledger.RawValidation{Valid: false}, nil
	}
	out := h.svc.ValidateIdentityProof(context.Background(), validProof(nil))
	require.Equal(t, bridgeerr.KindCrossLedgerValidationFailed, out.Reason)
	require.Equal(t, []string{"trading ledger rejected proof"}, out.Errors)
}

func TestValidateExpiry(t *testing.T) {
	h := newHarness()

	past := t0.Add(-time.Second)
	out := h.svc.ValidateIdentityProof(context.Background(), validProof(&past))
	require.False(t, out.Valid)
	require.Equal(t, bridgeerr.KindProofExpired, out.Reason)

	exact := t0
	out = h.svc.ValidateIdentityProof(context.Background(), validProof(&exact))
	require.Equal(t, bridgeerr.KindProofExpired, out.Reason, "deadline equal to now is expired")

	out = h.svc.ValidateIdentityProof(context.Background(), validProof(nil))
	require.True(t, out.Valid, "absent deadline never expires")

	future := t0.Add(time.Hour)
	out = h.svc.ValidateIdentityProof(context.Background(), validProof(&future))
	require.True(t, out.Valid)
	require.Equal(t, "ID_1", out.IdentityID)
	require.Equal(t, ledger.LevelHigh, out.VerificationLevel)
	require.True(t, out.ValidUntil.Equal(future))

	evs := h.events.All()
	require.Equal(t, model.EventProofValidated, evs[len(evs)-1].Type)
}

func TestGenerateAccessProof(t *testing.T) {
	exp := t0.Add(24 * time.Hour)
	expired := t0.Add(-time.Minute)
	rec := verified("ID_1", ledger.LevelHigh)
	rec.Grants = []ledger.AccessGrant{
		{IdentityID: "ID_1", Consumer: "acme", Permission: "READ", DataTypes: []ledger.DataType{ledger.DataAppUsage}, GrantedAt: t0.Add(-48 * time.Hour), ExpiresAt: &exp, Active: true},
		{IdentityID: "ID_1", Consumer: "acme", Permission: "READ", DataTypes: []ledger.DataType{ledger.DataHealth}, GrantedAt: t0.Add(-48 * time.Hour), ExpiresAt: &expired, Active: true},
		{IdentityID: "ID_1", Consumer: "globex", Permission: "READ", DataTypes: []ledger.DataType{ledger.DataAppUsage}, GrantedAt: t0, Active: false},
	}
	h := newHarness(rec)
	ctx := context.Background()

	ap, err := h.svc.GenerateAccessProof(ctx, "ID_1", "acme", ledger.DataAppUsage)
	require.NoError(t, err)
	require.Equal(t, "READ", ap.Permission)
	require.True(t, ap.GrantedAt.Equal(t0.Add(-48*time.Hour)))
	require.True(t, ap.ExpiresAt.Equal(exp))
	require.Equal(t, 1, h.id.Calls("GenerateAccessProofRaw"))

	for _, tc := range []struct {
		consumer string
		dt       ledger.DataType
	}{
		{"acme", ledger.DataHealth},        // expirado
		{"globex", ledger.DataAppUsage},    // inactivo
		{"acme", ledger.DataSearchHistory}, // sin grant
	} {
		_, err := h.svc.GenerateAccessProof(ctx, "ID_1", tc.consumer, tc.dt)
		require.ErrorIs(t, err, bridgeerr.ErrAccessNotGranted)
	}
	require.Equal(t, 1, h.id.Calls("GenerateAccessProofRaw"), "primitive never called on rejection")

	_, err = h.svc.GenerateAccessProof(ctx, "ID_9", "acme", ledger.DataAppUsage)
	require.ErrorIs(t, err, bridgeerr.ErrIdentityNotFound)
}
