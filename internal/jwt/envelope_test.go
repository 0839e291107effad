package jwt

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignAndParseEnvelope(t *testing.T) {
	ks, err := NewDevEd25519("bridge-dev")
	require.NoError(t, err)
	s := NewSigner(ks)

	iat := time.Unix(1_700_000_000, 0).UTC()
	tok, err := s.SignEnvelope(EnvelopeClaims{
		EventID: "hyperledger_1700000000000_1", Origin: "hyperledger",
		Kind: "IDENTITY_REVOKED", Subject: "ID_2", Ref: "tx-9", IssuedAt: iat,
	})
	require.NoError(t, err)
	require.NotEqual(t, Unsigned, tok)

	got, err := ks.ParseEnvelope(tok)
	require.NoError(t, err)
	require.Equal(t, "ID_2", got.Subject)
	require.Equal(t, "tx-9", got.Ref)
	require.Equal(t, "IDENTITY_REVOKED", got.Kind)
	require.True(t, iat.Equal(got.IssuedAt))

	other, err := NewDevEd25519("bridge-dev")
	require.NoError(t, err)
	_, err = other.ParseEnvelope(tok)
	require.ErrorIs(t, err, ErrInvalidEnvelope)
}

func TestNilSignerReturnsPlaceholder(t *testing.T) {
	var s *Signer
	tok, err := s.SignEnvelope(EnvelopeClaims{EventID: "x"})
	require.NoError(t, err)
	require.Equal(t, Unsigned, tok)
}

func TestFromSeedIsDeterministic(t *testing.T) {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	b64 := base64.StdEncoding.EncodeToString(seed)

	a, err := FromSeed("k1", b64)
	require.NoError(t, err)
	b, err := FromSeed("k1", base64.RawURLEncoding.EncodeToString(seed))
	require.NoError(t, err)
	require.Equal(t, a.Pub, b.Pub)

	_, err = FromSeed("k1", base64.StdEncoding.EncodeToString([]byte("short")))
	require.Error(t, err)

	var doc struct {
		Keys []map[string]string `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(a.JWKSJSON(), &doc))
	require.Len(t, doc.Keys, 1)
	require.Equal(t, "k1", doc.Keys[0]["kid"])
	require.Equal(t, "OKP", doc.Keys[0]["kty"])
}
