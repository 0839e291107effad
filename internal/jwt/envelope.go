package jwt

import (
	"crypto/ed25519"
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Unsigned es la firma placeholder cuando el bridge corre sin clave.
const Unsigned = "unsigned"

var ErrInvalidEnvelope = errors.New("jwt: invalid envelope signature")

// EnvelopeClaims son los campos de un CrossChainEvent que cubre la firma.
type EnvelopeClaims struct {
	EventID  string
	Origin   string
	Kind     string
	Subject  string // identity id
	Ref      string // tx de origen
	IssuedAt time.Time
}

// Signer firma sobres de eventos cross-chain como JWS compactos EdDSA.
type Signer struct {
	Keys *KeySet
}

func NewSigner(ks *KeySet) *Signer { return &Signer{Keys: ks} }

// SignRaw firma un MapClaims arbitrario, setea header kid/typ y devuelve el JWS.
func (s *Signer) SignRaw(claims jwtv5.MapClaims) (string, string, error) {
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = s.Keys.KID
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(s.Keys.Priv)
	if err != nil {
		return "", "", err
	}
	return signed, s.Keys.KID, nil
}

// SignEnvelope firma los claims del sobre. Con Signer nil retorna Unsigned.
func (s *Signer) SignEnvelope(c EnvelopeClaims) (string, error) {
	if s == nil || s.Keys == nil {
		return Unsigned, nil
	}
	mc := jwtv5.MapClaims{
		"eid":    c.EventID,
		"origin": c.Origin,
		"kind":   c.Kind,
		"iat":    c.IssuedAt.Unix(),
	}
	if c.Subject != "" {
		mc["sub"] = c.Subject
	}
	if c.Ref != "" {
		mc["ref"] = c.Ref
	}
	signed, _, err := s.SignRaw(mc)
	return signed, err
}

// ParseEnvelope verifica la firma con la pública del KeySet y devuelve los claims.
func (k *KeySet) ParseEnvelope(token string) (EnvelopeClaims, error) {
	keyfunc := func(t *jwtv5.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != "" && kid != k.KID {
			return nil, errors.New("kid_unknown")
		}
		return ed25519.PublicKey(k.Pub), nil
	}
	tok, err := jwtv5.Parse(token, keyfunc, jwtv5.WithValidMethods([]string{"EdDSA"}))
	if err != nil || !tok.Valid {
		return EnvelopeClaims{}, ErrInvalidEnvelope
	}
	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return EnvelopeClaims{}, ErrInvalidEnvelope
	}
	out := EnvelopeClaims{}
	out.EventID, _ = claims["eid"].(string)
	out.Origin, _ = claims["origin"].(string)
	out.Kind, _ = claims["kind"].(string)
	out.Subject, _ = claims["sub"].(string)
	out.Ref, _ = claims["ref"].(string)
	if iat, ok := claims["iat"].(float64); ok {
		out.IssuedAt = time.Unix(int64(iat), 0).UTC()
	}
	return out, nil
}
