// Package bridgeerr define la taxonomía de errores del bridge.
//
// Los kinds de validación (MalformedProof, CryptographicValidationFailed,
// CrossLedgerValidationFailed, ProofExpired) nunca se retornan como error: viajan
// dentro de un ValidationOutcome. Los kinds de precondición e infraestructura sí
// se retornan como *Error y se comparan con errors.Is contra los sentinels.
package bridgeerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind identifica la categoría de un fallo.
type Kind string

// Validación (valores, no errores).
const (
	KindMalformedProof                Kind = "MALFORMED_PROOF"
	KindCryptographicValidationFailed Kind = "CRYPTOGRAPHIC_VALIDATION_FAILED"
	KindCrossLedgerValidationFailed   Kind = "CROSS_LEDGER_VALIDATION_FAILED"
	KindProofExpired                  Kind = "PROOF_EXPIRED"
)

// Precondición.
const (
	KindIdentityNotFound         Kind = "IDENTITY_NOT_FOUND"
	KindIdentityNotVerified      Kind = "IDENTITY_NOT_VERIFIED"
	KindAccessNotGranted         Kind = "ACCESS_NOT_GRANTED"
	KindListingNotFound          Kind = "LISTING_NOT_FOUND"
	KindIdentityValidationFailed Kind = "IDENTITY_VALIDATION_FAILED"
)

// Infraestructura y ciclo de vida.
const (
	KindBridgeStartupFailed Kind = "BRIDGE_STARTUP_FAILED"
	KindConnectionLost      Kind = "CONNECTION_LOST"
	KindNotRunning          Kind = "BRIDGE_NOT_RUNNING"
	KindAlreadyRunning      Kind = "BRIDGE_ALREADY_RUNNING"
)

// Error es el error tipado del bridge.
type Error struct {
	Kind    Kind
	Message string
	// IDs de las entidades involucradas (identity_id, listing_id, consumer, ...).
	IDs map[string]string
	// Reasons son los motivos reportados por un validador, si aplica.
	Reasons []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.IDs) > 0 {
		keys := make([]string, 0, len(e.IDs))
		for k := range e.IDs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(e.IDs[k])
		}
		b.WriteString(")")
	}
	if len(e.Reasons) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Reasons, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is compara por Kind, así errors.Is(err, ErrIdentityNotFound) funciona
// para cualquier instancia con ese kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// ID retorna el id registrado bajo key, o "".
func (e *Error) ID(key string) string {
	if e.IDs == nil {
		return ""
	}
	return e.IDs[key]
}

// Sentinels para errors.Is.
var (
	ErrIdentityNotFound         = &Error{Kind: KindIdentityNotFound}
	ErrIdentityNotVerified      = &Error{Kind: KindIdentityNotVerified}
	ErrAccessNotGranted         = &Error{Kind: KindAccessNotGranted}
	ErrListingNotFound          = &Error{Kind: KindListingNotFound}
	ErrIdentityValidationFailed = &Error{Kind: KindIdentityValidationFailed}
	ErrBridgeStartupFailed      = &Error{Kind: KindBridgeStartupFailed}
	ErrConnectionLost           = &Error{Kind: KindConnectionLost}
	ErrNotRunning               = &Error{Kind: KindNotRunning}
	ErrAlreadyRunning           = &Error{Kind: KindAlreadyRunning}
)

// KindOf retorna el Kind de err, o "" si no es un *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IdentityNotFound(identityID string) *Error {
	return &Error{
		Kind:    KindIdentityNotFound,
		Message: "identity not found",
		IDs:     map[string]string{"identity_id": identityID},
	}
}

func IdentityNotVerified(identityID, status string) *Error {
	return &Error{
		Kind:    KindIdentityNotVerified,
		Message: fmt.Sprintf("identity status is %s", status),
		IDs:     map[string]string{"identity_id": identityID},
	}
}

func AccessNotGranted(identityID, consumer, dataType string) *Error {
	return &Error{
		Kind:    KindAccessNotGranted,
		Message: "no active access grant",
		IDs: map[string]string{
			"identity_id": identityID,
			"consumer":    consumer,
			"data_type":   dataType,
		},
	}
}

func ListingNotFound(listingID string) *Error {
	return &Error{
		Kind:    KindListingNotFound,
		Message: "listing not found",
		IDs:     map[string]string{"listing_id": listingID},
	}
}

// IdentityValidationFailed envuelve los errores del validador.
// cause puede ser nil cuando el fallo es un resultado de validación.
func IdentityValidationFailed(identityID string, reasons []string, cause error) *Error {
	return &Error{
		Kind:    KindIdentityValidationFailed,
		Message: "identity validation failed",
		IDs:     map[string]string{"identity_id": identityID},
		Reasons: append([]string(nil), reasons...),
		Err:     cause,
	}
}

func BridgeStartupFailed(chain string, cause error) *Error {
	return &Error{
		Kind:    KindBridgeStartupFailed,
		Message: "failed to connect ledger",
		IDs:     map[string]string{"chain": chain},
		Err:     cause,
	}
}

func ConnectionLost(chain string, cause error) *Error {
	return &Error{
		Kind:    KindConnectionLost,
		Message: "ledger connection lost",
		IDs:     map[string]string{"chain": chain},
		Err:     cause,
	}
}

func NotRunning() *Error {
	return &Error{Kind: KindNotRunning, Message: "bridge is not running"}
}

func AlreadyRunning(state string) *Error {
	return &Error{Kind: KindAlreadyRunning, Message: fmt.Sprintf("bridge is %s", state)}
}
