// Package model contiene los tipos que el bridge produce y expone: proofs,
// resultados de validación, eventos, reportes de sync y snapshots.
package model

import (
	"time"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/bridgeerr"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
)

// IdentityProof es una aserción firmada y acotada en el tiempo sobre una identidad.
// Inmutable una vez emitida.
type IdentityProof struct {
	IdentityID        string                   `json:"identityId"`
	Owner             string                   `json:"owner"`
	VerificationLevel ledger.VerificationLevel `json:"verificationLevel"`
	IssuedAt          time.Time                `json:"issuedAt"`
	VerifiedAt        *time.Time               `json:"verifiedAt,omitempty"`
	LedgerRef         string                   `json:"ledgerRef"`
	Signature         string                   `json:"signature"`
	ValidUntil        *time.Time               `json:"validUntil,omitempty"`
	Metadata          ProofMetadata            `json:"metadata"`
}

// ProofMetadata es el snapshot de la identidad al momento de emitir.
type ProofMetadata struct {
	Provider string                `json:"provider,omitempty"`
	Type     string                `json:"type,omitempty"`
	Status   ledger.IdentityStatus `json:"status,omitempty"`
}

// Claims retorna la parte de la proof que inspeccionan los validadores de ledger.
func (p IdentityProof) Claims() ledger.ProofClaims {
	return ledger.ProofClaims{
		IdentityID:        p.IdentityID,
		Owner:             p.Owner,
		VerificationLevel: p.VerificationLevel,
		Signature:         p.Signature,
		LedgerRef:         p.LedgerRef,
	}
}

// AccessProof afirma que un consumer puede acceder a un data type bajo una identidad.
// Es un snapshot del grant al momento de emitir; no se re-verifica después.
type AccessProof struct {
	IdentityID string          `json:"identityId"`
	Consumer   string          `json:"consumer"`
	DataType   ledger.DataType `json:"dataType"`
	Permission string          `json:"permission"`
	GrantedAt  time.Time       `json:"grantedAt"`
	ExpiresAt  *time.Time      `json:"expiresAt,omitempty"`
	IssuedAt   time.Time       `json:"issuedAt"`
	LedgerRef  string          `json:"ledgerRef"`
	Signature  string          `json:"signature"`
}

// ValidationOutcome es el resultado de validar una IdentityProof.
// Un outcome inválido es un valor esperado, no un error.
type ValidationOutcome struct {
	Valid             bool                     `json:"valid"`
	IdentityID        string                   `json:"identityId,omitempty"`
	VerificationLevel ledger.VerificationLevel `json:"verificationLevel,omitempty"`
	ValidUntil        *time.Time               `json:"validUntil,omitempty"`

	// Reason es el kind del paso que falló.
	Reason        bridgeerr.Kind `json:"reason,omitempty"`
	Errors        []string       `json:"errors,omitempty"`
	MissingFields []string       `json:"missingFields,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
}

// Invalid construye un outcome inválido.
func Invalid(reason bridgeerr.Kind, errs ...string) ValidationOutcome {
	return ValidationOutcome{Valid: false, Reason: reason, Errors: errs}
}

// PurchaseReceipt es lo que retorna una compra exitosa: el resultado del ledger
// de trading y la access proof que la habilitó.
type PurchaseReceipt struct {
	Purchase    ledger.PurchaseResult `json:"purchase"`
	AccessProof AccessProof           `json:"accessProof"`
}
