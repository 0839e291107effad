package model

import (
	"time"
)

// CrossChainEvent es el sobre normalizado que se emite por cada evento de origen manejado.
// Nunca se muta después de emitido.
type CrossChainEvent struct {
	EventID         string         `json:"eventId"`
	OriginChain     string         `json:"originChain"`
	EventType       string         `json:"eventType"`
	IdentityID      string         `json:"identityId,omitempty"`
	SourceTimestamp time.Time      `json:"sourceTimestamp"`
	Details         map[string]any `json:"details,omitempty"`
	CrossChainRef   string         `json:"crossChainRef,omitempty"`
	Signature       string         `json:"signature"`
	EmittedAt       time.Time      `json:"emittedAt"`
}

// Failed indica si el dispatch del evento falló.
func (e CrossChainEvent) Failed() bool {
	if e.Details == nil {
		return false
	}
	_, ok := e.Details["error"]
	return ok
}

// BridgeEventType es el tipo de un evento del stream de ciclo de vida.
type BridgeEventType string

const (
	EventSyncStarted    BridgeEventType = "SYNC_STARTED"
	EventSyncCompleted  BridgeEventType = "SYNC_COMPLETED"
	EventSyncFailed     BridgeEventType = "SYNC_FAILED"
	EventProofValidated BridgeEventType = "PROOF_VALIDATED"
	EventProofInvalid   BridgeEventType = "PROOF_INVALID"
	EventStateUpdated   BridgeEventType = "STATE_UPDATED"
)

// BridgeEvent es un evento de bajo nivel del ciclo de vida del bridge.
type BridgeEvent struct {
	Type       BridgeEventType `json:"type"`
	IdentityID string          `json:"identityId,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       map[string]any  `json:"data,omitempty"`
	// Sync viaja en SYNC_COMPLETED y SYNC_FAILED.
	Sync *SyncResult `json:"sync,omitempty"`
}

// LifecyclePublisher es el puerto por el que los componentes publican BridgeEvents.
type LifecyclePublisher interface {
	Publish(BridgeEvent)
}

// CrossChainPublisher es el puerto por el que el router emite CrossChainEvents.
type CrossChainPublisher interface {
	Publish(CrossChainEvent)
}

// FeeDistribution es el registro de un FEE_DISTRIBUTED del ledger de trading.
type FeeDistribution struct {
	ListingID     string    `json:"listingId"`
	IdentityID    string    `json:"identityId,omitempty"`
	Recipient     string    `json:"recipient"`
	Fee           uint64    `json:"fee"`
	OwnerAmount   uint64    `json:"ownerAmount"`
	LedgerRef     string    `json:"ledgerRef"`
	DistributedAt time.Time `json:"distributedAt"`
}
