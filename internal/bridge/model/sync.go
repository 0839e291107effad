package model

import (
	"time"

	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
)

// SyncResult es el reporte de una corrida de reconciliación.
type SyncResult struct {
	Success     bool          `json:"success"`
	SyncedCount int           `json:"syncedCount"`
	FailedCount int           `json:"failedCount"`
	Errors      []string      `json:"errors"`
	Duration    time.Duration `json:"duration"`
	StartedAt   time.Time     `json:"startedAt"`
	Trigger     string        `json:"trigger,omitempty"`
}

// StateSnapshot es una lectura puntual del estado conocido en ambos ledgers.
type StateSnapshot struct {
	Identities     []ledger.IdentityRecord `json:"identities"`
	ActiveListings []ledger.Listing        `json:"activeListings"`
	Running        bool                    `json:"running"`
	Timestamp      time.Time               `json:"timestamp"`
}

// Status resume la salud del bridge.
type Status struct {
	Running               bool   `json:"isRunning"`
	State                 string `json:"state"`
	IdentityLedgerHealthy bool   `json:"identityLedgerHealthy"`
	TradingLedgerHealthy  bool   `json:"tradingLedgerHealthy"`
}
