// Package store persiste lo que el bridge emite: reportes de reconciliación,
// CrossChainEvents y distribuciones de fees. Los ledgers siguen siendo la
// fuente de verdad; esto es un registro de auditoría consultable.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrInvalid  = errors.New("store: invalid")
)

// SyncReport es un SyncResult persistido.
type SyncReport struct {
	ID string `json:"id"`
	model.SyncResult
	RecordedAt time.Time `json:"recordedAt"`
}

// EventFilter filtra ListCrossChainEvents. Campos vacíos no filtran.
type EventFilter struct {
	OriginChain string
	EventType   string
	IdentityID  string
	Since       time.Time
	OnlyFailed  bool
	// Limit 0 usa DefaultLimit.
	Limit int
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}

func (f EventFilter) match(ev model.CrossChainEvent) bool {
	if f.OriginChain != "" && ev.OriginChain != f.OriginChain {
		return false
	}
	if f.EventType != "" && ev.EventType != f.EventType {
		return false
	}
	if f.IdentityID != "" && ev.IdentityID != f.IdentityID {
		return false
	}
	if !f.Since.IsZero() && ev.EmittedAt.Before(f.Since) {
		return false
	}
	if f.OnlyFailed && !ev.Failed() {
		return false
	}
	return true
}

// Store es el contrato de persistencia. Las listas vuelven de más reciente a más viejo.
type Store interface {
	SaveSyncReport(ctx context.Context, r model.SyncResult) (SyncReport, error)
	ListSyncReports(ctx context.Context, limit int) ([]SyncReport, error)

	// SaveCrossChainEvent es idempotente por EventID.
	SaveCrossChainEvent(ctx context.Context, ev model.CrossChainEvent) error
	ListCrossChainEvents(ctx context.Context, f EventFilter) ([]model.CrossChainEvent, error)
	GetCrossChainEvent(ctx context.Context, eventID string) (*model.CrossChainEvent, error)

	// RecordFeeDistribution es idempotente por (LedgerRef, ListingID).
	RecordFeeDistribution(ctx context.Context, d model.FeeDistribution) error
	ListFeeDistributions(ctx context.Context, listingID string, limit int) ([]model.FeeDistribution, error)

	Ping(ctx context.Context) error
	Close() error
}

// Config selecciona el driver.
type Config struct {
	Driver string // "memory" | "postgres"
	DSN    string
	// MaxConns para el pool de postgres; 0 usa el default de pgxpool.
	MaxConns int32
	// Migrate aplica las migraciones embebidas al abrir.
	Migrate bool
}

// Open crea el Store según cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "postgres", "pg":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("%w: postgres driver needs a dsn", ErrInvalid)
		}
		return OpenPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", ErrInvalid, cfg.Driver)
	}
}
