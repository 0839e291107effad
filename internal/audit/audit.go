// Package audit escribe eventos de auditoría de operaciones que mutan los ledgers.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

// Eventos conocidos.
const (
	ListingCreated  = "listing.created"
	DataPurchased   = "data.purchased"
	ListingRepriced = "listing.repriced"
	ListingCanceled = "listing.cancelled"
	FeesWithdrawn   = "fees.withdrawn"
	SyncTriggered   = "sync.triggered"
	ProofIssued     = "proof.issued"
	BridgeStarted   = "bridge.started"
	BridgeStopped   = "bridge.stopped"
	FeeDistribution = "fee.distributed"
)

var now = time.Now

// Log escribe un evento de auditoría con el logger del contexto, bajo el nombre "audit".
func Log(ctx context.Context, event string, fields ...zap.Field) {
	fs := make([]zap.Field, 0, len(fields)+2)
	fs = append(fs, zap.String("event", event), zap.Time("ts", now().UTC()))
	fs = append(fs, fields...)
	logger.From(ctx).Named("audit").Info(event, fs...)
}
