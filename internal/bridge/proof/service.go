// Package proof emite y valida las identity/access proofs que consume el ledger de trading.
package proof

import (
	"context"
	"fmt"
	"time"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/bridgeerr"
	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/metrics"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

// Service defines the proof operations exposed by the bridge.
type Service interface {
	// ValidateIdentityProof nunca retorna error: la invalidez es un resultado.
	ValidateIdentityProof(ctx context.Context, p model.IdentityProof) model.ValidationOutcome
	GenerateIdentityProof(ctx context.Context, identityID string) (*model.IdentityProof, error)
	GenerateAccessProof(ctx context.Context, identityID, consumer string, dataType ledger.DataType) (*model.AccessProof, error)
}

// IdentityReader resuelve identidades (idcache.Cache o el ledger directo).
type IdentityReader interface {
	GetIdentity(ctx context.Context, id string) (*ledger.IdentityRecord, error)
}

// Deps contains dependencies for the proof service.
type Deps struct {
	Identity ledger.IdentityLedger
	Trading  ledger.TradingLedger

	// Identities es opcional; por defecto Identity.
	Identities IdentityReader
	// Events es opcional.
	Events model.LifecyclePublisher
	// Now es opcional; por defecto time.Now.
	Now func() time.Time
}

type service struct {
	deps Deps
}

// NewService creates a new proof service.
func NewService(deps Deps) Service {
	if deps.Identities == nil {
		deps.Identities = deps.Identity
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &service{deps: deps}
}

// Tabla fija de validez por nivel. Monótona: más nivel, más validez.
var validity = map[ledger.VerificationLevel]time.Duration{
	ledger.LevelBasic:      30 * 24 * time.Hour,
	ledger.LevelEnhanced:   90 * 24 * time.Hour,
	ledger.LevelHigh:       180 * 24 * time.Hour,
	ledger.LevelCredential: 365 * 24 * time.Hour,
}

// DefaultValidity aplica a niveles desconocidos.
const DefaultValidity = 7 * 24 * time.Hour

// ValidityFor retorna cuánto vale una proof emitida para el nivel dado.
func ValidityFor(level ledger.VerificationLevel) time.Duration {
	if d, ok := validity[level]; ok {
		return d
	}
	return DefaultValidity
}

func (s *service) ValidateIdentityProof(ctx context.Context, p model.IdentityProof) model.ValidationOutcome {
	log := logger.From(ctx).With(
		logger.Layer("bridge"),
		logger.Component("proof"),
		logger.Op("ValidateIdentityProof"),
		logger.IdentityID(p.IdentityID),
	)

	out := s.validate(ctx, p)

	if out.Valid {
		metrics.ProofValidations.WithLabelValues("valid", "").Inc()
		log.Debug("proof validated")
		s.publish(model.BridgeEvent{
			Type:       model.EventProofValidated,
			IdentityID: p.IdentityID,
			Data:       map[string]any{"verificationLevel": string(out.VerificationLevel)},
		})
		return out
	}

	metrics.ProofValidations.WithLabelValues("invalid", string(out.Reason)).Inc()
	log.Info("proof rejected", logger.String("reason", string(out.Reason)), logger.Strings("errors", out.Errors))
	s.publish(model.BridgeEvent{
		Type:       model.EventProofInvalid,
		IdentityID: p.IdentityID,
		Data: map[string]any{
			"reason": string(out.Reason),
			"errors": out.Errors,
		},
	})
	return out
}

// validate aplica los pasos en orden y corta en el primero que falla.
func (s *service) validate(ctx context.Context, p model.IdentityProof) model.ValidationOutcome {
	// 1) formato: se reportan todos los campos faltantes
	if missing := missingFields(p); len(missing) > 0 {
		errs := make([]string, 0, len(missing))
		for _, f := range missing {
			errs = append(errs, "missing required field: "+f)
		}
		out := model.Invalid(bridgeerr.KindMalformedProof, errs...)
		out.IdentityID = p.IdentityID
		out.MissingFields = missing
		return out
	}

	claims := p.Claims()
	var warnings []string

	// 2) validación criptográfica en el ledger de identidades
	raw, err := s.deps.Identity.ValidateIdentityProofRaw(ctx, claims)
	if err != nil {
		return invalidFor(p, bridgeerr.KindCryptographicValidationFailed,
			fmt.Sprintf("identity ledger validation error: %v", err))
	}
	if !raw.Valid {
		return invalidFor(p, bridgeerr.KindCryptographicValidationFailed,
			reasonsOr(raw.Errors, "identity ledger rejected proof")...)
	}
	warnings = append(warnings, raw.Warnings...)

	// 3) cross-check en el ledger de trading
	cross, err := s.deps.Trading.ValidateIdentityProofRaw(ctx, claims)
	if err != nil {
		return invalidFor(p, bridgeerr.KindCrossLedgerValidationFailed,
			fmt.Sprintf("trading ledger validation error: %v", err))
	}
	if !cross.Valid {
		return invalidFor(p, bridgeerr.KindCrossLedgerValidationFailed,
			reasonsOr(cross.Errors, "trading ledger rejected proof")...)
	}
	warnings = append(warnings, cross.Warnings...)

	// 4) expiración: sin deadline nunca se rechaza por esto
	if p.ValidUntil != nil && !p.ValidUntil.After(s.deps.Now()) {
		return invalidFor(p, bridgeerr.KindProofExpired,
			fmt.Sprintf("proof expired at %s", p.ValidUntil.UTC().Format(time.RFC3339)))
	}

	return model.ValidationOutcome{
		Valid:             true,
		IdentityID:        p.IdentityID,
		VerificationLevel: p.VerificationLevel,
		ValidUntil:        p.ValidUntil,
		Warnings:          warnings,
	}
}

func missingFields(p model.IdentityProof) []string {
	var missing []string
	if p.IdentityID == "" {
		missing = append(missing, "identityId")
	}
	if p.Owner == "" {
		missing = append(missing, "owner")
	}
	if p.VerificationLevel == "" {
		missing = append(missing, "verificationLevel")
	}
	if p.Signature == "" {
		missing = append(missing, "signature")
	}
	if p.LedgerRef == "" {
		missing = append(missing, "ledgerRef")
	}
	return missing
}

func invalidFor(p model.IdentityProof, kind bridgeerr.Kind, errs ...string) model.ValidationOutcome {
	out := model.Invalid(kind, errs...)
	out.IdentityID = p.IdentityID
	return out
}

func reasonsOr(reasons []string, fallback string) []string {
	if len(reasons) == 0 {
		return []string{fallback}
	}
	return reasons
}

func (s *service) GenerateIdentityProof(ctx context.Context, identityID string) (*model.IdentityProof, error) {
	rec, err := s.deps.Identities.GetIdentity(ctx, identityID)
	if err != nil {
		metrics.ProofsIssued.WithLabelValues("identity", "error").Inc()
		return nil, fmt.Errorf("get identity %s: %w", identityID, err)
	}
	if rec == nil {
		metrics.ProofsIssued.WithLabelValues("identity", "rejected").Inc()
		return nil, bridgeerr.IdentityNotFound(identityID)
	}
	if rec.Status != ledger.StatusVerified {
		metrics.ProofsIssued.WithLabelValues("identity", "rejected").Inc()
		return nil, bridgeerr.IdentityNotVerified(identityID, string(rec.Status))
	}

	raw, err := s.deps.Identity.GenerateIdentityProofRaw(ctx, identityID)
	if err != nil {
		metrics.ProofsIssued.WithLabelValues("identity", "error").Inc()
		return nil, fmt.Errorf("generate identity proof %s: %w", identityID, err)
	}

	issuedAt := s.deps.Now().UTC()
	validUntil := issuedAt.Add(ValidityFor(rec.VerificationLevel))

	metrics.ProofsIssued.WithLabelValues("identity", "issued").Inc()
	return &model.IdentityProof{
		IdentityID:        rec.ID,
		Owner:             rec.Owner,
		VerificationLevel: rec.VerificationLevel,
		IssuedAt:          issuedAt,
		VerifiedAt:        rec.VerifiedAt,
		LedgerRef:         raw.LedgerRef,
		Signature:         raw.Signature,
		ValidUntil:        &validUntil,
		Metadata: model.ProofMetadata{
			Provider: rec.Provider,
			Type:     rec.Type,
			Status:   rec.Status,
		},
	}, nil
}

func (s *service) GenerateAccessProof(ctx context.Context, identityID, consumer string, dataType ledger.DataType) (*model.AccessProof, error) {
	rec, err := s.deps.Identities.GetIdentity(ctx, identityID)
	if err != nil {
		metrics.ProofsIssued.WithLabelValues("access", "error").Inc()
		return nil, fmt.Errorf("get identity %s: %w", identityID, err)
	}
	if rec == nil {
		metrics.ProofsIssued.WithLabelValues("access", "rejected").Inc()
		return nil, bridgeerr.IdentityNotFound(identityID)
	}

	now := s.deps.Now().UTC()
	// el grant se chequea antes de tocar la primitiva criptográfica
	grant, ok := rec.FindGrant(consumer, dataType, now)
	if !ok {
		metrics.ProofsIssued.WithLabelValues("access", "rejected").Inc()
		return nil, bridgeerr.AccessNotGranted(identityID, consumer, string(dataType))
	}

	raw, err := s.deps.Identity.GenerateAccessProofRaw(ctx, identityID, consumer, dataType)
	if err != nil {
		metrics.ProofsIssued.WithLabelValues("access", "error").Inc()
		return nil, fmt.Errorf("generate access proof %s: %w", identityID, err)
	}

	metrics.ProofsIssued.WithLabelValues("access", "issued").Inc()
	return &model.AccessProof{
		IdentityID: identityID,
		Consumer:   consumer,
		DataType:   dataType,
		Permission: grant.Permission,
		GrantedAt:  grant.GrantedAt,
		ExpiresAt:  grant.ExpiresAt,
		IssuedAt:   now,
		LedgerRef:  raw.LedgerRef,
		Signature:  raw.Signature,
	}, nil
}

func (s *service) publish(ev model.BridgeEvent) {
	if s.deps.Events == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.deps.Now().UTC()
	}
	s.deps.Events.Publish(ev)
}
