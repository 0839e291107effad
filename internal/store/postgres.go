package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

// Postgres es el Store sobre pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres abre el pool y, con cfg.Migrate, aplica las migraciones.
func OpenPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	log := logger.From(ctx).With(logger.Layer("store"), logger.Component("postgres"))
	// Arranque no bloqueante: el pool reconecta solo.
	if err := pool.Ping(ctx); err != nil {
		log.Warn("pg pool startup ping failed", logger.Err(err))
	} else {
		log.Info("pg pool ready", logger.Int("max_conns", int(pcfg.MaxConns)))
	}

	if cfg.Migrate {
		res, err := Migrate(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("migrations applied", logger.Count(len(res.Applied)), logger.Duration(res.Duration))
	}
	return &Postgres{pool: pool, now: time.Now}, nil
}

// Pool expone el pool interno (métricas).
func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) SaveSyncReport(ctx context.Context, r model.SyncResult) (SyncReport, error) {
	rep := SyncReport{ID: uuid.NewString(), SyncResult: r, RecordedAt: p.now().UTC()}
	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return SyncReport{}, err
	}
	const q = `
		INSERT INTO sync_report (id, trigger, success, synced_count, failed_count, errors, duration_ms, started_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = p.pool.Exec(ctx, q, rep.ID, r.Trigger, r.Success, r.SyncedCount, r.FailedCount,
		errsJSON, r.Duration.Milliseconds(), r.StartedAt, rep.RecordedAt)
	if err != nil {
		return SyncReport{}, fmt.Errorf("store: save sync report: %w", err)
	}
	return rep, nil
}

func (p *Postgres) ListSyncReports(ctx context.Context, limit int) ([]SyncReport, error) {
	const q = `
		SELECT id, trigger, success, synced_count, failed_count, errors, duration_ms, started_at, recorded_at
		FROM sync_report ORDER BY recorded_at DESC LIMIT $1`
	rows, err := p.pool.Query(ctx, q, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []SyncReport{}
	for rows.Next() {
		var (
			rep      SyncReport
			errsJSON []byte
			ms       int64
		)
		if err := rows.Scan(&rep.ID, &rep.Trigger, &rep.Success, &rep.SyncedCount, &rep.FailedCount,
			&errsJSON, &ms, &rep.StartedAt, &rep.RecordedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(errsJSON, &rep.Errors); err != nil {
			return nil, fmt.Errorf("store: decode sync errors: %w", err)
		}
		rep.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rep)
	}
	return out, rows.Err()
}

func (p *Postgres) SaveCrossChainEvent(ctx context.Context, ev model.CrossChainEvent) error {
	if ev.EventID == "" {
		return ErrInvalid
	}
	var details []byte
	if ev.Details != nil {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("store: encode details: %w", err)
		}
		details = b
	}
	const q = `
		INSERT INTO cross_chain_event
			(event_id, origin_chain, event_type, identity_id, source_timestamp, details, cross_chain_ref, signature, failed, emitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (event_id) DO NOTHING`
	_, err := p.pool.Exec(ctx, q, ev.EventID, ev.OriginChain, ev.EventType, ev.IdentityID, ev.SourceTimestamp,
		details, ev.CrossChainRef, ev.Signature, ev.Failed(), ev.EmittedAt)
	if err != nil {
		return fmt.Errorf("store: save event: %w", err)
	}
	return nil
}

const eventColumns = `event_id, origin_chain, event_type, identity_id, source_timestamp, details, cross_chain_ref, signature, emitted_at`

func scanEvent(row pgx.Row) (model.CrossChainEvent, error) {
	var (
		ev      model.CrossChainEvent
		details []byte
	)
	if err := row.Scan(&ev.EventID, &ev.OriginChain, &ev.EventType, &ev.IdentityID, &ev.SourceTimestamp,
		&details, &ev.CrossChainRef, &ev.Signature, &ev.EmittedAt); err != nil {
		return ev, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &ev.Details); err != nil {
			return ev, fmt.Errorf("store: decode details: %w", err)
		}
	}
	return ev, nil
}

func (p *Postgres) ListCrossChainEvents(ctx context.Context, f EventFilter) ([]model.CrossChainEvent, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.OriginChain != "" {
		add("origin_chain = $%d", f.OriginChain)
	}
	if f.EventType != "" {
		add("event_type = $%d", f.EventType)
	}
	if f.IdentityID != "" {
		add("identity_id = $%d", f.IdentityID)
	}
	if !f.Since.IsZero() {
		add("emitted_at >= $%d", f.Since)
	}
	if f.OnlyFailed {
		where = append(where, "failed")
	}

	q := "SELECT " + eventColumns + " FROM cross_chain_event"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, clampLimit(f.Limit))
	q += fmt.Sprintf(" ORDER BY emitted_at DESC LIMIT $%d", len(args))

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.CrossChainEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (p *Postgres) GetCrossChainEvent(ctx context.Context, eventID string) (*model.CrossChainEvent, error) {
	row := p.pool.QueryRow(ctx, "SELECT "+eventColumns+" FROM cross_chain_event WHERE event_id = $1", eventID)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// Los montos son u64; viajan como texto a NUMERIC(20,0).
func (p *Postgres) RecordFeeDistribution(ctx context.Context, d model.FeeDistribution) error {
	if d.ListingID == "" {
		return ErrInvalid
	}
	const q = `
		INSERT INTO fee_distribution (ledger_ref, listing_id, identity_id, recipient, fee, owner_amount, distributed_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7)
		ON CONFLICT (ledger_ref, listing_id) DO NOTHING`
	_, err := p.pool.Exec(ctx, q, d.LedgerRef, d.ListingID, d.IdentityID, d.Recipient,
		strconv.FormatUint(d.Fee, 10), strconv.FormatUint(d.OwnerAmount, 10), d.DistributedAt)
	if err != nil {
		return fmt.Errorf("store: record fee distribution: %w", err)
	}
	return nil
}

func (p *Postgres) ListFeeDistributions(ctx context.Context, listingID string, limit int) ([]model.FeeDistribution, error) {
	q := `SELECT ledger_ref, listing_id, identity_id, recipient, fee::text, owner_amount::text, distributed_at FROM fee_distribution`
	args := []any{}
	if listingID != "" {
		args = append(args, listingID)
		q += " WHERE listing_id = $1"
	}
	args = append(args, clampLimit(limit))
	q += fmt.Sprintf(" ORDER BY distributed_at DESC LIMIT $%d", len(args))

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.FeeDistribution{}
	for rows.Next() {
		var (
			d          model.FeeDistribution
			fee, owner string
		)
		if err := rows.Scan(&d.LedgerRef, &d.ListingID, &d.IdentityID, &d.Recipient, &fee, &owner, &d.DistributedAt); err != nil {
			return nil, err
		}
		if d.Fee, err = strconv.ParseUint(fee, 10, 64); err != nil {
			return nil, err
		}
		if d.OwnerAmount, err = strconv.ParseUint(owner, 10, 64); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

var _ Store = (*Postgres)(nil)
