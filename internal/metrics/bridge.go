package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas Prometheus del bridge. Viven en un paquete propio para evitar ciclos
// entre los componentes del core y el gateway HTTP.

var (
	ProofValidations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_proof_validations_total",
		Help: "Validaciones de identity proofs por resultado y motivo",
	}, []string{"result", "reason"})

	ProofsIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_proofs_issued_total",
		Help: "Proofs emitidas por tipo (identity|access) y resultado",
	}, []string{"kind", "result"})

	CrossChainEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_cross_chain_events_total",
		Help: "Eventos de origen manejados por cadena, kind y outcome",
	}, []string{"origin", "kind", "outcome"})

	ReconciliationRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_reconciliation_runs_total",
		Help: "Corridas de reconciliación por resultado",
	}, []string{"result"})

	ReconciliationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_reconciliation_duration_seconds",
		Help:    "Duración de una corrida de reconciliación",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	ReconciliationIdentities = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_reconciliation_last_identities",
		Help: "Identidades sincronizadas/fallidas en la última corrida",
	}, []string{"outcome"})

	LifecycleState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_lifecycle_state",
		Help: "Estado actual del bridge (1 en el estado activo)",
	}, []string{"state"})

	CompositeOps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_composite_operations_total",
		Help: "Operaciones compuestas por nombre y resultado",
	}, []string{"op", "result"})

	StreamDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_stream_dropped_total",
		Help: "Mensajes descartados por suscriptores lentos",
	}, []string{"stream"})

	IdentityCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_identity_cache_total",
		Help: "Lookups al cache de identidades (hit|miss|error|invalidate)",
	}, []string{"result"})
)

// Register registra las métricas del bridge en el registry dado (o el default si es nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		ProofValidations,
		ProofsIssued,
		CrossChainEvents,
		ReconciliationRuns,
		ReconciliationDuration,
		ReconciliationIdentities,
		LifecycleState,
		CompositeOps,
		StreamDrops,
		IdentityCache,
		HTTPRequests,
		HTTPDuration,
		HTTPInflight,
		RateLimited,
	}
	for _, c := range collectors {
		if err := RegisterCollector(reg, c); err != nil {
			return err
		}
	}
	return nil
}

// SetLifecycleState deja en 1 el gauge del estado activo y en 0 el resto.
func SetLifecycleState(active string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == active {
			v = 1
		}
		LifecycleState.WithLabelValues(s).Set(v)
	}
}
