// Package router arma el gateway HTTP del bridge sobre chi.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	bridgectrl "github.com/dropDatabas3/datasov-bridge/internal/http/controllers/bridge"
	"github.com/dropDatabas3/datasov-bridge/internal/http/controllers/health"
	"github.com/dropDatabas3/datasov-bridge/internal/http/controllers/history"
	httperrors "github.com/dropDatabas3/datasov-bridge/internal/http/errors"
	mw "github.com/dropDatabas3/datasov-bridge/internal/http/middlewares"
	"github.com/dropDatabas3/datasov-bridge/internal/rate"
)

// Bridge es lo que el gateway consume del orquestador.
type Bridge interface {
	bridgectrl.Service
	bridgectrl.Subscriber
}

// Store es lo que el gateway consume del store.
type Store interface {
	history.Reader
	health.Pinger
}

// Deps contiene las dependencias del router.
type Deps struct {
	Bridge Bridge
	Store  Store
	// JWKS publica la clave de firma de envelopes; nil responde 404.
	JWKS []byte
	// Metrics es el handler de /metrics (promhttp); nil lo omite.
	Metrics http.Handler
	// Limiter aplica a las rutas mutantes; nil las deja libres.
	Limiter rate.Limiter
}

// New arma el handler raíz.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(mw.Standard(mw.WithMetrics())...)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	hc := health.NewHealthController(d.Bridge, d.Store)
	r.Get("/healthz", hc.Healthz)
	r.Get("/readyz", hc.Readyz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	r.Get("/.well-known/jwks.json", jwksHandler(d.JWKS))

	bc := bridgectrl.NewControllers(d.Bridge)
	sc := bridgectrl.NewStreamController(d.Bridge)
	hist := history.NewHistoryController(d.Store)
	limited := mw.WithRateLimit(d.Limiter, mw.IPPathRateKey)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", bc.State.Status)
		r.Get("/state", bc.State.Snapshot)

		r.Group(func(r chi.Router) {
			r.Use(limited)
			r.Post("/proofs/identity", bc.Proofs.IssueIdentity)
			r.Post("/proofs/access", bc.Proofs.IssueAccess)
			r.Post("/listings", bc.Market.CreateListing)
			r.Post("/listings/{id}/purchase", bc.Market.Purchase)
			r.Put("/listings/{id}/price", bc.Market.UpdatePrice)
			r.Post("/listings/{id}/cancel", bc.Market.Cancel)
			r.Post("/fees/withdraw", bc.Market.WithdrawFees)
			r.Post("/sync", bc.State.Sync)
		})
		// validar no muta nada
		r.Post("/proofs/identity/validate", bc.Proofs.ValidateIdentity)

		r.Get("/sync/reports", hist.SyncReports)
		r.Get("/events", hist.Events)
		r.Get("/events/{id}", hist.Event)
		r.Get("/fees", hist.Fees)

		r.Get("/stream/crosschain", sc.CrossChain)
		r.Get("/stream/lifecycle", sc.Lifecycle)
	})
	return r
}

func jwksHandler(doc []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if len(doc) == 0 {
			httperrors.WriteError(w, httperrors.ErrNotFound.WithDetail("signing disabled"))
			return
		}
		w.Header().Set("Content-Type", "application/jwk-set+json")
		w.Header().Set("Cache-Control", "public, max-age=300")
		_, _ = w.Write(doc)
	}
}
