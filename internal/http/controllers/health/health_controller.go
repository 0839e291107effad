// Package health contiene el controller para health checks.
package health

import (
	"context"
	"net/http"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
	"github.com/dropDatabas3/datasov-bridge/internal/http/helpers"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

// StatusProvider es lo que el controller necesita del bridge.
type StatusProvider interface {
	GetStatus(ctx context.Context) model.Status
}

// Pinger es un componente opcional (store) que participa del readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthController struct {
	bridge StatusProvider
	store  Pinger
}

func NewHealthController(b StatusProvider, store Pinger) *HealthController {
	return &HealthController{bridge: b, store: store}
}

// Healthz maneja GET /healthz (liveness, sin dependencias).
func (c *HealthController) Healthz(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readyResponse struct {
	model.Status
	StoreHealthy bool `json:"storeHealthy"`
}

// Readyz maneja GET /readyz. 503 si el bridge no está RUNNING.
func (c *HealthController) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("HealthController.Readyz"))

	resp := readyResponse{Status: c.bridge.GetStatus(ctx), StoreHealthy: true}
	if c.store != nil {
		if err := c.store.Ping(ctx); err != nil {
			resp.StoreHealthy = false
			log.Warn("store ping failed", logger.Err(err))
		}
	}

	status := http.StatusOK
	if !resp.Running {
		status = http.StatusServiceUnavailable
	}
	log.Debug("readiness checked", logger.State(resp.State), logger.Bool("store_healthy", resp.StoreHealthy))
	helpers.WriteJSON(w, status, resp)
}
