package bridge

import (
	"net/http"

	"github.com/dropDatabas3/datasov-bridge/internal/audit"
	"github.com/dropDatabas3/datasov-bridge/internal/http/helpers"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

type StateController struct {
	service Service
}

func NewStateController(s Service) *StateController {
	return &StateController{service: s}
}

// Status maneja GET /v1/status
func (c *StateController) Status(w http.ResponseWriter, r *http.Request) {
	helpers.WriteJSON(w, http.StatusOK, c.service.GetStatus(r.Context()))
}

// Snapshot maneja GET /v1/state
func (c *StateController) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := c.service.GetStateSnapshot(r.Context())
	if err != nil {
		writeErr(w, r, "StateController.Snapshot", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, snap)
}

// Sync maneja POST /v1/sync. Corre la reconciliación en el request; el reporte
// se devuelve completo aunque haya identidades fallidas.
func (c *StateController) Sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res := c.service.SynchronizeState(ctx)
	audit.Log(ctx, audit.SyncTriggered, logger.Bool("success", res.Success),
		logger.Int("synced", res.SyncedCount), logger.Int("failed", res.FailedCount))
	helpers.WriteJSON(w, http.StatusOK, res)
}
