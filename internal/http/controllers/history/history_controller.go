// Package history expone lo que el archiver persistió: reportes de
// reconciliación, CrossChainEvents y distribuciones de fees.
package history

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
	httperrors "github.com/dropDatabas3/datasov-bridge/internal/http/errors"
	"github.com/dropDatabas3/datasov-bridge/internal/http/helpers"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
	"github.com/dropDatabas3/datasov-bridge/internal/store"
)

// Reader es la parte de lectura del store.
type Reader interface {
	ListSyncReports(ctx context.Context, limit int) ([]store.SyncReport, error)
	ListCrossChainEvents(ctx context.Context, f store.EventFilter) ([]model.CrossChainEvent, error)
	GetCrossChainEvent(ctx context.Context, eventID string) (*model.CrossChainEvent, error)
	ListFeeDistributions(ctx context.Context, listingID string, limit int) ([]model.FeeDistribution, error)
}

type HistoryController struct {
	store Reader
}

func NewHistoryController(s Reader) *HistoryController {
	return &HistoryController{store: s}
}

// SyncReports maneja GET /v1/sync/reports?limit=
func (c *HistoryController) SyncReports(w http.ResponseWriter, r *http.Request) {
	limit, ok := helpers.QueryInt(r, "limit", 0)
	if !ok {
		httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("limit"))
		return
	}
	reps, err := c.store.ListSyncReports(r.Context(), limit)
	if err != nil {
		c.fail(w, r, "HistoryController.SyncReports", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"reports": reps})
}

// Events maneja GET /v1/events?origin=&type=&identity=&since=&failed=&limit=
func (c *HistoryController) Events(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := helpers.QueryInt(r, "limit", 0)
	if !ok {
		httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("limit"))
		return
	}
	f := store.EventFilter{
		OriginChain: strings.TrimSpace(q.Get("origin")),
		EventType:   strings.ToUpper(strings.TrimSpace(q.Get("type"))),
		IdentityID:  strings.TrimSpace(q.Get("identity")),
		OnlyFailed:  helpers.QueryBool(r, "failed"),
		Limit:       limit,
	}
	if s := strings.TrimSpace(q.Get("since")); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("since debe ser RFC3339"))
			return
		}
		f.Since = t
	}

	evs, err := c.store.ListCrossChainEvents(r.Context(), f)
	if err != nil {
		c.fail(w, r, "HistoryController.Events", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"events": evs})
}

// Event maneja GET /v1/events/{id}
func (c *HistoryController) Event(w http.ResponseWriter, r *http.Request) {
	ev, err := c.store.GetCrossChainEvent(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		httperrors.WriteError(w, httperrors.ErrNotFound.WithDetail("event"))
		return
	}
	if err != nil {
		c.fail(w, r, "HistoryController.Event", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, ev)
}

// Fees maneja GET /v1/fees?listing=&limit=
func (c *HistoryController) Fees(w http.ResponseWriter, r *http.Request) {
	limit, ok := helpers.QueryInt(r, "limit", 0)
	if !ok {
		httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("limit"))
		return
	}
	fees, err := c.store.ListFeeDistributions(r.Context(), strings.TrimSpace(r.URL.Query().Get("listing")), limit)
	if err != nil {
		c.fail(w, r, "HistoryController.Fees", err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]any{"distributions": fees})
}

func (c *HistoryController) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	logger.From(r.Context()).Error("store read failed", logger.Layer("controller"), logger.Op(op), logger.Err(err))
	httperrors.WriteError(w, httperrors.ErrInternalServerError.WithCause(err))
}
