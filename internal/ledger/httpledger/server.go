package httpledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

const (
	maxPollWait = 60 * time.Second
	maxPage     = 100
)

// eventLog guarda los eventos de la suscripción del ledger para servir long-polls.
// El cursor es la cantidad de eventos vistos.
type eventLog struct {
	mu     sync.Mutex
	events []ledger.RawEvent
	notify chan struct{}
}

func newEventLog() *eventLog {
	return &eventLog{notify: make(chan struct{})}
}

func (l *eventLog) append(ev ledger.RawEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	close(l.notify)
	l.notify = make(chan struct{})
	l.mu.Unlock()
}

func (l *eventLog) since(after uint64) ([]ledger.RawEvent, uint64, <-chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	head := uint64(len(l.events))
	if after >= head {
		return nil, head, l.notify
	}
	end := head
	if end-after > maxPage {
		end = after + maxPage
	}
	out := append([]ledger.RawEvent(nil), l.events[after:end]...)
	return out, end, l.notify
}

func (l *eventLog) follow(ch <-chan ledger.RawEvent) {
	for ev := range ch {
		l.append(ev)
	}
}

// serveEvents: sin ?after retorna el cursor actual.
func (l *eventLog) serveEvents(w http.ResponseWriter, r *http.Request) {
	wait := 25 * time.Second
	if s := r.URL.Query().Get("wait"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			writeErr(w, http.StatusBadRequest, "bad_request", errors.New("invalid wait"))
			return
		}
		wait = min(d, maxPollWait)
	}
	raw := r.URL.Query().Get("after")
	if raw == "" {
		_, head, _ := l.since(^uint64(0))
		writeJSON(w, http.StatusOK, eventPage{Events: []ledger.RawEvent{}, Next: head})
		return
	}
	after, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad_request", errors.New("invalid cursor"))
		return
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		evs, next, notify := l.since(after)
		if len(evs) > 0 || wait == 0 {
			if evs == nil {
				evs = []ledger.RawEvent{}
			}
			writeJSON(w, http.StatusOK, eventPage{Events: evs, Next: next})
			return
		}
		select {
		case <-notify:
		case <-timer.C:
			writeJSON(w, http.StatusOK, eventPage{Events: []ledger.RawEvent{}, Next: next})
			return
		case <-r.Context().Done():
			return
		}
	}
}

// NewIdentityHandler expone un IdentityLedger conectado con la API del gateway.
// La suscripción de eventos vive mientras ctx no se cancele.
func NewIdentityHandler(ctx context.Context, l ledger.IdentityLedger) (http.Handler, error) {
	ch, err := l.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	feed := newEventLog()
	go feed.follow(ch)

	r := chi.NewRouter()
	r.Get("/health", healthHandler(l.IsHealthy))
	r.Get("/events", feed.serveEvents)

	r.Get("/identities", func(w http.ResponseWriter, req *http.Request) {
		var (
			recs []ledger.IdentityRecord
			err  error
		)
		if owner := req.URL.Query().Get("owner"); owner != "" {
			recs, err = l.GetIdentitiesByOwner(req.Context(), owner)
		} else {
			recs, err = l.ListIdentities(req.Context())
		}
		if err != nil {
			writeLedgerErr(w, req, err)
			return
		}
		if recs == nil {
			recs = []ledger.IdentityRecord{}
		}
		writeJSON(w, http.StatusOK, recs)
	})
	r.Get("/identities/{id}", func(w http.ResponseWriter, req *http.Request) {
		rec, err := l.GetIdentity(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeLedgerErr(w, req, err)
			return
		}
		if rec == nil {
			writeErr(w, http.StatusNotFound, "not_found", errors.New("identity not found"))
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})
	r.Post("/identities/{id}/proofs", func(w http.ResponseWriter, req *http.Request) {
		p, err := l.GenerateIdentityProofRaw(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeLedgerErr(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})
	r.Post("/identities/{id}/access-proofs", func(w http.ResponseWriter, req *http.Request) {
		var in accessProofRequest
		if !readJSON(w, req, &in) {
			return
		}
		p, err := l.GenerateAccessProofRaw(req.Context(), chi.URLParam(req, "id"), in.Consumer, in.DataType)
		if err != nil {
			writeLedgerErr(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	})
	r.Post("/proofs/validate", func(w http.ResponseWriter, req *http.Request) {
		var in ledger.ProofClaims
		if !readJSON(w, req, &in) {
			return
		}
		v, err := l.ValidateIdentityProofRaw(req.Context(), in)
		if err != nil {
			writeLedgerErr(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	})
	r.Post("/access-log", func(w http.ResponseWriter, req *http.Request) {
		var in ledger.AccessLogEntry
		if !readJSON(w, req, &in) {
			return
		}
		if err := l.RecordDataAccess(req.Context(), in); err != nil {
			writeLedgerErr(w, req, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return r, nil
}

// NewTradingHandler expone un TradingLedger conectado con la API del gateway.
func NewTradingHandler(ctx context.Context, l ledger.TradingLedger) (http.Handler, error) {
	ch, err := l.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	feed := newEventLog()
	go feed.follow(ch)

	r := chi.NewRouter()
	r.Get("/health", healthHandler(l.IsHealthy))
	r.Get("/events", feed.serveEvents)

	r.Post("/listings", func(w http.ResponseWriter, req *http.Request) {
		var in ledger.ListingRequest
		if !readJSON(w, req, &in) {
			return
		}
		out, err := l.CreateListing(req.Context(), in)
		if err != nil {
			writeLedgerErr(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	})
	r.Get("/listings", func(w http.ResponseWriter, req *http.Request) {
		if s := req.URL.Query().Get("status"); s != "" && s != string(ledger.ListingActive) {
			writeErr(w, http.StatusBadRequest, "bad_request", errors.New("only status=ACTIVE is supported"))
			return
		}
		out, err := l.GetActiveListings(req.Context())
		if err != nil {
			writeLedgerErr(w, req, err)
			return
		}
		if out == nil {
			out = []ledger.Listing{}
		}
		writeJSON(w, http.StatusOK, out)
	})
	r.Get("/listings/{id}", func(w http.ResponseWriter, req *http.Request) {
		out, err := l.GetListing(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeLedgerErr(w, req, err)
			return
		}
		if out == nil {
			writeErr(w, http.StatusNotFound, "not_found", errors.New("listing not found"))
			return
		}
		writeJSON(w, http.StatusOK, out)
	})
	r.Post("/listings/{id}/purchase", func(w http.ResponseWriter, req *http.Request) {
		var in ledger.PurchaseRequest
		if !readJSON(w, req, &in) {
			return
		}
		in.ListingID = chi.URLParam(req, "id")
		out, err := l.Purchase(req.Context(), in)
		if err != nil {
			writeLedgerErr(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})
	r.Put("/listings/{id}/price", func(w http.ResponseWriter, req *http.Request) {
		var in priceRequest
		if !readJSON(w, req, &in) {
			return
		}
		if err := l.UpdatePrice(req.Context(), chi.URLParam(req, "id"), in.Owner, in.Price); err != nil {
			writeLedgerErr(w, req, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/listings/{id}/cancel", func(w http.ResponseWriter, req *http.Request) {
		var in cancelRequest
		if !readJSON(w, req, &in) {
			return
		}
		if err := l.CancelListing(req.Context(), chi.URLParam(req, "id"), in.Owner); err != nil {
			writeLedgerErr(w, req, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/fees/withdraw", func(w http.ResponseWriter, req *http.Request) {
		var in withdrawRequest
		if !readJSON(w, req, &in) {
			return
		}
		if err := l.WithdrawFees(req.Context(), in.Authority, in.Amount); err != nil {
			writeLedgerErr(w, req, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/proofs/validate", func(w http.ResponseWriter, req *http.Request) {
		var in ledger.ProofClaims
		if !readJSON(w, req, &in) {
			return
		}
		v, err := l.ValidateIdentityProofRaw(req.Context(), in)
		if err != nil {
			writeLedgerErr(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	})
	r.Put("/identities/{id}/trading", func(w http.ResponseWriter, req *http.Request) {
		var in tradingRequest
		if !readJSON(w, req, &in) {
			return
		}
		if err := l.SetTradingEnabled(req.Context(), chi.URLParam(req, "id"), in.Enabled); err != nil {
			writeLedgerErr(w, req, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/identities/{id}/flag-listings", func(w http.ResponseWriter, req *http.Request) {
		ids, err := l.FlagListingsForRemoval(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeLedgerErr(w, req, err)
			return
		}
		if ids == nil {
			ids = []string{}
		}
		writeJSON(w, http.StatusOK, flagResponse{ListingIDs: ids})
	})
	return r, nil
}

func healthHandler(healthy func(context.Context) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !healthy(r.Context()) {
			writeErr(w, http.StatusServiceUnavailable, "unhealthy", errors.New("ledger unavailable"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorBody{Code: code, Error: err.Error()})
}

// writeLedgerErr: errores de negocio conocidos → 409, el resto 502.
func writeLedgerErr(w http.ResponseWriter, r *http.Request, err error) {
	code := codeFor(err)
	status := http.StatusConflict
	switch code {
	case "ledger_error":
		status = http.StatusBadGateway
		logger.From(r.Context()).Warn("ledger call failed",
			logger.Layer("ledger"), logger.Component("httpledger"), logger.Path(r.URL.Path), logger.Err(err))
	case "not_connected":
		status = http.StatusServiceUnavailable
	case "unauthorized":
		status = http.StatusForbidden
	}
	writeErr(w, status, code, err)
}
