package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/dropDatabas3/datasov-bridge/internal/http/errors"
	"github.com/dropDatabas3/datasov-bridge/internal/http/helpers"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger/memledger"
)

var errTransition = httperrors.New(http.StatusConflict, "INVALID_TRANSITION", "transición de estado inválida")

func writeAdminErr(w http.ResponseWriter, err error) {
	if errors.Is(err, memledger.ErrInvalidTransition) {
		httperrors.WriteError(w, errTransition.WithDetail(err.Error()))
		return
	}
	httperrors.WriteError(w, err)
}

type registerRequest struct {
	ID       string `json:"identityId"`
	Owner    string `json:"owner"`
	Provider string `json:"provider"`
	Type     string `json:"identityType"`
}

type grantRequest struct {
	Consumer   string            `json:"consumer"`
	Permission string            `json:"permission"`
	DataTypes  []ledger.DataType `json:"dataTypes"`
	ExpiresIn  string            `json:"expiresIn"`
}

// adminRoutes mueve el estado de los ledgers simulados; cada cambio emite el
// evento que el bridge consume.
func adminRoutes(id *memledger.IdentityLedger, tr *memledger.TradingLedger) http.Handler {
	r := chi.NewRouter()

	r.Post("/identities", func(w http.ResponseWriter, req *http.Request) {
		var body registerRequest
		if !helpers.ReadJSON(w, req, &body) {
			return
		}
		rec, err := id.Register(req.Context(), memledger.Registration(body))
		if err != nil {
			writeAdminErr(w, err)
			return
		}
		helpers.WriteJSON(w, http.StatusCreated, rec)
	})

	r.Post("/identities/{id}/verify", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Level ledger.VerificationLevel `json:"verificationLevel"`
		}
		if !helpers.ReadJSON(w, req, &body) {
			return
		}
		if body.Level == "" {
			body.Level = ledger.LevelBasic
		}
		if err := id.Verify(req.Context(), chi.URLParam(req, "id"), body.Level); err != nil {
			writeAdminErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/identities/{id}/reject", func(w http.ResponseWriter, req *http.Request) {
		if err := id.Reject(req.Context(), chi.URLParam(req, "id")); err != nil {
			writeAdminErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/identities/{id}/revoke", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Reason string `json:"reason"`
		}
		if !helpers.ReadJSON(w, req, &body) {
			return
		}
		if err := id.Revoke(req.Context(), chi.URLParam(req, "id"), body.Reason); err != nil {
			writeAdminErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/identities/{id}/grants", func(w http.ResponseWriter, req *http.Request) {
		var body grantRequest
		if !helpers.ReadJSON(w, req, &body) {
			return
		}
		g := ledger.AccessGrant{
			IdentityID: chi.URLParam(req, "id"),
			Consumer:   body.Consumer,
			Permission: body.Permission,
			DataTypes:  body.DataTypes,
			GrantedAt:  time.Now().UTC(),
			Active:     true,
		}
		if body.ExpiresIn != "" {
			d, err := time.ParseDuration(body.ExpiresIn)
			if err != nil {
				httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("expiresIn"))
				return
			}
			exp := g.GrantedAt.Add(d)
			g.ExpiresAt = &exp
		}
		if err := id.GrantAccess(req.Context(), g); err != nil {
			writeAdminErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Delete("/identities/{id}/grants/{consumer}", func(w http.ResponseWriter, req *http.Request) {
		if err := id.RevokeAccess(req.Context(), chi.URLParam(req, "id"), chi.URLParam(req, "consumer")); err != nil {
			writeAdminErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/state", func(w http.ResponseWriter, req *http.Request) {
		b, err := memledger.Export(id, tr).Marshal()
		if err != nil {
			httperrors.WriteError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(b)
	})

	r.Get("/fees", func(w http.ResponseWriter, req *http.Request) {
		helpers.WriteJSON(w, http.StatusOK, map[string]uint64{"collected": tr.CollectedFees()})
	})

	return r
}
