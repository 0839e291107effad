package bridge

import (
	"net/http"
	"strings"

	"github.com/dropDatabas3/datasov-bridge/internal/audit"
	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
	httperrors "github.com/dropDatabas3/datasov-bridge/internal/http/errors"
	"github.com/dropDatabas3/datasov-bridge/internal/http/helpers"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

type ProofsController struct {
	service Service
}

func NewProofsController(s Service) *ProofsController {
	return &ProofsController{service: s}
}

type identityProofRequest struct {
	IdentityID string `json:"identityId"`
}

type accessProofRequest struct {
	IdentityID string          `json:"identityId"`
	Consumer   string          `json:"consumer"`
	DataType   ledger.DataType `json:"dataType"`
}

// IssueIdentity maneja POST /v1/proofs/identity
func (c *ProofsController) IssueIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req identityProofRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	req.IdentityID = strings.TrimSpace(req.IdentityID)
	if req.IdentityID == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("identityId"))
		return
	}

	p, err := c.service.GenerateIdentityProof(ctx, req.IdentityID)
	if err != nil {
		writeErr(w, r, "ProofsController.IssueIdentity", err)
		return
	}
	audit.Log(ctx, audit.ProofIssued, logger.String("kind", "identity"), logger.IdentityID(p.IdentityID),
		logger.LedgerRef(p.LedgerRef))
	helpers.WriteJSON(w, http.StatusOK, p)
}

// ValidateIdentity maneja POST /v1/proofs/identity/validate. Una proof inválida
// sigue siendo 200: el resultado viaja en el body.
func (c *ProofsController) ValidateIdentity(w http.ResponseWriter, r *http.Request) {
	var p model.IdentityProof
	if !helpers.ReadJSON(w, r, &p) {
		return
	}
	helpers.WriteJSON(w, http.StatusOK, c.service.ValidateIdentityProof(r.Context(), p))
}

// IssueAccess maneja POST /v1/proofs/access
func (c *ProofsController) IssueAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req accessProofRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	var missing []string
	if strings.TrimSpace(req.IdentityID) == "" {
		missing = append(missing, "identityId")
	}
	if strings.TrimSpace(req.Consumer) == "" {
		missing = append(missing, "consumer")
	}
	if req.DataType == "" {
		missing = append(missing, "dataType")
	}
	if len(missing) > 0 {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail(strings.Join(missing, ", ")))
		return
	}
	if !req.DataType.Valid() {
		httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("dataType desconocido: "+string(req.DataType)))
		return
	}

	p, err := c.service.GenerateAccessProof(ctx, req.IdentityID, req.Consumer, req.DataType)
	if err != nil {
		writeErr(w, r, "ProofsController.IssueAccess", err)
		return
	}
	audit.Log(ctx, audit.ProofIssued, logger.String("kind", "access"), logger.IdentityID(p.IdentityID),
		logger.Principal(p.Consumer), logger.String("data_type", string(p.DataType)))
	helpers.WriteJSON(w, http.StatusOK, p)
}

// writeErr escribe el error y loguea los 5xx con la causa.
func writeErr(w http.ResponseWriter, r *http.Request, op string, err error) {
	appErr := httperrors.FromError(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		logger.From(r.Context()).Error("request failed",
			logger.Layer("controller"), logger.Op(op), logger.Err(err))
	}
	httperrors.WriteError(w, appErr)
}
