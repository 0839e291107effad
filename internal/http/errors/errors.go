package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/bridgeerr"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
)

// AppError es el error estándar del gateway.
type AppError struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Detail     string            `json:"detail,omitempty"`
	IDs        map[string]string `json:"ids,omitempty"`
	Reasons    []string          `json:"reasons,omitempty"`
	HTTPStatus int               `json:"-"`
	Err        error             `json:"-"` // causa, solo para logs
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func New(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// WithDetail devuelve una COPIA con detail.
func (e *AppError) WithDetail(detail string) *AppError {
	n := *e
	n.Detail = detail
	return &n
}

// WithCause devuelve una COPIA con la causa.
func (e *AppError) WithCause(err error) *AppError {
	n := *e
	n.Err = err
	return &n
}

var (
	ErrBadRequest          = New(http.StatusBadRequest, "BAD_REQUEST", "la solicitud es inválida")
	ErrInvalidJSON         = New(http.StatusBadRequest, "INVALID_JSON", "el cuerpo no es JSON válido")
	ErrMissingFields       = New(http.StatusBadRequest, "MISSING_FIELDS", "faltan campos requeridos")
	ErrInvalidParameter    = New(http.StatusBadRequest, "INVALID_PARAMETER", "parámetro inválido")
	ErrForbidden           = New(http.StatusForbidden, "FORBIDDEN", "operación no permitida")
	ErrNotFound            = New(http.StatusNotFound, "NOT_FOUND", "recurso no encontrado")
	ErrMethodNotAllowed    = New(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "método no permitido")
	ErrConflict            = New(http.StatusConflict, "CONFLICT", "conflicto con el estado del ledger")
	ErrUnprocessableEntity = New(http.StatusUnprocessableEntity, "UNPROCESSABLE_ENTITY", "la solicitud no pudo procesarse")
	ErrRateLimitExceeded   = New(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "demasiadas solicitudes")
	ErrInternalServerError = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "error interno")
	ErrBadGateway          = New(http.StatusBadGateway, "LEDGER_ERROR", "el ledger respondió con error")
	ErrServiceUnavailable  = New(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "servicio no disponible")
)

// kindStatus mapea los kinds de precondición e infraestructura del bridge.
var kindStatus = map[bridgeerr.Kind]int{
	bridgeerr.KindIdentityNotFound:         http.StatusNotFound,
	bridgeerr.KindListingNotFound:          http.StatusNotFound,
	bridgeerr.KindIdentityNotVerified:      http.StatusForbidden,
	bridgeerr.KindAccessNotGranted:         http.StatusForbidden,
	bridgeerr.KindIdentityValidationFailed: http.StatusUnprocessableEntity,
	bridgeerr.KindNotRunning:               http.StatusServiceUnavailable,
	bridgeerr.KindConnectionLost:           http.StatusServiceUnavailable,
}

// Errores de ledger que se propagan sin cambios a través del bridge.
var ledgerErrors = []struct {
	sentinel error
	app      *AppError
}{
	{ledger.ErrInvalidPrice, New(http.StatusUnprocessableEntity, "INVALID_PRICE", "el precio debe ser mayor a cero")},
	{ledger.ErrListingNotActive, New(http.StatusConflict, "LISTING_NOT_ACTIVE", "el listing no está activo")},
	{ledger.ErrUnknownListing, New(http.StatusNotFound, "INVALID_LISTING_ID", "listing inexistente en el ledger")},
	{ledger.ErrTradingDisabled, New(http.StatusForbidden, "TRADING_DISABLED", "trading deshabilitado para la identidad")},
	{ledger.ErrUnauthorized, New(http.StatusForbidden, "UNAUTHORIZED", "operación no autorizada por el ledger")},
	{ledger.ErrInsufficientFunds, New(http.StatusConflict, "INSUFFICIENT_FUNDS", "fondos insuficientes")},
	{ledger.ErrNotConnected, New(http.StatusServiceUnavailable, "LEDGER_NOT_CONNECTED", "ledger no conectado")},
}

// FromError convierte cualquier error en un AppError. Los no reconocidos son 500
// conservando la causa.
func FromError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	var be *bridgeerr.Error
	if stderrors.As(err, &be) {
		status, ok := kindStatus[be.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		return &AppError{
			Code:       string(be.Kind),
			Message:    be.Message,
			IDs:        be.IDs,
			Reasons:    be.Reasons,
			HTTPStatus: status,
			Err:        err,
		}
	}
	for _, le := range ledgerErrors {
		if stderrors.Is(err, le.sentinel) {
			return le.app.WithDetail(err.Error()).WithCause(err)
		}
	}
	return ErrInternalServerError.WithCause(err)
}

// WriteError escribe la respuesta JSON de err.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(appErr)
}
