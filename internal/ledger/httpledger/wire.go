// Package httpledger conecta el bridge con gateways remotos de ledger vía
// JSON sobre HTTP, y expone un ledger local con la misma API (NewIdentityHandler,
// NewTradingHandler) para nodos de desarrollo.
//
// Los eventos se leen con long-poll: GET /events?after=<cursor>&wait=<dur>.
package httpledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
)

// codes traduce errores de ledger a códigos estables en el cable y de vuelta.
var codes = []struct {
	code string
	err  error
}{
	{"not_connected", ledger.ErrNotConnected},
	{"listing_not_active", ledger.ErrListingNotActive},
	{"invalid_price", ledger.ErrInvalidPrice},
	{"trading_disabled", ledger.ErrTradingDisabled},
	{"unauthorized", ledger.ErrUnauthorized},
	{"invalid_listing_id", ledger.ErrUnknownListing},
	{"unknown_identity", ledger.ErrUnknownIdentity},
	{"insufficient_funds", ledger.ErrInsufficientFunds},
}

func codeFor(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "ledger_error"
}

func errFor(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// StatusError es un error del gateway sin código conocido.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpledger: gateway status %d (%s): %s", e.Status, e.Code, e.Message)
}

// decodeError reconstruye el error de ledger a partir de la respuesta.
func decodeError(status int, body []byte) error {
	var eb errorBody
	_ = json.Unmarshal(body, &eb)
	if sentinel := errFor(eb.Code); sentinel != nil {
		switch {
		case eb.Error == "" || eb.Error == sentinel.Error():
			return sentinel
		case strings.HasPrefix(eb.Error, sentinel.Error()):
			return fmt.Errorf("%w%s", sentinel, strings.TrimPrefix(eb.Error, sentinel.Error()))
		}
		return fmt.Errorf("%w: %s", sentinel, eb.Error)
	}
	msg := eb.Error
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &StatusError{Status: status, Code: eb.Code, Message: msg}
}

type eventPage struct {
	Events []ledger.RawEvent `json:"events"`
	Next   uint64            `json:"next"`
}

type accessProofRequest struct {
	Consumer string          `json:"consumer"`
	DataType ledger.DataType `json:"dataType"`
}

type tradingRequest struct {
	Enabled bool `json:"enabled"`
}

type priceRequest struct {
	Owner string `json:"owner"`
	Price uint64 `json:"price"`
}

type cancelRequest struct {
	Owner string `json:"owner"`
}

type withdrawRequest struct {
	Authority string `json:"authority"`
	Amount    uint64 `json:"amount"`
}

type flagResponse struct {
	ListingIDs []string `json:"listingIds"`
}
