package logger

import (
	"time"

	"go.uber.org/zap"
)

// ─── HTTP ───

func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

func Method(v string) zap.Field {
	return zap.String("method", v)
}

func Path(v string) zap.Field {
	return zap.String("path", v)
}

func Status(v int) zap.Field {
	return zap.Int("status", v)
}

func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

func ClientIP(v string) zap.Field {
	return zap.String("client_ip", v)
}

// ─── Bridge ───

// IdentityID crea un campo para el id de identidad del ledger de identidades.
func IdentityID(v string) zap.Field {
	return zap.String("identity_id", v)
}

// ListingID crea un campo para el id de un listing del ledger de trading.
func ListingID(v string) zap.Field {
	return zap.String("listing_id", v)
}

// Principal crea un campo para un principal (owner, consumer, buyer).
func Principal(v string) zap.Field {
	return zap.String("principal", v)
}

// Chain crea un campo para el tag de la cadena de origen.
func Chain(v string) zap.Field {
	return zap.String("chain", v)
}

// EventKind crea un campo para el tipo de evento.
func EventKind(v string) zap.Field {
	return zap.String("event_kind", v)
}

// EventID crea un campo para el id de un CrossChainEvent.
func EventID(v string) zap.Field {
	return zap.String("event_id", v)
}

// LedgerRef crea un campo para una referencia de transacción en un ledger.
func LedgerRef(v string) zap.Field {
	return zap.String("ledger_ref", v)
}

// State crea un campo para el estado del ciclo de vida.
func State(v string) zap.Field {
	return zap.String("state", v)
}

// ─── Sistema ───

func Component(v string) zap.Field {
	return zap.String("component", v)
}

func Op(v string) zap.Field {
	return zap.String("op", v)
}

func Layer(v string) zap.Field {
	return zap.String("layer", v)
}

func Err(err error) zap.Field {
	return zap.Error(err)
}

// ─── Genéricos ───

func Count(v int) zap.Field {
	return zap.Int("count", v)
}

func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}

func String(key, v string) zap.Field {
	return zap.String(key, v)
}

func Strings(key string, v []string) zap.Field {
	return zap.Strings(key, v)
}

func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}

