package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// ToContext inyecta un logger "scoped" en el contexto.
func ToContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From extrae el logger del contexto.
// Si no hay logger en el contexto, retorna el singleton.
func From(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return L()
	}
	if v := ctx.Value(ctxKey{}); v != nil {
		if l, ok := v.(*zap.Logger); ok {
			return l
		}
	}
	return L()
}

// With retorna un ctx cuyo logger suma fields al del ctx recibido.
func With(ctx context.Context, fields ...zap.Field) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return ToContext(ctx, From(ctx).With(fields...))
}

// WithEvent scopea el logger a un evento de ledger: la chain de origen y,
// si viene, la identidad afectada. Los handlers downstream heredan ambos.
func WithEvent(ctx context.Context, chain, identityID string) context.Context {
	fields := []zap.Field{Chain(chain)}
	if identityID != "" {
		fields = append(fields, IdentityID(identityID))
	}
	return With(ctx, fields...)
}
