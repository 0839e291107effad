package middlewares

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

// Middleware es un decorador de http.Handler
type Middleware func(http.Handler) http.Handler

// Standard es la pila base de los servers del bridge (gateway y ledgersim):
// request id, logger scoped y recover, en ese orden. extra va después.
// El resultado se pasa tal cual a chi.Router.Use.
func Standard(extra ...Middleware) []func(http.Handler) http.Handler {
	out := []func(http.Handler) http.Handler{WithRequestID(), WithLogging(), WithRecover()}
	for _, m := range extra {
		out = append(out, m)
	}
	return out
}

// WithLogFields suma fields al logger del request. Va después de WithLogging.
func WithLogFields(fields ...zap.Field) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(logger.With(r.Context(), fields...)))
		})
	}
}
