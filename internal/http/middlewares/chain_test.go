package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

func TestStandardScopesHandlerLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	defer logger.Replace(zap.New(core))()

	r := chi.NewRouter()
	r.Use(Standard()...)
	r.With(WithLogFields(logger.Chain("solana"))).Get("/listings", func(w http.ResponseWriter, r *http.Request) {
		logger.From(r.Context()).Info("in handler")
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/listings", nil)
	req.Header.Set("X-Request-ID", "rid-7")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	got := logs.FilterMessage("in handler").All()
	require.Len(t, got, 1)
	fields := got[0].ContextMap()
	require.Equal(t, "rid-7", fields["request_id"])
	require.Equal(t, "solana", fields["chain"])
}

func TestStandardRecoversPanics(t *testing.T) {
	core, _ := observer.New(zap.DebugLevel)
	defer logger.Replace(zap.New(core))()

	r := chi.NewRouter()
	r.Use(Standard()...)
	r.Get("/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
