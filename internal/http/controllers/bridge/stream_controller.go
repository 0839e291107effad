package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dropDatabas3/datasov-bridge/internal/bridge/model"
	httperrors "github.com/dropDatabas3/datasov-bridge/internal/http/errors"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

// Subscriber es la parte observable del orquestador.
type Subscriber interface {
	SubscribeLifecycle(buffer int) (<-chan model.BridgeEvent, func())
	SubscribeCrossChain(buffer int) (<-chan model.CrossChainEvent, func())
}

// StreamController reenvía los streams del bridge como Server-Sent Events.
type StreamController struct {
	sub       Subscriber
	keepAlive time.Duration
}

func NewStreamController(s Subscriber) *StreamController {
	return &StreamController{sub: s, keepAlive: 15 * time.Second}
}

// CrossChain maneja GET /v1/stream/crosschain
func (c *StreamController) CrossChain(w http.ResponseWriter, r *http.Request) {
	ch, cancel := c.sub.SubscribeCrossChain(0)
	defer cancel()
	serveSSE(w, r, c.keepAlive, ch, func(ev model.CrossChainEvent) string { return ev.EventType })
}

// Lifecycle maneja GET /v1/stream/lifecycle
func (c *StreamController) Lifecycle(w http.ResponseWriter, r *http.Request) {
	ch, cancel := c.sub.SubscribeLifecycle(0)
	defer cancel()
	serveSSE(w, r, c.keepAlive, ch, func(ev model.BridgeEvent) string { return string(ev.Type) })
}

func serveSSE[T any](w http.ResponseWriter, r *http.Request, keepAlive time.Duration, ch <-chan T, name func(T) string) {
	rc := http.NewResponseController(w)
	// el stream vive más que server.write_timeout
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		httperrors.WriteError(w, httperrors.ErrInternalServerError.WithCause(err))
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	log := logger.From(r.Context()).With(logger.Layer("controller"), logger.Op("StreamController"))
	tick := time.NewTicker(keepAlive)
	defer tick.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-tick.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		case ev, ok := <-ch:
			if !ok {
				// stream cerrado (bridge.Close)
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				log.Warn("encode stream event failed", logger.Err(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name(ev), b); err != nil {
				return
			}
			_ = rc.Flush()
		}
	}
}
