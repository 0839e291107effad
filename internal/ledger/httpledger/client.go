package httpledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

// Config configura un cliente de gateway.
type Config struct {
	BaseURL string
	// Timeout por request; 0 usa 10s.
	Timeout time.Duration
	// PollWait es cuánto espera el gateway antes de responder un long-poll vacío.
	PollWait time.Duration
	// MaxPollFailures cierra la suscripción tras N fallos seguidos; 0 usa 5.
	MaxPollFailures int
	// HTTPClient opcional (tests).
	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.PollWait <= 0 {
		c.PollWait = 25 * time.Second
	}
	if c.MaxPollFailures <= 0 {
		c.MaxPollFailures = 5
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

// client es la base común de ambos gateways.
type client struct {
	cfg   Config
	chain string

	mu        sync.Mutex
	connected bool
	subs      map[int]context.CancelFunc
	nextSub   int
	backoff   time.Duration
}

func newClient(chain string, cfg Config) *client {
	return &client{cfg: cfg.withDefaults(), chain: chain, subs: map[int]context.CancelFunc{}, backoff: time.Second}
}

func (c *client) Connect(ctx context.Context) error {
	if c.cfg.BaseURL == "" {
		return fmt.Errorf("httpledger: %s base url not configured", c.chain)
	}
	if err := c.health(ctx); err != nil {
		return fmt.Errorf("httpledger: connect %s: %w", c.chain, err)
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *client) Disconnect(context.Context) error {
	c.mu.Lock()
	c.connected = false
	subs := c.subs
	c.subs = map[int]context.CancelFunc{}
	c.mu.Unlock()
	for _, cancel := range subs {
		cancel()
	}
	return nil
}

func (c *client) IsHealthy(ctx context.Context) bool {
	c.mu.Lock()
	ok := c.connected
	c.mu.Unlock()
	return ok && c.health(ctx) == nil
}

func (c *client) health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *client) ensure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ledger.ErrNotConnected
	}
	return nil
}

// call es do precedido del chequeo de conexión.
func (c *client) call(ctx context.Context, method, path string, in, out any) error {
	if err := c.ensure(); err != nil {
		return err
	}
	return c.do(ctx, method, path, in, out)
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	return c.doTimeout(ctx, c.cfg.Timeout, method, path, in, out)
}

func (c *client) doTimeout(ctx context.Context, timeout time.Duration, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("httpledger: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpledger: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("httpledger: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("httpledger: decode response: %w", err)
	}
	return nil
}

// subscribe toma el cursor actual y arranca el long-poll. El canal se cierra
// al cancelar ctx, en Disconnect, o tras MaxPollFailures errores seguidos.
func (c *client) subscribe(ctx context.Context) (<-chan ledger.RawEvent, error) {
	if err := c.ensure(); err != nil {
		return nil, err
	}
	var head eventPage
	if err := c.do(ctx, http.MethodGet, "/events?wait=0s", nil, &head); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = cancel
	c.mu.Unlock()

	out := make(chan ledger.RawEvent)
	go func() {
		defer func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			cancel()
			close(out)
		}()
		c.poll(ctx, head.Next, out)
	}()
	return out, nil
}

func (c *client) poll(ctx context.Context, cursor uint64, out chan<- ledger.RawEvent) {
	log := logger.From(ctx).With(logger.Layer("ledger"), logger.Component("httpledger"), logger.Chain(c.chain))
	failures := 0
	q := url.Values{}
	q.Set("wait", c.cfg.PollWait.String())
	for {
		q.Set("after", strconv.FormatUint(cursor, 10))
		var page eventPage
		err := c.doTimeout(ctx, c.cfg.Timeout+c.cfg.PollWait, http.MethodGet, "/events?"+q.Encode(), nil, &page)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures++
			log.Warn("event poll failed", logger.Err(err), logger.Int("failures", failures))
			if failures >= c.cfg.MaxPollFailures {
				log.Error("event stream lost", logger.Err(err))
				return
			}
			select {
			case <-time.After(c.backoff * time.Duration(failures)):
				continue
			case <-ctx.Done():
				return
			}
		}
		failures = 0
		for _, ev := range page.Events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		cursor = page.Next
	}
}
