// Package idcache es un cache read-through de IdentityRecord delante del
// identity ledger. Nunca escribe estado propio: un miss siempre relee del ledger,
// y los eventos REVOKED / ACCESS_* invalidan o refrescan la entrada.
package idcache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/datasov-bridge/internal/cache"
	"github.com/dropDatabas3/datasov-bridge/internal/ledger"
	"github.com/dropDatabas3/datasov-bridge/internal/metrics"
	"github.com/dropDatabas3/datasov-bridge/internal/observability/logger"
)

// Source es la parte del identity ledger que necesita el cache.
type Source interface {
	GetIdentity(ctx context.Context, id string) (*ledger.IdentityRecord, error)
}

const keyPrefix = "identity:"

// Cache implementa lecturas de identidad con cache opcional.
type Cache struct {
	src Source
	c   cache.Client
	ttl time.Duration
	sf  singleflight.Group

	// gen se incrementa en cada Invalidate; una carga iniciada con otra
	// generación no deja su resultado en el cache.
	mu  sync.Mutex
	gen map[string]uint64
}

// New crea el cache. Con c == nil o ttl <= 0 todas las lecturas van directo al ledger.
func New(src Source, c cache.Client, ttl time.Duration) *Cache {
	return &Cache{src: src, c: c, ttl: ttl, gen: map[string]uint64{}}
}

func (c *Cache) enabled() bool { return c.c != nil && c.ttl > 0 }

// GetIdentity retorna la identidad, (nil, nil) si no existe.
func (c *Cache) GetIdentity(ctx context.Context, id string) (*ledger.IdentityRecord, error) {
	if !c.enabled() {
		return c.src.GetIdentity(ctx, id)
	}

	if rec, ok := c.lookup(ctx, id); ok {
		metrics.IdentityCache.WithLabelValues("hit").Inc()
		return rec, nil
	}
	metrics.IdentityCache.WithLabelValues("miss").Inc()

	v, err, _ := c.sf.Do(id, func() (interface{}, error) {
		return c.load(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	rec, _ := v.(*ledger.IdentityRecord)
	if rec == nil {
		return nil, nil
	}
	// copia para que los callers no compartan slices de grants
	out := *rec
	out.Grants = append([]ledger.AccessGrant(nil), rec.Grants...)
	return &out, nil
}

// Invalidate borra la entrada de la identidad.
func (c *Cache) Invalidate(ctx context.Context, id string) {
	if !c.enabled() {
		return
	}
	metrics.IdentityCache.WithLabelValues("invalidate").Inc()
	c.mu.Lock()
	c.gen[id]++
	c.mu.Unlock()
	c.sf.Forget(id)
	if err := c.c.Delete(ctx, keyPrefix+id); err != nil {
		logger.From(ctx).Warn("identity cache invalidate failed",
			logger.Component("idcache"), logger.IdentityID(id), logger.Err(err))
	}
}

// Refresh descarta la entrada y la recarga desde el ledger.
func (c *Cache) Refresh(ctx context.Context, id string) (*ledger.IdentityRecord, error) {
	c.Invalidate(ctx, id)
	if !c.enabled() {
		return c.src.GetIdentity(ctx, id)
	}
	v, err, _ := c.sf.Do(id, func() (interface{}, error) {
		return c.load(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	rec, _ := v.(*ledger.IdentityRecord)
	return rec, nil
}

func (c *Cache) lookup(ctx context.Context, id string) (*ledger.IdentityRecord, bool) {
	raw, err := c.c.Get(ctx, keyPrefix+id)
	if err != nil {
		if !cache.IsNotFound(err) {
			metrics.IdentityCache.WithLabelValues("error").Inc()
			logger.From(ctx).Warn("identity cache read failed, falling back to ledger",
				logger.Component("idcache"), logger.IdentityID(id), logger.Err(err))
		}
		return nil, false
	}
	var rec ledger.IdentityRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// entrada corrupta: la tratamos como miss
		_ = c.c.Delete(ctx, keyPrefix+id)
		return nil, false
	}
	return &rec, true
}

func (c *Cache) generation(id string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[id]
}

func (c *Cache) load(ctx context.Context, id string) (*ledger.IdentityRecord, error) {
	start := c.generation(id)
	rec, err := c.src.GetIdentity(ctx, id)
	if err != nil || rec == nil {
		return rec, err
	}
	if c.generation(id) != start {
		return rec, nil
	}
	b, err := json.Marshal(rec)
	if err == nil {
		err = c.c.Set(ctx, keyPrefix+id, string(b), c.ttl)
	}
	if err != nil {
		logger.From(ctx).Warn("identity cache write failed",
			logger.Component("idcache"), logger.IdentityID(id), logger.Err(err))
		return rec, nil
	}
	// Invalidate pudo correr entre el chequeo y el Set: se borra lo escrito.
	if c.generation(id) != start {
		_ = c.c.Delete(ctx, keyPrefix+id)
	}
	return rec, nil
}
