// Package cache es el almacenamiento key/value de las copias de lectura del
// bridge (ver bridge/idcache). Backends: memory (go-cache) y redis.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Client define las operaciones de cache.
type Client interface {
	// Get retorna ErrNotFound si la key no existe o expiró.
	Get(ctx context.Context, key string) (string, error)
	// Set con ttl <= 0 usa el default del backend.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete no falla si la key no existe.
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

var ErrNotFound = errors.New("cache: key not found")

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// prefixed une prefijo y key con ":" salvo que el prefijo ya lo traiga.
func prefixed(prefix, k string) string {
	switch {
	case prefix == "":
		return k
	case strings.HasSuffix(prefix, ":"):
		return prefix + k
	default:
		return prefix + ":" + k
	}
}
