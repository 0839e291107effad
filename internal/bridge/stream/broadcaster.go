// Package stream implementa el fan-out de los streams observables del bridge.
package stream

import (
	"sync"
)

// DropFunc se invoca cuando un mensaje no entra en el buffer de un suscriptor.
type DropFunc func(stream string)

// Broadcaster reparte cada mensaje publicado a todos los suscriptores.
// Publish nunca bloquea: un suscriptor lento pierde mensajes.
type Broadcaster[T any] struct {
	name   string
	onDrop DropFunc

	mu     sync.RWMutex
	subs   map[uint64]chan T
	nextID uint64
	closed bool
}

// New crea un broadcaster. onDrop puede ser nil.
func New[T any](name string, onDrop DropFunc) *Broadcaster[T] {
	return &Broadcaster[T]{
		name:   name,
		onDrop: onDrop,
		subs:   make(map[uint64]chan T),
	}
}

// Name retorna el nombre del stream.
func (b *Broadcaster[T]) Name() string { return b.name }

// Subscribe registra un suscriptor con el buffer indicado.
// La función retornada lo da de baja y cierra su canal; es idempotente.
func (b *Broadcaster[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
			b.mu.Unlock()
		})
	}
}

// Publish entrega msg a cada suscriptor sin bloquear.
func (b *Broadcaster[T]) Publish(msg T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
			if b.onDrop != nil {
				b.onDrop(b.name)
			}
		}
	}
}

// Subscribers retorna la cantidad de suscriptores activos.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close cierra todos los canales; publicaciones posteriores se ignoran.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
