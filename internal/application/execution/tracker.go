package execution

// tracker.go — deduplicación in-flight sin locks.
//
// Un bitmask de tamaño fijo sobre palabras atómicas: cada idempotency key se
// hashea a un bit; TryAcquire hace CAS del bit y devuelve si estaba libre.
// Dos señales concurrentes con la misma key → exactamente una adquiere el
// slot y llega al venue, la otra se rechaza como duplicate_in_flight sin
// tocar la red.

import (
	"hash/fnv"
	"sync/atomic"
)

// DefaultSlots es el número de bits del tracker. Una colisión de hash entre
// keys distintas solo produce un rechazo conservador (nunca una doble
// ejecución), así que el tamaño es un trade-off de falsos duplicados.
const DefaultSlots = 4096

// Tracker es el set atómico de idempotency keys en vuelo.
type Tracker struct {
	words []atomic.Uint64
	mask  uint64
}

// NewTracker crea un tracker con el número de slots dado (redondeado a
// potencia de 2, mínimo 64).
func NewTracker(slots int) *Tracker {
	if slots < 64 {
		slots = DefaultSlots
	}
	n := 64
	for n < slots {
		n <<= 1
	}
	return &Tracker{
		words: make([]atomic.Uint64, n/64),
		mask:  uint64(n - 1),
	}
}

// TryAcquire intenta marcar la key como en vuelo. Devuelve true si el bit
// estaba libre y esta llamada lo adquirió.
func (t *Tracker) TryAcquire(key string) bool {
	word, bit := t.slot(key)
	for {
		old := t.words[word].Load()
		if old&bit != 0 {
			return false // ya en vuelo
		}
		if t.words[word].CompareAndSwap(old, old|bit) {
			return true
		}
	}
}

// Release libera el slot de la key al completarse la ejecución,
// con éxito o con error.
func (t *Tracker) Release(key string) {
	word, bit := t.slot(key)
	for {
		old := t.words[word].Load()
		if t.words[word].CompareAndSwap(old, old&^bit) {
			return
		}
	}
}

// InFlight devuelve si la key está actualmente adquirida.
func (t *Tracker) InFlight(key string) bool {
	word, bit := t.slot(key)
	return t.words[word].Load()&bit != 0
}

func (t *Tracker) slot(key string) (word int, bit uint64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	idx := h.Sum64() & t.mask
	return int(idx / 64), 1 << (idx % 64)
}
