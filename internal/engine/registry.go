package engine

import (
	"math/bits"
	"sync"
	"sync/atomic"
	"time"
)

const (
	keyRotate = 23
	keyXor    = 0x9e3779b97f4a7c15
)

// registry maps opaque non-zero keys to values. Keys come from a
// clock-seeded counter, rotated and xored.
type registry[T any] struct {
	next atomic.Uint64
	mu   sync.RWMutex
	m    map[uintptr]T
}

func newRegistry[T any]() *registry[T] {
	r := &registry[T]{m: make(map[uintptr]T)}
	r.next.Store(uint64(time.Now().UnixMicro()))
	return r
}

func (r *registry[T]) key() uintptr {
	return uintptr(bits.RotateLeft64(r.next.Add(1), keyRotate) ^ keyXor)
}

func (r *registry[T]) add(v T) uintptr {
	for {
		k := r.key()
		if k == 0 {
			continue
		}
		r.mu.Lock()
		if _, taken := r.m[k]; !taken {
			r.m[k] = v
			r.mu.Unlock()
			return k
		}
		r.mu.Unlock()
	}
}

func (r *registry[T]) get(k uintptr) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.m[k]
	return v, ok
}

func (r *registry[T]) remove(k uintptr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[k]; !ok {
		return false
	}
	delete(r.m, k)
	return true
}

func (r *registry[T]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}
