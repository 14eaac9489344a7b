// Package mempool provides size-classed buffer pools for the scratch space
// used while marshaling data across the bridge: text and point buffers for
// the two-phase result protocol and row buffers for vertical flips.
package mempool

import (
	"sync"
)

// sizeClass rounds n up to the next multiple of 1024 (minimum 1024) to reduce churn.
func sizeClass(n int) int {
	if n <= 1024 {
		return 1024
	}
	const step = 1024
	r := (n + step - 1) / step
	return r * step
}

// classPools holds one *sync.Pool per size class for a single element type.
type classPools[T any] struct {
	pools sync.Map // key: size class (int), value: *sync.Pool
}

func (c *classPools[T]) pool(cls int) *sync.Pool {
	pAny, _ := c.pools.LoadOrStore(cls, &sync.Pool{New: func() any { return make([]T, cls) }})
	p, _ := pAny.(*sync.Pool)
	return p
}

func (c *classPools[T]) get(n int) []T {
	if n < 0 {
		n = 0
	}
	cls := sizeClass(n)
	p := c.pool(cls)
	if p == nil {
		return make([]T, cls)[:n]
	}
	buf, ok := p.Get().([]T)
	if !ok || cap(buf) < cls {
		buf = make([]T, cls)
	}
	return buf[:n]
}

func (c *classPools[T]) put(buf []T) {
	if buf == nil {
		return
	}
	// A buffer whose capacity is below its class would be handed out too short.
	cls := sizeClass(cap(buf))
	if cap(buf) < cls {
		cls -= 1024
		if cls < 1024 {
			return
		}
	}
	p := c.pool(cls)
	if p == nil {
		return
	}
	p.Put(buf[:cap(buf)]) //nolint:staticcheck
}

var (
	bytePools    classPools[byte]
	float32Pools classPools[float32]
)

// GetBytes retrieves a []byte of length n from the pool. The capacity may be
// larger and the contents are not zeroed. Return it with PutBytes.
func GetBytes(n int) []byte { return bytePools.get(n) }

// PutBytes returns a buffer to the pool. It is safe to pass a nil slice.
func PutBytes(buf []byte) { bytePools.put(buf) }

// GetFloat32 retrieves a []float32 of length n from the pool. The capacity may
// be larger and the contents are not zeroed. Return it with PutFloat32.
func GetFloat32(n int) []float32 { return float32Pools.get(n) }

// PutFloat32 returns a buffer to the pool. It is safe to pass a nil slice.
func PutFloat32(buf []float32) { float32Pools.put(buf) }
