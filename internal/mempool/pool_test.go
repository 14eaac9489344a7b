package mempool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeClass(t *testing.T) {
	tests := []struct {
		name     string
		input    int
		expected int
	}{
		{name: "small size gets minimum", input: 1, expected: 1024},
		{name: "exactly 1024", input: 1024, expected: 1024},
		{name: "just over 1024", input: 1025, expected: 2048},
		{name: "odd number", input: 1500, expected: 2048},
		{name: "large size", input: 10000, expected: 10240},
		{name: "zero size", input: 0, expected: 1024},
		{name: "negative size", input: -1, expected: 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sizeClass(tt.input))
		})
	}
}

func TestGetBytes(t *testing.T) {
	for _, n := range []int{0, 1, 17, 1024, 4097} {
		buf := GetBytes(n)
		assert.Len(t, buf, n)
		assert.GreaterOrEqual(t, cap(buf), sizeClass(n))
		PutBytes(buf)
	}
}

func TestGetBytes_NegativeIsEmpty(t *testing.T) {
	buf := GetBytes(-5)
	assert.Empty(t, buf)
	PutBytes(buf)
}

func TestGetFloat32(t *testing.T) {
	buf := GetFloat32(8)
	require.Len(t, buf, 8)
	buf[7] = 3.5
	assert.InDelta(t, 3.5, buf[7], 1e-6)
	PutFloat32(buf)
}

func TestPut_ForeignBuffers(t *testing.T) {
	// None of these may panic, and undersized buffers must never be handed out.
	PutBytes(nil)
	PutBytes(make([]byte, 10))
	PutBytes(make([]byte, 1500))
	PutFloat32(nil)
	PutFloat32(make([]float32, 3))

	for range 10 {
		buf := GetBytes(1024)
		assert.GreaterOrEqual(t, cap(buf), 1024)
		PutBytes(buf)
	}
}

func TestConcurrentAccess(t *testing.T) {
	const goroutines = 32
	const iterations = 200

	var wg sync.WaitGroup
	for g := range goroutines {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			for i := range iterations {
				n := (seed*31 + i*7) % 5000
				b := GetBytes(n)
				assert.Len(t, b, n)
				for k := range b {
					b[k] = byte(k)
				}
				PutBytes(b)

				f := GetFloat32(n / 4)
				assert.Len(t, f, n/4)
				PutFloat32(f)
			}
		}(g)
	}
	wg.Wait()
}
