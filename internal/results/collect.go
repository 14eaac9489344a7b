package results

import (
	"golang.org/x/text/encoding/unicode"

	"github.com/MeKo-Tech/qrbridge/internal/bridge"
	"github.com/MeKo-Tech/qrbridge/internal/errcode"
	"github.com/MeKo-Tech/qrbridge/internal/mempool"
)

type scratch[T any] struct {
	get func(n int) []T
	put func(buf []T)
}

var (
	byteScratch  = scratch[byte]{get: mempool.GetBytes, put: mempool.PutBytes}
	floatScratch = scratch[float32]{get: mempool.GetFloat32, put: mempool.PutFloat32}
)

// fetch runs one probe/fill exchange. The probe passes a nil buffer; Ok and
// BufferTooSmall both carry the required size. The fill passes a pooled
// buffer at full capacity and hands its valid prefix to use before the
// buffer goes back to the pool.
func fetch[T any](s scratch[T], fill func(buf []T) (int, errcode.Kind), use func(valid []T)) errcode.Kind {
	need, k := fill(nil)
	switch k {
	case errcode.Ok, errcode.BufferTooSmall:
	default:
		return k
	}
	if need <= 0 {
		if k == errcode.Ok {
			use(nil)
			return errcode.Ok
		}
		return errcode.Unknown
	}

	buf := s.get(need)
	defer s.put(buf)
	buf = buf[:cap(buf)]

	n, k := fill(buf)
	if k != errcode.Ok {
		return k
	}
	if n < 0 || n > len(buf) {
		return errcode.Unknown
	}
	use(buf[:n])
	return errcode.Ok
}

// Collect reads every symbol of r in index order. The first non-Ok kind from
// any call aborts collection and the outcome becomes that failure; symbols
// already read are discarded. Collect does not release r.
func Collect(b bridge.Bridge, r bridge.ResultHandle) Outcome {
	count, k := b.ResultSize(r)
	if k != errcode.Ok {
		return Failure(k)
	}
	if count < 0 {
		return Failure(errcode.Unknown)
	}

	symbols := make([]Symbol, 0, count)
	for i := 0; i < count; i++ {
		var sym Symbol
		if k := fetch(byteScratch, func(buf []byte) (int, errcode.Kind) {
			return b.ResultText(r, i, buf)
		}, func(valid []byte) {
			sym.Text = decodeText(valid)
		}); k != errcode.Ok {
			return Failure(k)
		}
		if k := fetch(floatScratch, func(buf []float32) (int, errcode.Kind) {
			return b.ResultPoints(r, i, buf)
		}, func(valid []float32) {
			sym.Points = pairPoints(valid)
		}); k != errcode.Ok {
			return Failure(k)
		}
		symbols = append(symbols, sym)
	}
	return Success(symbols)
}

// decodeText drops the trailing terminator counted in the reported size and
// replaces invalid UTF-8 with U+FFFD.
func decodeText(b []byte) string {
	if len(b) <= 1 {
		return ""
	}
	out, err := unicode.UTF8.NewDecoder().Bytes(b[:len(b)-1])
	if err != nil {
		return string(b[:len(b)-1])
	}
	return string(out)
}

// pairPoints reads (x0, y0, x1, y1, ...). A trailing odd value is ignored.
func pairPoints(v []float32) []Point {
	pts := make([]Point, len(v)/2)
	for i := range pts {
		pts[i] = Point{X: v[2*i], Y: v[2*i+1]}
	}
	return pts
}
