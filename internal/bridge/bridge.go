// Package bridge defines the fixed set of entry points through which host code
// drives a QR detection engine.
//
// Handles are opaque tokens owned by the engine. Every operation that can fail
// returns an errcode.Kind next to its payload; the payload is meaningless
// unless the kind is errcode.Ok. All calls are synchronous and may block for
// the duration of file I/O, image decode and symbol search.
//
// Two implementations exist: the cgo binding to libzzt_qrcode (build tags
// cgo and zzt_native, see NewNative) and the in-process engine in
// internal/engine.
package bridge

import (
	"errors"

	"github.com/MeKo-Tech/qrbridge/internal/errcode"
	"github.com/MeKo-Tech/qrbridge/internal/pixels"
)

// DetectorHandle identifies one engine instance.
type DetectorHandle uintptr

// ResultHandle identifies one detection outcome.
type ResultHandle uintptr

const (
	// NoDetector is the "no handle" sentinel. It is never passed to the engine.
	NoDetector DetectorHandle = 0
	// NoResult is the "no result" sentinel.
	NoResult ResultHandle = 0
)

// Valid reports whether h is not the sentinel.
func (h DetectorHandle) Valid() bool { return h != NoDetector }

// Valid reports whether h is not the sentinel.
func (h ResultHandle) Valid() bool { return h != NoResult }

// Bridge is the engine contract.
//
// ResultText and ResultPoints follow the two-phase convention: a nil buffer
// is a size probe. The returned int is always the required size (text bytes
// including the trailing NUL, or float count). A buffer that is too short
// yields errcode.BufferTooSmall together with the required size.
type Bridge interface {
	CreateDetector() DetectorHandle
	ReleaseDetector(h DetectorHandle) errcode.Kind

	DetectPath(h DetectorHandle, path string) (ResultHandle, errcode.Kind)
	DetectBytes(h DetectorHandle, data []byte) (ResultHandle, errcode.Kind)
	DetectPixels(h DetectorHandle, px pixels.Descriptor) (ResultHandle, errcode.Kind)

	ReleaseResult(r ResultHandle) errcode.Kind
	ResultSize(r ResultHandle) (int, errcode.Kind)
	ResultText(r ResultHandle, index int, buf []byte) (int, errcode.Kind)
	ResultPoints(r ResultHandle, index int, buf []float32) (int, errcode.Kind)
}

// ErrNativeUnavailable is returned by NewNative when the binary was built
// without the native engine.
var ErrNativeUnavailable = errors.New("bridge: native engine not linked; build with -tags=zzt_native and cgo enabled")
