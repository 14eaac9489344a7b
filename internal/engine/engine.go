// Package engine is the in-process QR engine. It implements bridge.Bridge
// with the same handle, error and two-phase buffer semantics as the native
// library, using gozxing for symbol search.
package engine

import (
	"image"
	"log/slog"
	"os"
	"time"

	"github.com/MeKo-Tech/qrbridge/internal/bridge"
	"github.com/MeKo-Tech/qrbridge/internal/errcode"
	"github.com/MeKo-Tech/qrbridge/internal/pixels"
)

// Options controls symbol search.
type Options struct {
	// TryHarder enables the slower, more exhaustive search.
	TryHarder bool
	Logger    *slog.Logger
}

// DefaultOptions returns the options used by New.
func DefaultOptions() Options {
	return Options{TryHarder: true}
}

type symbol struct {
	text   string
	points []float32
}

type detector struct {
	tryHarder bool
}

// Engine is safe for concurrent use. Detector handles carry no mutable
// state, so one handle may serve concurrent detections.
type Engine struct {
	opts      Options
	logger    *slog.Logger
	detectors *registry[*detector]
	results   *registry[[]symbol]
}

var _ bridge.Bridge = (*Engine)(nil)

// New returns an engine with DefaultOptions.
func New() *Engine { return NewWithOptions(DefaultOptions()) }

// NewWithOptions returns an engine with the given options.
func NewWithOptions(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		opts:      opts,
		logger:    logger,
		detectors: newRegistry[*detector](),
		results:   newRegistry[[]symbol](),
	}
}

// OpenHandles returns the number of live detector and result handles.
func (e *Engine) OpenHandles() (detectors, results int) {
	return e.detectors.len(), e.results.len()
}

func (e *Engine) CreateDetector() bridge.DetectorHandle {
	return bridge.DetectorHandle(e.detectors.add(&detector{tryHarder: e.opts.TryHarder}))
}

func (e *Engine) ReleaseDetector(h bridge.DetectorHandle) errcode.Kind {
	if !h.Valid() || !e.detectors.remove(uintptr(h)) {
		return errcode.InvalidHandle
	}
	return errcode.Ok
}

func (e *Engine) DetectPath(h bridge.DetectorHandle, path string) (bridge.ResultHandle, errcode.Kind) {
	if path == "" {
		return bridge.NoResult, errcode.InvalidArgument
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: caller-supplied image path is expected
	if err != nil {
		// A missing detector still wins over an unreadable file.
		if _, ok := e.detectors.get(uintptr(h)); !ok {
			return bridge.NoResult, errcode.InvalidHandle
		}
		e.logger.Debug("image file unreadable", "path", path, "error", err)
		return bridge.NoResult, errcode.DecodeFailed
	}
	return e.detectEncoded(h, data)
}

func (e *Engine) DetectBytes(h bridge.DetectorHandle, data []byte) (bridge.ResultHandle, errcode.Kind) {
	if len(data) == 0 {
		return bridge.NoResult, errcode.InvalidArgument
	}
	return e.detectEncoded(h, data)
}

func (e *Engine) detectEncoded(h bridge.DetectorHandle, data []byte) (bridge.ResultHandle, errcode.Kind) {
	img, err := decodeImage(data)
	if err != nil {
		if _, ok := e.detectors.get(uintptr(h)); !ok {
			return bridge.NoResult, errcode.InvalidHandle
		}
		e.logger.Debug("image decode failed", "bytes", len(data), "error", err)
		return bridge.NoResult, errcode.DecodeFailed
	}
	return e.detect(h, img)
}

func (e *Engine) DetectPixels(h bridge.DetectorHandle, px pixels.Descriptor) (bridge.ResultHandle, errcode.Kind) {
	if len(px.Data) == 0 || px.Width <= 0 || px.Height <= 0 {
		return bridge.NoResult, errcode.InvalidArgument
	}
	gray, k := toGray(px)
	if k != errcode.Ok {
		return bridge.NoResult, k
	}
	return e.detect(h, gray)
}

func (e *Engine) detect(h bridge.DetectorHandle, img image.Image) (bridge.ResultHandle, errcode.Kind) {
	d, ok := e.detectors.get(uintptr(h))
	if !ok {
		return bridge.NoResult, errcode.InvalidHandle
	}
	if img.Bounds().Empty() {
		return bridge.NoResult, errcode.DecodeFailed
	}

	start := time.Now()
	syms := scan(img, d.tryHarder)
	e.logger.Debug("detect and decode",
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy(),
		"symbols", len(syms), "elapsed", time.Since(start))

	return bridge.ResultHandle(e.results.add(syms)), errcode.Ok
}

func (e *Engine) ReleaseResult(r bridge.ResultHandle) errcode.Kind {
	if !r.Valid() || !e.results.remove(uintptr(r)) {
		return errcode.InvalidHandle
	}
	return errcode.Ok
}

func (e *Engine) ResultSize(r bridge.ResultHandle) (int, errcode.Kind) {
	syms, ok := e.results.get(uintptr(r))
	if !ok {
		return 0, errcode.InvalidHandle
	}
	return len(syms), errcode.Ok
}

func (e *Engine) symbolAt(r bridge.ResultHandle, index int) (symbol, errcode.Kind) {
	syms, ok := e.results.get(uintptr(r))
	if !ok {
		return symbol{}, errcode.InvalidHandle
	}
	if index < 0 || index >= len(syms) {
		return symbol{}, errcode.InvalidIndex
	}
	return syms[index], errcode.Ok
}

// ResultText copies the text plus a NUL terminator. A nil buffer is a probe
// and reports Ok with the required size.
func (e *Engine) ResultText(r bridge.ResultHandle, index int, buf []byte) (int, errcode.Kind) {
	s, k := e.symbolAt(r, index)
	if k != errcode.Ok {
		return 0, k
	}
	need := len(s.text) + 1
	if buf == nil {
		return need, errcode.Ok
	}
	if len(buf) < need {
		return need, errcode.BufferTooSmall
	}
	copy(buf, s.text)
	buf[len(s.text)] = 0
	return need, errcode.Ok
}

// ResultPoints copies the corner coordinates as x0, y0, x1, y1, ... A nil
// buffer is a probe and reports Ok with the required float count.
func (e *Engine) ResultPoints(r bridge.ResultHandle, index int, buf []float32) (int, errcode.Kind) {
	s, k := e.symbolAt(r, index)
	if k != errcode.Ok {
		return 0, k
	}
	need := len(s.points)
	if buf == nil {
		return need, errcode.Ok
	}
	if len(buf) < need {
		return need, errcode.BufferTooSmall
	}
	copy(buf, s.points)
	return need, errcode.Ok
}
