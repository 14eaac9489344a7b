// Package detector binds a bridge detector handle to a Go object with
// disposal semantics and turns every detection into a results.Outcome.
//
// Each detection owns its result handle for the duration of the call only:
// the handle is released on every exit path, panics included, before the
// outcome is returned.
package detector

import (
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/qrbridge/internal/bridge"
	"github.com/MeKo-Tech/qrbridge/internal/dispatch"
	"github.com/MeKo-Tech/qrbridge/internal/errcode"
	"github.com/MeKo-Tech/qrbridge/internal/metrics"
	"github.com/MeKo-Tech/qrbridge/internal/pixels"
	"github.com/MeKo-Tech/qrbridge/internal/results"
)

// Detector owns one bridge detector handle.
type Detector struct {
	b          bridge.Bridge
	logger     *slog.Logger
	dispatcher *dispatch.Dispatcher
	maxSide    int
	serial     bool

	callMu sync.Mutex
	mu     sync.RWMutex
	handle bridge.DetectorHandle
	closed bool
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithDispatcher sets the pool used by the Async methods. The default is
// dispatch.Default().
func WithDispatcher(p *dispatch.Dispatcher) Option {
	return func(d *Detector) { d.dispatcher = p }
}

// WithSerializedCalls guards every bridge call on this detector with a
// mutex, for callers that share one Detector across goroutines with an
// engine whose per-handle state is not concurrency safe.
func WithSerializedCalls() Option {
	return func(d *Detector) { d.serial = true }
}

// WithMaxDimension downscales image and bitmap inputs whose longer side
// exceeds n before detection. Points are mapped back to source coordinates.
// Zero disables downscaling.
func WithMaxDimension(n int) Option {
	return func(d *Detector) { d.maxSide = n }
}

// New creates a detector on b. Creation never fails: if the bridge returns
// no handle, the Detector keeps the sentinel and every detection reports
// InvalidHandle.
func New(b bridge.Bridge, opts ...Option) *Detector {
	d := &Detector{b: b, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	d.handle = b.CreateDetector()
	if !d.handle.Valid() {
		d.logger.Warn("Detector creation returned no handle; detections will report invalid_handle")
	} else {
		d.logger.Debug("Detector created", "serialized", d.serial, "max_dimension", d.maxSide)
	}
	return d
}

// Handle returns the current handle, or bridge.NoDetector after Close.
func (d *Detector) Handle() bridge.DetectorHandle {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handle
}

// Close releases the handle. It waits for in-flight detections on this
// detector. A second Close returns an InvalidHandle error and does not
// touch the bridge. A failed release is logged, not returned.
func (d *Detector) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errcode.New("close detector", errcode.InvalidHandle)
	}
	d.closed = true
	h := d.handle
	d.handle = bridge.NoDetector
	d.mu.Unlock()

	if !h.Valid() {
		return nil
	}
	if k := d.b.ReleaseDetector(h); k != errcode.Ok {
		metrics.ReleaseFailures.WithLabelValues("detector").Inc()
		d.logger.Warn("Failed to release detector handle", "kind", k)
	}
	return nil
}

// call runs one detection against the bridge and collects its outcome.
func (d *Detector) call(source string, fn func(h bridge.DetectorHandle) (bridge.ResultHandle, errcode.Kind)) (out results.Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.RecoveredPanics.Inc()
			d.logger.Error("Recovered panic during detection", "source", source, "panic", r)
			out = results.Failure(errcode.Unknown)
		}
		elapsed := time.Since(start)
		metrics.DetectionsTotal.WithLabelValues(source, out.Kind.String()).Inc()
		metrics.BridgeCallDuration.WithLabelValues(source).Observe(elapsed.Seconds())
		d.logger.Debug("Detection finished",
			"source", source, "kind", out.Kind, "symbols", len(out.Symbols), "elapsed", elapsed)
	}()

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed || !d.handle.Valid() {
		return results.Failure(errcode.InvalidHandle)
	}
	if d.serial {
		d.callMu.Lock()
		defer d.callMu.Unlock()
	}

	r, k := fn(d.handle)
	return d.collect(r, k)
}

// collect reads the outcome behind r and releases r exactly once.
func (d *Detector) collect(r bridge.ResultHandle, k errcode.Kind) results.Outcome {
	if r.Valid() {
		defer d.releaseResult(r)
	}
	if k != errcode.Ok {
		return results.Failure(k)
	}
	if !r.Valid() {
		return results.Success(nil)
	}
	out := results.Collect(d.b, r)
	if out.OK() {
		metrics.SymbolsDecoded.Observe(float64(len(out.Symbols)))
	}
	return out
}

func (d *Detector) releaseResult(r bridge.ResultHandle) {
	if k := d.b.ReleaseResult(r); k != errcode.Ok {
		metrics.ReleaseFailures.WithLabelValues("result").Inc()
		d.logger.Warn("Failed to release result handle", "kind", k)
	}
}

// DetectPath detects symbols in the image file at path.
func (d *Detector) DetectPath(path string) results.Outcome {
	if path == "" {
		return results.Failure(errcode.InvalidArgument)
	}
	return d.call("path", func(h bridge.DetectorHandle) (bridge.ResultHandle, errcode.Kind) {
		return d.b.DetectPath(h, path)
	})
}

// DetectBytes detects symbols in an encoded image (PNG, JPEG, ...).
func (d *Detector) DetectBytes(data []byte) results.Outcome {
	if len(data) == 0 {
		return results.Failure(errcode.InvalidArgument)
	}
	return d.call("bytes", func(h bridge.DetectorHandle) (bridge.ResultHandle, errcode.Kind) {
		return d.b.DetectBytes(h, data)
	})
}

// DetectPixels detects symbols in a raw pixel buffer. The buffer is
// validated before the bridge is called.
func (d *Detector) DetectPixels(px pixels.Descriptor) results.Outcome {
	return d.detectPixels("pixels", px)
}

func (d *Detector) detectPixels(source string, px pixels.Descriptor) results.Outcome {
	if err := px.Validate(); err != nil {
		d.logger.Warn("Pixel buffer rejected", "source", source, "error", err)
		return results.Failure(errcode.KindOf(err))
	}
	return d.call(source, func(h bridge.DetectorHandle) (bridge.ResultHandle, errcode.Kind) {
		return d.b.DetectPixels(h, px)
	})
}

// DetectImage detects symbols in a decoded Go image.
func (d *Detector) DetectImage(img image.Image) results.Outcome {
	if img == nil {
		return results.Failure(errcode.InvalidArgument)
	}
	src, scale := pixels.Downscale(img, d.maxSide)
	px, err := pixels.FromImage(src)
	if err != nil {
		d.logger.Debug("Image rejected", "error", err)
		return results.Failure(errcode.KindOf(err))
	}
	out := d.detectPixels("image", px)
	if out.OK() {
		b := img.Bounds()
		out = out.Scale(scale)
		if !b.Min.Eq(image.Point{}) {
			for i := range out.Symbols {
				for j := range out.Symbols[i].Points {
					out.Symbols[i].Points[j].X += float32(b.Min.X)
					out.Symbols[i].Points[j].Y += float32(b.Min.Y)
				}
			}
		}
	}
	return out
}

// DetectBitmap detects symbols in a host bitmap. Bottom-up bitmaps are
// flipped on a copy; the bitmap is left untouched.
func (d *Detector) DetectBitmap(bm pixels.Bitmap) results.Outcome {
	px, err := pixels.FromBitmap(bm, d.logger)
	if err != nil {
		d.logger.Debug("Bitmap rejected", "error", err)
		return results.Failure(errcode.KindOf(err))
	}
	return d.detectPixels("bitmap", px)
}
