package detector

import (
	"image"

	"github.com/MeKo-Tech/qrbridge/internal/dispatch"
	"github.com/MeKo-Tech/qrbridge/internal/pixels"
	"github.com/MeKo-Tech/qrbridge/internal/results"
)

// Future is a pending detection.
type Future = dispatch.Future[results.Outcome]

func (d *Detector) pool() *dispatch.Dispatcher {
	if d.dispatcher != nil {
		return d.dispatcher
	}
	return dispatch.Default()
}

func (d *Detector) submit(fn func() results.Outcome) (*Future, error) {
	return dispatch.Submit(d.pool(), func() (results.Outcome, error) {
		return fn(), nil
	})
}

// DetectPathAsync runs DetectPath on the dispatcher.
func (d *Detector) DetectPathAsync(path string) (*Future, error) {
	return d.submit(func() results.Outcome { return d.DetectPath(path) })
}

// DetectBytesAsync runs DetectBytes on the dispatcher. data must not be
// modified until the future resolves.
func (d *Detector) DetectBytesAsync(data []byte) (*Future, error) {
	return d.submit(func() results.Outcome { return d.DetectBytes(data) })
}

// DetectPixelsAsync runs DetectPixels on the dispatcher. The pixel buffer
// is borrowed until the future resolves.
func (d *Detector) DetectPixelsAsync(px pixels.Descriptor) (*Future, error) {
	return d.submit(func() results.Outcome { return d.DetectPixels(px) })
}

// DetectImageAsync runs DetectImage on the dispatcher.
func (d *Detector) DetectImageAsync(img image.Image) (*Future, error) {
	return d.submit(func() results.Outcome { return d.DetectImage(img) })
}

// DetectBitmapAsync runs DetectBitmap on the dispatcher.
func (d *Detector) DetectBitmapAsync(bm pixels.Bitmap) (*Future, error) {
	return d.submit(func() results.Outcome { return d.DetectBitmap(bm) })
}
