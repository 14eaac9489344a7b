// Package pixels normalizes image sources into the canonical pixel buffer
// description accepted by the bridge: bytes, format, width, height, stride.
package pixels

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/qrbridge/internal/errcode"
)

// Format is the channel layout of a raw pixel buffer. Values match the
// native enumeration.
type Format int32

const (
	Gray Format = 0
	RGB  Format = 1
	BGR  Format = 2
	RGBA Format = 3
	BGRA Format = 4
	ARGB Format = 5
	ABGR Format = 6
)

// BytesPerPixel returns the pixel size of f, or 0 for an unknown format.
func (f Format) BytesPerPixel() int {
	switch f {
	case Gray:
		return 1
	case RGB, BGR:
		return 3
	case RGBA, BGRA, ARGB, ABGR:
		return 4
	default:
		return 0
	}
}

// Valid reports whether f is one of the seven defined formats.
func (f Format) Valid() bool { return f.BytesPerPixel() > 0 }

func (f Format) String() string {
	switch f {
	case Gray:
		return "gray"
	case RGB:
		return "rgb"
	case BGR:
		return "bgr"
	case RGBA:
		return "rgba"
	case BGRA:
		return "bgra"
	case ARGB:
		return "argb"
	case ABGR:
		return "abgr"
	default:
		return fmt.Sprintf("format(%d)", int32(f))
	}
}

// ParseFormat parses a format name as produced by Format.String.
func ParseFormat(s string) (Format, error) {
	for f := Gray; f <= ABGR; f++ {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown pixel format %q", s)
}

// Descriptor describes a borrowed pixel buffer for the duration of one call.
// Stride 0 requests automatic stride (Width * bytes per pixel).
type Descriptor struct {
	Data   []byte
	Format Format
	Width  int
	Height int
	Stride int
}

// MinStride is the tightly packed row size.
func (d Descriptor) MinStride() int { return d.Width * d.Format.BytesPerPixel() }

// EffectiveStride resolves Stride 0 to MinStride.
func (d Descriptor) EffectiveStride() int {
	if d.Stride == 0 {
		return d.MinStride()
	}
	return d.Stride
}

var (
	errNoData      = errors.New("pixel buffer is empty")
	errDimensions  = errors.New("width and height must be positive")
	errFormat      = errors.New("unsupported pixel format")
	errStride      = errors.New("stride is smaller than one packed row")
	errUndersized  = errors.New("pixel buffer is smaller than stride * height")
	errUnreadable  = errors.New("image source is not readable")
	errNilSource   = errors.New("image source is nil")
	errReadbackLen = errors.New("pixel readback returned an unexpected length")
)

func invalid(op string, err error) error {
	return errcode.Wrap(op, errcode.InvalidArgument, err)
}

// Validate checks the minimum-size invariant. All failures are
// errcode.InvalidArgument so they can be reported without touching the bridge.
func (d Descriptor) Validate() error {
	if len(d.Data) == 0 {
		return invalid("validate pixels", errNoData)
	}
	if d.Width <= 0 || d.Height <= 0 {
		return invalid("validate pixels", fmt.Errorf("%w: %dx%d", errDimensions, d.Width, d.Height))
	}
	if !d.Format.Valid() {
		return invalid("validate pixels", fmt.Errorf("%w: %s", errFormat, d.Format))
	}
	if d.Stride < 0 {
		return invalid("validate pixels", fmt.Errorf("%w: stride %d", errStride, d.Stride))
	}
	if d.Stride > 0 && d.Stride < d.MinStride() {
		return invalid("validate pixels", fmt.Errorf("%w: %d < %d", errStride, d.Stride, d.MinStride()))
	}
	need := d.EffectiveStride() * d.Height
	if len(d.Data) < need {
		return invalid("validate pixels", fmt.Errorf("%w: %d < %d", errUndersized, len(d.Data), need))
	}
	return nil
}
