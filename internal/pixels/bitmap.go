package pixels

import (
	"fmt"
	"log/slog"
	"slices"
)

// Layout identifies the storage layout of a host bitmap or texture.
type Layout int

const (
	LayoutUnknown Layout = iota
	LayoutAlpha8
	LayoutR8
	LayoutRGB24
	LayoutRGBA32
	LayoutBGRA32
	LayoutARGB32
	LayoutRGB565
	LayoutRGBA4444
)

func (l Layout) String() string {
	switch l {
	case LayoutAlpha8:
		return "alpha8"
	case LayoutR8:
		return "r8"
	case LayoutRGB24:
		return "rgb24"
	case LayoutRGBA32:
		return "rgba32"
	case LayoutBGRA32:
		return "bgra32"
	case LayoutARGB32:
		return "argb32"
	case LayoutRGB565:
		return "rgb565"
	case LayoutRGBA4444:
		return "rgba4444"
	default:
		return "unknown"
	}
}

// layoutFormats holds the layouts whose raw bytes can be passed through.
var layoutFormats = map[Layout]Format{
	LayoutAlpha8: Gray,
	LayoutR8:     Gray,
	LayoutRGB24:  RGB,
	LayoutRGBA32: RGBA,
	LayoutBGRA32: BGRA,
	LayoutARGB32: ARGB,
}

// Bitmap is a host-owned bitmap or texture.
type Bitmap interface {
	Width() int
	Height() int
	Layout() Layout
	// Readable reports whether pixel data can be read on the CPU.
	Readable() bool
	// RawData returns the tightly packed pixel bytes in the bitmap's layout.
	RawData() []byte
	// ReadPixels32 returns Width*Height*4 bytes in A,R,G,B order.
	ReadPixels32() ([]byte, error)
	// BottomUp reports whether the first row in memory is the bottom row.
	BottomUp() bool
}

// FromBitmap converts a host bitmap into a top-down pixel buffer. Tabulated
// layouts pass their raw bytes through; every other layout is read back as
// ARGB. Bottom-up raw bytes are copied before flipping, so the bitmap itself
// is never modified. A nil logger uses slog.Default.
func FromBitmap(bm Bitmap, logger *slog.Logger) (Descriptor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if bm == nil {
		return Descriptor{}, invalid("bitmap pixels", errNilSource)
	}
	if !bm.Readable() {
		return Descriptor{}, invalid("bitmap pixels", fmt.Errorf("%w: layout %s", errUnreadable, bm.Layout()))
	}

	d := Descriptor{Width: bm.Width(), Height: bm.Height()}
	if d.Width <= 0 || d.Height <= 0 {
		return Descriptor{}, invalid("bitmap pixels", fmt.Errorf("%w: %dx%d", errDimensions, d.Width, d.Height))
	}

	layout := bm.Layout()
	borrowed := false
	if f, ok := layoutFormats[layout]; ok {
		d.Format = f
		d.Data = bm.RawData()
		borrowed = true
	} else {
		if layout == LayoutUnknown {
			logger.Warn("Unrecognized bitmap layout, reading back as ARGB; channel order may not match",
				"width", d.Width, "height", d.Height)
		}
		data, err := bm.ReadPixels32()
		if err != nil {
			return Descriptor{}, invalid("bitmap pixels", fmt.Errorf("readback %s: %w", layout, err))
		}
		if len(data) != d.Width*d.Height*4 {
			return Descriptor{}, invalid("bitmap pixels",
				fmt.Errorf("%w: %d, want %d", errReadbackLen, len(data), d.Width*d.Height*4))
		}
		d.Format = ARGB
		d.Data = data
	}

	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	if bm.BottomUp() {
		if borrowed {
			d.Data = slices.Clone(d.Data[:d.MinStride()*d.Height])
		}
		if err := FlipVertical(d.Data, d.Width, d.Height, d.Format.BytesPerPixel()); err != nil {
			return Descriptor{}, err
		}
	}
	return d, nil
}

// MemoryBitmap is a Bitmap backed by a byte slice.
type MemoryBitmap struct {
	W, H     int
	Kind     Layout
	Pix      []byte
	Flipped  bool
	ReadOnly bool // GPU-only textures report not readable
}

func (m *MemoryBitmap) Width() int      { return m.W }
func (m *MemoryBitmap) Height() int     { return m.H }
func (m *MemoryBitmap) Layout() Layout  { return m.Kind }
func (m *MemoryBitmap) Readable() bool  { return !m.ReadOnly }
func (m *MemoryBitmap) RawData() []byte { return m.Pix }
func (m *MemoryBitmap) BottomUp() bool  { return m.Flipped }

// ReadPixels32 expands the stored layout to ARGB. Unknown layouts are
// treated as 32-bit ARGB.
func (m *MemoryBitmap) ReadPixels32() ([]byte, error) {
	n := m.W * m.H
	out := make([]byte, n*4)
	switch m.Kind {
	case LayoutRGB565:
		if len(m.Pix) < n*2 {
			return nil, fmt.Errorf("%w: %d < %d", errUndersized, len(m.Pix), n*2)
		}
		for i := 0; i < n; i++ {
			v := uint16(m.Pix[i*2]) | uint16(m.Pix[i*2+1])<<8
			r, g, b := byte(v>>11&0x1f), byte(v>>5&0x3f), byte(v&0x1f)
			out[i*4+0] = 0xff
			out[i*4+1] = r<<3 | r>>2
			out[i*4+2] = g<<2 | g>>4
			out[i*4+3] = b<<3 | b>>2
		}
	case LayoutRGBA4444:
		if len(m.Pix) < n*2 {
			return nil, fmt.Errorf("%w: %d < %d", errUndersized, len(m.Pix), n*2)
		}
		for i := 0; i < n; i++ {
			v := uint16(m.Pix[i*2]) | uint16(m.Pix[i*2+1])<<8
			r, g, b, a := byte(v>>12&0xf), byte(v>>8&0xf), byte(v>>4&0xf), byte(v&0xf)
			out[i*4+0] = a<<4 | a
			out[i*4+1] = r<<4 | r
			out[i*4+2] = g<<4 | g
			out[i*4+3] = b<<4 | b
		}
	default:
		bpp := 4
		if f, ok := layoutFormats[m.Kind]; ok {
			bpp = f.BytesPerPixel()
		}
		if len(m.Pix) < n*bpp {
			return nil, fmt.Errorf("%w: %d < %d", errUndersized, len(m.Pix), n*bpp)
		}
		for i := 0; i < n; i++ {
			a, r, g, b := m.pixelARGB(i, bpp)
			out[i*4+0], out[i*4+1], out[i*4+2], out[i*4+3] = a, r, g, b
		}
	}
	return out, nil
}

func (m *MemoryBitmap) pixelARGB(i, bpp int) (a, r, g, b byte) {
	p := m.Pix[i*bpp : (i+1)*bpp]
	switch m.Kind {
	case LayoutAlpha8:
		return p[0], 0, 0, 0
	case LayoutR8:
		return 0xff, p[0], 0, 0
	case LayoutRGB24:
		return 0xff, p[0], p[1], p[2]
	case LayoutRGBA32:
		return p[3], p[0], p[1], p[2]
	case LayoutBGRA32:
		return p[3], p[2], p[1], p[0]
	default:
		return p[0], p[1], p[2], p[3]
	}
}
