package engine

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrbridge/internal/bridge"
	"github.com/MeKo-Tech/qrbridge/internal/errcode"
	"github.com/MeKo-Tech/qrbridge/internal/pixels"
	"github.com/MeKo-Tech/qrbridge/internal/results"
	"github.com/MeKo-Tech/qrbridge/internal/testutil"
)

func newDetector(t *testing.T) (*Engine, bridge.DetectorHandle) {
	t.Helper()
	e := New()
	h := e.CreateDetector()
	require.True(t, h.Valid())
	t.Cleanup(func() { e.ReleaseDetector(h) })
	return e, h
}

func collect(t *testing.T, e *Engine, r bridge.ResultHandle, k errcode.Kind) results.Outcome {
	t.Helper()
	require.Equal(t, errcode.Ok, k)
	defer func() { assert.Equal(t, errcode.Ok, e.ReleaseResult(r)) }()
	return results.Collect(e, r)
}

func TestRegistry_Keys(t *testing.T) {
	r := newRegistry[int]()
	seen := map[uintptr]bool{}
	for i := 0; i < 1000; i++ {
		k := r.add(i)
		assert.NotZero(t, k)
		assert.False(t, seen[k])
		seen[k] = true
	}
	assert.Equal(t, 1000, r.len())

	for k := range seen {
		_, ok := r.get(k)
		require.True(t, ok)
		assert.True(t, r.remove(k))
		assert.False(t, r.remove(k))
		_, ok = r.get(k)
		assert.False(t, ok)
	}
	assert.Zero(t, r.len())
}

func TestDetectorLifecycle(t *testing.T) {
	e := New()
	h := e.CreateDetector()
	require.True(t, h.Valid())

	assert.Equal(t, errcode.Ok, e.ReleaseDetector(h))
	assert.Equal(t, errcode.InvalidHandle, e.ReleaseDetector(h))
	assert.Equal(t, errcode.InvalidHandle, e.ReleaseDetector(bridge.NoDetector))

	_, k := e.DetectBytes(h, testutil.QRPNG(t, "late"))
	assert.Equal(t, errcode.InvalidHandle, k)

	d, r := e.OpenHandles()
	assert.Zero(t, d)
	assert.Zero(t, r)
}

func TestDetectBytes(t *testing.T) {
	e, h := newDetector(t)

	r, k := e.DetectBytes(h, testutil.QRPNG(t, "hello, bridge"))
	out := collect(t, e, r, k)
	require.True(t, out.OK())
	require.Len(t, out.Symbols, 1)
	assert.Equal(t, "hello, bridge", out.Symbols[0].Text)
	assert.GreaterOrEqual(t, len(out.Symbols[0].Points), 3)

	_, open := e.OpenHandles()
	assert.Zero(t, open)
}

func TestDetectBytes_Errors(t *testing.T) {
	e, h := newDetector(t)

	r, k := e.DetectBytes(h, nil)
	assert.Equal(t, errcode.InvalidArgument, k)
	assert.False(t, r.Valid())

	_, k = e.DetectBytes(h, []byte("not an image"))
	assert.Equal(t, errcode.DecodeFailed, k)

	_, k = e.DetectBytes(bridge.DetectorHandle(12345), []byte("not an image"))
	assert.Equal(t, errcode.InvalidHandle, k)
}

func TestDetectBytes_NothingFound(t *testing.T) {
	e, h := newDetector(t)
	data, err := testutil.EncodePNG(testutil.CreateTestImage(120, 80, color.White))
	require.NoError(t, err)

	r, k := e.DetectBytes(h, data)
	out := collect(t, e, r, k)
	assert.True(t, out.OK())
	assert.Empty(t, out.Symbols)
}

func TestDetectBytes_TwoSymbolsReadingOrder(t *testing.T) {
	e, h := newDetector(t)
	img, err := testutil.GenerateQRRow([]string{"left", "right"}, 200)
	require.NoError(t, err)
	data, err := testutil.EncodePNG(img)
	require.NoError(t, err)

	r, k := e.DetectBytes(h, data)
	out := collect(t, e, r, k)
	require.True(t, out.OK())
	assert.Equal(t, []string{"left", "right"}, out.Texts())
}

func TestDetectPath(t *testing.T) {
	e, h := newDetector(t)
	path := testutil.WriteTempFile(t, "qr.png", testutil.QRPNG(t, "from a file"))

	r, k := e.DetectPath(h, path)
	out := collect(t, e, r, k)
	require.Len(t, out.Symbols, 1)
	assert.Equal(t, "from a file", out.Symbols[0].Text)

	unicodePath := testutil.WriteTempFile(t, "二维码 ü.png", testutil.QRPNG(t, "unicode path"))
	r, k = e.DetectPath(h, unicodePath)
	out = collect(t, e, r, k)
	assert.Equal(t, []string{"unicode path"}, out.Texts())

	_, k = e.DetectPath(h, filepath.Join(t.TempDir(), "missing.png"))
	assert.Equal(t, errcode.DecodeFailed, k)
	_, k = e.DetectPath(h, "")
	assert.Equal(t, errcode.InvalidArgument, k)
}

// encodeAs lays out a grayscale image in the given channel format with
// padded rows.
func encodeAs(g *image.Gray, f pixels.Format, pad int) pixels.Descriptor {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	bpp := f.BytesPerPixel()
	stride := w*bpp + pad
	buf := make([]byte, stride*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := g.GrayAt(x, y).Y
			p := buf[y*stride+x*bpp:]
			for c := 0; c < bpp; c++ {
				p[c] = v
			}
			switch f {
			case pixels.RGBA, pixels.BGRA:
				p[3] = 0xff
			case pixels.ARGB, pixels.ABGR:
				p[0] = 0xff
			}
		}
	}
	return pixels.Descriptor{Data: buf, Format: f, Width: w, Height: h, Stride: stride}
}

func TestDetectPixels_AllFormats(t *testing.T) {
	e, h := newDetector(t)
	cfg := testutil.DefaultQRConfig()
	cfg.Text = "pixels"
	img, err := testutil.GenerateQRImage(cfg)
	require.NoError(t, err)
	gray := testutil.ToGray(img)

	for f := pixels.Gray; f <= pixels.ABGR; f++ {
		t.Run(f.String(), func(t *testing.T) {
			px := encodeAs(gray, f, 3)
			r, k := e.DetectPixels(h, px)
			out := collect(t, e, r, k)
			assert.Equal(t, []string{"pixels"}, out.Texts())
		})
	}
}

func TestDetectPixels_Errors(t *testing.T) {
	e, h := newDetector(t)

	_, k := e.DetectPixels(h, pixels.Descriptor{Format: pixels.Gray, Width: 2, Height: 2})
	assert.Equal(t, errcode.InvalidArgument, k)

	_, k = e.DetectPixels(h, pixels.Descriptor{Data: make([]byte, 4), Format: pixels.Format(42), Width: 2, Height: 2})
	assert.Equal(t, errcode.InvalidArgument, k)

	_, k = e.DetectPixels(h, pixels.Descriptor{Data: make([]byte, 10), Format: pixels.RGB, Width: 2, Height: 2})
	assert.Equal(t, errcode.InvalidArgument, k)

	_, k = e.DetectPixels(h, pixels.Descriptor{Data: make([]byte, 64), Format: pixels.RGBA, Width: 4, Height: 2, Stride: 8})
	assert.Equal(t, errcode.InvalidArgument, k)
}

func TestResultRetrieval(t *testing.T) {
	e, h := newDetector(t)
	r, k := e.DetectBytes(h, testutil.QRPNG(t, "abc"))
	require.Equal(t, errcode.Ok, k)

	n, k := e.ResultSize(r)
	require.Equal(t, errcode.Ok, k)
	require.Equal(t, 1, n)

	need, k := e.ResultText(r, 0, nil)
	assert.Equal(t, errcode.Ok, k)
	assert.Equal(t, 4, need)

	need, k = e.ResultText(r, 0, make([]byte, 3))
	assert.Equal(t, errcode.BufferTooSmall, k)
	assert.Equal(t, 4, need)

	buf := make([]byte, 8)
	need, k = e.ResultText(r, 0, buf)
	assert.Equal(t, errcode.Ok, k)
	assert.Equal(t, []byte("abc\x00"), buf[:need])

	npts, k := e.ResultPoints(r, 0, nil)
	require.Equal(t, errcode.Ok, k)
	assert.Zero(t, npts%2)
	if npts > 0 {
		_, k = e.ResultPoints(r, 0, make([]float32, npts-1))
		assert.Equal(t, errcode.BufferTooSmall, k)
	}

	_, k = e.ResultText(r, 1, nil)
	assert.Equal(t, errcode.InvalidIndex, k)
	_, k = e.ResultPoints(r, -1, nil)
	assert.Equal(t, errcode.InvalidIndex, k)

	assert.Equal(t, errcode.Ok, e.ReleaseResult(r))
	assert.Equal(t, errcode.InvalidHandle, e.ReleaseResult(r))
	_, k = e.ResultSize(r)
	assert.Equal(t, errcode.InvalidHandle, k)
	_, k = e.ResultText(r, 0, nil)
	assert.Equal(t, errcode.InvalidHandle, k)
}

func TestToGray(t *testing.T) {
	// One pixel per format, red channel 200, green 100, blue 50.
	tests := []struct {
		f    pixels.Format
		data []byte
	}{
		{pixels.RGB, []byte{200, 100, 50}},
		{pixels.BGR, []byte{50, 100, 200}},
		{pixels.RGBA, []byte{200, 100, 50, 255}},
		{pixels.BGRA, []byte{50, 100, 200, 255}},
		{pixels.ARGB, []byte{255, 200, 100, 50}},
		{pixels.ABGR, []byte{255, 50, 100, 200}},
	}
	want := luma(200, 100, 50)
	for _, tt := range tests {
		t.Run(tt.f.String(), func(t *testing.T) {
			g, k := toGray(pixels.Descriptor{Data: tt.data, Format: tt.f, Width: 1, Height: 1})
			require.Equal(t, errcode.Ok, k)
			assert.Equal(t, want, g.GrayAt(0, 0).Y)
		})
	}
}

func TestToGray_Stride(t *testing.T) {
	// Two rows of two gray pixels, each row padded with two junk bytes.
	data := []byte{1, 2, 99, 99, 3, 4, 99, 99}
	g, k := toGray(pixels.Descriptor{Data: data, Format: pixels.Gray, Width: 2, Height: 2, Stride: 4})
	require.Equal(t, errcode.Ok, k)
	assert.Equal(t, []byte{1, 2, 3, 4}, g.Pix)

	// The last row may end right after its pixels.
	_, k = toGray(pixels.Descriptor{Data: data[:6], Format: pixels.Gray, Width: 2, Height: 2, Stride: 4})
	assert.Equal(t, errcode.Ok, k)
}
