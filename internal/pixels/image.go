package pixels

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// FromImage describes img as a pixel buffer. Gray, Alpha, RGBA and NRGBA
// images are passed through without copying when their rows are addressable
// in place; any other image type is read back pixel by pixel into ARGB.
func FromImage(img image.Image) (Descriptor, error) {
	if img == nil {
		return Descriptor{}, invalid("image pixels", errNilSource)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Descriptor{}, invalid("image pixels", fmt.Errorf("%w: %dx%d", errDimensions, b.Dx(), b.Dy()))
	}

	var d Descriptor
	switch m := img.(type) {
	case *image.Gray:
		d = direct(m.Pix, m.PixOffset(b.Min.X, b.Min.Y), m.Stride, Gray, b)
	case *image.Alpha:
		d = direct(m.Pix, m.PixOffset(b.Min.X, b.Min.Y), m.Stride, Gray, b)
	case *image.RGBA:
		d = direct(m.Pix, m.PixOffset(b.Min.X, b.Min.Y), m.Stride, RGBA, b)
	case *image.NRGBA:
		d = direct(m.Pix, m.PixOffset(b.Min.X, b.Min.Y), m.Stride, RGBA, b)
	default:
		d = readbackARGB(img)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// direct borrows an image's backing array. A sub-image's last row may end
// before a full stride; such buffers are repacked so the size invariant holds.
func direct(pix []byte, off, stride int, f Format, b image.Rectangle) Descriptor {
	d := Descriptor{Data: pix[off:], Format: f, Width: b.Dx(), Height: b.Dy(), Stride: stride}
	if len(d.Data) >= stride*d.Height {
		return d
	}
	rowBytes := d.MinStride()
	packed := make([]byte, rowBytes*d.Height)
	for y := 0; y < d.Height; y++ {
		copy(packed[y*rowBytes:(y+1)*rowBytes], d.Data[y*stride:y*stride+rowBytes])
	}
	d.Data = packed
	d.Stride = 0
	return d
}

// readbackARGB converts any image into packed ARGB bytes.
func readbackARGB(img image.Image) Descriptor {
	n := imaging.Clone(img)
	w, h := n.Rect.Dx(), n.Rect.Dy()
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		src := n.Pix[y*n.Stride : y*n.Stride+w*4]
		dst := out[y*w*4 : (y+1)*w*4]
		for x := 0; x < w; x++ {
			dst[x*4+0] = src[x*4+3]
			dst[x*4+1] = src[x*4+0]
			dst[x*4+2] = src[x*4+1]
			dst[x*4+3] = src[x*4+2]
		}
	}
	return Descriptor{Data: out, Format: ARGB, Width: w, Height: h}
}

// Downscale fits img inside maxSide x maxSide. It returns the image to detect
// on and the factor that maps its coordinates back onto img. A non-positive
// maxSide, or an image already within bounds, is returned unchanged with factor 1.
func Downscale(img image.Image, maxSide int) (image.Image, float32) {
	if img == nil || maxSide <= 0 {
		return img, 1
	}
	b := img.Bounds()
	if b.Dx() <= maxSide && b.Dy() <= maxSide {
		return img, 1
	}
	out := imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
	return out, float32(b.Dx()) / float32(out.Bounds().Dx())
}
