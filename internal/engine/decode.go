package engine

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/MeKo-Tech/qrbridge/internal/errcode"
	"github.com/MeKo-Tech/qrbridge/internal/pixels"
)

// decodeImage decodes an encoded image in any registered format.
func decodeImage(data []byte) (image.Image, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("decode %s image: empty bounds", format)
	}
	return img, nil
}

// luma is the fixed-point BT.601 weighting the native engine uses.
func luma(r, g, b byte) byte {
	return byte((uint32(r)*77 + uint32(g)*150 + uint32(b)*29 + 128) >> 8)
}

// channelOffsets returns the byte offsets of R, G and B within one pixel.
// ARGB and ABGR skip the leading alpha byte.
func channelOffsets(f pixels.Format) (r, g, b int) {
	switch f {
	case pixels.RGB, pixels.RGBA:
		return 0, 1, 2
	case pixels.BGR, pixels.BGRA:
		return 2, 1, 0
	case pixels.ARGB:
		return 1, 2, 3
	case pixels.ABGR:
		return 3, 2, 1
	default:
		return 0, 0, 0
	}
}

// toGray converts a raw buffer to luminance, honoring stride. Stride 0 means
// tightly packed rows.
func toGray(px pixels.Descriptor) (*image.Gray, errcode.Kind) {
	bpp := px.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, errcode.InvalidArgument
	}
	stride := px.EffectiveStride()
	if stride < px.MinStride() || len(px.Data) < stride*(px.Height-1)+px.MinStride() {
		return nil, errcode.InvalidArgument
	}

	gray := image.NewGray(image.Rect(0, 0, px.Width, px.Height))
	ro, gi, bo := channelOffsets(px.Format)
	for y := 0; y < px.Height; y++ {
		src := px.Data[y*stride : y*stride+px.MinStride()]
		dst := gray.Pix[y*gray.Stride : y*gray.Stride+px.Width]
		if px.Format == pixels.Gray {
			copy(dst, src)
			continue
		}
		for x := range dst {
			p := src[x*bpp : (x+1)*bpp]
			dst[x] = luma(p[ro], p[gi], p[bo])
		}
	}
	return gray, errcode.Ok
}
