package pixels

import (
	"fmt"

	"github.com/MeKo-Tech/qrbridge/internal/mempool"
)

// FlipVertical reverses the row order of a tightly packed buffer in place.
// Row i is swapped with row height-1-i for every i < height/2, using a single
// pooled scratch row of width*bpp bytes.
func FlipVertical(buf []byte, width, height, bpp int) error {
	rowBytes := width * bpp
	if width <= 0 || height <= 0 || bpp <= 0 {
		return invalid("flip vertical", fmt.Errorf("%w: %dx%d@%d", errDimensions, width, height, bpp))
	}
	if len(buf) < rowBytes*height {
		return invalid("flip vertical", fmt.Errorf("%w: %d < %d", errUndersized, len(buf), rowBytes*height))
	}

	tmp := mempool.GetBytes(rowBytes)
	defer mempool.PutBytes(tmp)

	for y := 0; y < height/2; y++ {
		top := buf[y*rowBytes : (y+1)*rowBytes]
		bottom := buf[(height-1-y)*rowBytes : (height-y)*rowBytes]
		copy(tmp, bottom)
		copy(bottom, top)
		copy(top, tmp)
	}
	return nil
}

// FlipRows reverses the row order of d in place. Row padding moves with
// its row.
func (d Descriptor) FlipRows() error {
	if err := d.Validate(); err != nil {
		return err
	}
	return FlipVertical(d.Data, d.EffectiveStride(), d.Height, 1)
}
