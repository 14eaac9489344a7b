package engine

import (
	"image"
	"math"
	"sort"

	gozxing "github.com/makiuchi-d/gozxing"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
)

// scan finds every QR symbol in img. gozxing reports "not found" as an
// error; that and any other reader failure yield no symbols.
func scan(img image.Image, tryHarder bool) []symbol {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil
	}

	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_POSSIBLE_FORMATS: []gozxing.BarcodeFormat{gozxing.BarcodeFormat_QR_CODE},
	}
	if tryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	reader := multiqr.NewQRCodeMultiReader()
	found, err := reader.DecodeMultiple(bmp, hints)
	if err != nil || len(found) == 0 {
		return nil
	}

	out := make([]symbol, 0, len(found))
	for _, r := range found {
		if r == nil {
			continue
		}
		pts := r.GetResultPoints()
		flat := make([]float32, 0, 2*len(pts))
		for _, p := range pts {
			flat = append(flat, float32(p.GetX()), float32(p.GetY()))
		}
		out = append(out, symbol{text: r.GetText(), points: flat})
	}
	sortReadingOrder(out)
	return out
}

// rowTolerance is how far apart two symbols' top edges may be while still
// counting as one row.
const rowTolerance = 16

// sortReadingOrder orders symbols top to bottom, then left to right, by the
// top-left corner of their point set.
func sortReadingOrder(syms []symbol) {
	type corner struct{ x, y float32 }
	origin := func(s symbol) corner {
		c := corner{float32(math.Inf(1)), float32(math.Inf(1))}
		for i := 0; i+1 < len(s.points); i += 2 {
			c.x = min(c.x, s.points[i])
			c.y = min(c.y, s.points[i+1])
		}
		return c
	}
	sort.SliceStable(syms, func(i, j int) bool {
		a, b := origin(syms[i]), origin(syms[j])
		if d := a.y - b.y; d > rowTolerance || d < -rowTolerance {
			return a.y < b.y
		}
		return a.x < b.x
	})
}
