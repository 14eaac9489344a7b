package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/require"
)

// BuildImagePDF is EncodeImagePDF for tests.
func BuildImagePDF(t *testing.T, imgs ...image.Image) []byte {
	t.Helper()

	data, err := EncodeImagePDF(imgs...)
	require.NoError(t, err)
	return data
}

// EncodeImagePDF writes a minimal PDF with one page per image. Each page
// shows its image as a DCT-encoded XObject named /Im0.
func EncodeImagePDF(imgs ...image.Image) ([]byte, error) {
	var objs [][]byte
	add := func(body []byte) int {
		objs = append(objs, body)
		return len(objs)
	}
	// 1: catalog, 2: page tree; filled in once the kids are known.
	add(nil)
	add(nil)

	var kids bytes.Buffer
	for _, img := range imgs {
		var enc bytes.Buffer
		if err := jpeg.Encode(&enc, img, &jpeg.Options{Quality: 95}); err != nil {
			return nil, fmt.Errorf("encode page image: %w", err)
		}
		w, h := img.Bounds().Dx(), img.Bounds().Dy()

		var xobj bytes.Buffer
		fmt.Fprintf(&xobj, "<< /Type /XObject /Subtype /Image /Width %d /Height %d "+
			"/ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /DCTDecode /Length %d >>\nstream\n", w, h, enc.Len())
		xobj.Write(enc.Bytes())
		xobj.WriteString("\nendstream")
		imgNum := add(xobj.Bytes())

		content := fmt.Sprintf("q %d 0 0 %d 0 0 cm /Im0 Do Q", w, h)
		contentNum := add([]byte(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content)))

		pageNum := add([]byte(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] "+
			"/Resources << /XObject << /Im0 %d 0 R >> >> /Contents %d 0 R >>", w, h, imgNum, contentNum)))
		fmt.Fprintf(&kids, "%d 0 R ", pageNum)
	}
	objs[0] = []byte("<< /Type /Catalog /Pages 2 0 R >>")
	objs[1] = []byte(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", bytes.TrimSpace(kids.Bytes()), len(imgs)))

	var out bytes.Buffer
	out.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	offsets := make([]int, len(objs))
	for i, body := range objs {
		offsets[i] = out.Len()
		fmt.Fprintf(&out, "%d 0 obj\n", i+1)
		out.Write(body)
		out.WriteString("\nendobj\n")
	}
	xref := out.Len()
	fmt.Fprintf(&out, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&out, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&out, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return out.Bytes(), nil
}
