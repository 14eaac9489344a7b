package testutil

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	gozxing "github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/require"
)

// QRConfig holds configuration for generating QR test images.
type QRConfig struct {
	Text       string
	Size       int // side length in pixels, quiet zone included
	Background color.Color
	Foreground color.Color
	Rotation   float64 // rotation in degrees
}

// DefaultQRConfig returns a default configuration for QR test images.
func DefaultQRConfig() QRConfig {
	return QRConfig{
		Text:       "https://example.com/qrbridge",
		Size:       240,
		Background: color.White,
		Foreground: color.Black,
	}
}

// GenerateQRImage renders a single QR symbol.
func GenerateQRImage(config QRConfig) (*image.RGBA, error) {
	if config.Text == "" {
		return nil, fmt.Errorf("qr text is empty")
	}
	matrix, err := qrcode.NewQRCodeWriter().Encode(config.Text, gozxing.BarcodeFormat_QR_CODE, config.Size, config.Size, nil)
	if err != nil {
		return nil, fmt.Errorf("encode qr %q: %w", config.Text, err)
	}

	w, h := matrix.GetWidth(), matrix.GetHeight()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{config.Background}, image.Point{}, draw.Src)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if matrix.Get(x, y) {
				img.Set(x, y, config.Foreground)
			}
		}
	}

	if config.Rotation != 0 {
		rotated := imaging.Rotate(img, config.Rotation, config.Background)
		rgba := image.NewRGBA(rotated.Bounds())
		draw.Draw(rgba, rgba.Bounds(), rotated, rotated.Bounds().Min, draw.Src)
		return rgba, nil
	}
	return img, nil
}

// GenerateQRRow renders one QR symbol per text, left to right, separated by
// a white gap of half a symbol.
func GenerateQRRow(texts []string, size int) (*image.RGBA, error) {
	gap := size / 2
	width := len(texts)*size + (len(texts)+1)*gap
	height := size + 2*gap
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)

	for i, text := range texts {
		config := DefaultQRConfig()
		config.Text = text
		config.Size = size
		symbol, err := GenerateQRImage(config)
		if err != nil {
			return nil, err
		}
		at := image.Pt(gap+i*(size+gap), gap)
		draw.Draw(img, symbol.Bounds().Add(at), symbol, image.Point{}, draw.Src)
	}
	return img, nil
}

// EncodePNG returns img as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// QRPNG renders text as a QR code and returns it PNG-encoded.
func QRPNG(t *testing.T, text string) []byte {
	t.Helper()

	config := DefaultQRConfig()
	config.Text = text
	img, err := GenerateQRImage(config)
	require.NoError(t, err)
	data, err := EncodePNG(img)
	require.NoError(t, err)
	return data
}

// ToGray converts img to an 8-bit grayscale image.
func ToGray(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// CreateTestImage creates a blank image with the specified dimensions and color.
func CreateTestImage(width, height int, backgroundColor color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{backgroundColor}, image.Point{}, draw.Src)
	return img
}

// SaveImage saves an image as PNG to the specified path.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	dir := filepath.Dir(path)
	require.NoError(t, EnsureDir(dir), "Failed to create directory %s", dir)

	file, err := os.Create(path) //nolint:gosec // G304: Test file creation with controlled path
	require.NoError(t, err, "Failed to create file %s", path)
	defer func() {
		require.NoError(t, file.Close())
	}()

	require.NoError(t, png.Encode(file, img), "Failed to encode PNG image")
}

// LoadImage loads an image from the specified path.
func LoadImage(t *testing.T, path string) image.Image {
	t.Helper()

	file, err := os.Open(path) //nolint:gosec // G304: Test file reading with controlled path
	require.NoError(t, err, "Failed to open image file %s", path)
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	require.NoError(t, err, "Failed to decode image")

	return img
}

// CompareImages compares two images and returns true if they are similar.
func CompareImages(img1, img2 image.Image, tolerance float64) bool {
	bounds1 := img1.Bounds()
	bounds2 := img2.Bounds()

	if bounds1 != bounds2 {
		return false
	}

	var totalDiff float64
	var pixelCount float64

	for y := bounds1.Min.Y; y < bounds1.Max.Y; y++ {
		for x := bounds1.Min.X; x < bounds1.Max.X; x++ {
			r1, g1, b1, a1 := img1.At(x, y).RGBA()
			r2, g2, b2, a2 := img2.At(x, y).RGBA()

			dr := float64(r1) - float64(r2)
			dg := float64(g1) - float64(g2)
			db := float64(b1) - float64(b2)
			da := float64(a1) - float64(a2)

			totalDiff += math.Sqrt(dr*dr + dg*dg + db*db + da*da)
			pixelCount++
		}
	}

	avgDiff := totalDiff / pixelCount
	maxDiff := math.Sqrt(4 * 65535 * 65535)

	return (avgDiff / maxDiff) <= tolerance
}
