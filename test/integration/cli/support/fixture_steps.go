package support

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/qrbridge/internal/pdf"
	"github.com/MeKo-Tech/qrbridge/internal/testutil"
)

// RegisterFixtureSteps registers the steps that create input files.
func (testCtx *TestContext) RegisterFixtureSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a QR image "([^"]*)" encoding "([^"]*)"$`, testCtx.aQRImageEncoding)
	sc.Step(`^a blank image "([^"]*)"$`, testCtx.aBlankImage)
	sc.Step(`^a file "([^"]*)" containing "([^"]*)"$`, testCtx.aFileContaining)
	sc.Step(`^a gray pixel buffer "([^"]*)" encoding "([^"]*)"$`, testCtx.aGrayPixelBuffer)
	sc.Step(`^a bottom-up gray pixel buffer "([^"]*)" encoding "([^"]*)"$`, testCtx.aBottomUpGrayPixelBuffer)
	sc.Step(`^a PDF "([^"]*)" with pages encoding "([^"]*)" and "([^"]*)"$`, testCtx.aPDFWithPages)
}

func (testCtx *TestContext) path(name string) string {
	return filepath.Join(testCtx.TempDir, name)
}

func (testCtx *TestContext) writeFile(name string, data []byte) error {
	if err := os.WriteFile(testCtx.path(name), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func qrImage(text string) (*image.RGBA, error) {
	cfg := testutil.DefaultQRConfig()
	cfg.Text = text
	return testutil.GenerateQRImage(cfg)
}

func (testCtx *TestContext) aQRImageEncoding(name, text string) error {
	img, err := qrImage(text)
	if err != nil {
		return err
	}
	data, err := testutil.EncodePNG(img)
	if err != nil {
		return err
	}
	return testCtx.writeFile(name, data)
}

func (testCtx *TestContext) aBlankImage(name string) error {
	data, err := testutil.EncodePNG(testutil.CreateTestImage(96, 96, color.White))
	if err != nil {
		return err
	}
	return testCtx.writeFile(name, data)
}

func (testCtx *TestContext) aFileContaining(name, content string) error {
	return testCtx.writeFile(name, []byte(content))
}

func (testCtx *TestContext) grayBuffer(name, text string, bottomUp bool) error {
	img, err := qrImage(text)
	if err != nil {
		return err
	}
	gray := testutil.ToGray(img)
	w, h := gray.Bounds().Dx(), gray.Bounds().Dy()

	data := make([]byte, 0, w*h)
	for i := 0; i < h; i++ {
		y := i
		if bottomUp {
			y = h - 1 - i
		}
		data = append(data, gray.Pix[y*gray.Stride:y*gray.Stride+w]...)
	}
	if err := testCtx.writeFile(name, data); err != nil {
		return err
	}
	testCtx.Buffers[name] = RawBuffer{Path: testCtx.path(name), Format: "gray", Width: w, Height: h, BottomUp: bottomUp}
	return nil
}

func (testCtx *TestContext) aGrayPixelBuffer(name, text string) error {
	return testCtx.grayBuffer(name, text, false)
}

func (testCtx *TestContext) aBottomUpGrayPixelBuffer(name, text string) error {
	return testCtx.grayBuffer(name, text, true)
}

func (testCtx *TestContext) aPDFWithPages(name, first, second string) error {
	var imgs []image.Image
	for _, text := range []string{first, second} {
		img, err := qrImage(text)
		if err != nil {
			return err
		}
		imgs = append(imgs, img)
	}
	data, err := testutil.EncodeImagePDF(imgs...)
	if err != nil {
		return err
	}
	if err := testCtx.writeFile(name, data); err != nil {
		return err
	}
	if _, err := pdf.ExtractImages(testCtx.path(name), "", nil); err != nil {
		return godog.ErrSkip
	}
	return nil
}
