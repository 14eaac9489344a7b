package cmd

import (
	"encoding/json"
	"image"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrbridge/internal/pdf"
	"github.com/MeKo-Tech/qrbridge/internal/testutil"
)

func writeQRPDF(t *testing.T, texts ...string) string {
	t.Helper()
	var imgs []image.Image
	for _, text := range texts {
		cfg := testutil.DefaultQRConfig()
		cfg.Text = text
		img, err := testutil.GenerateQRImage(cfg)
		require.NoError(t, err)
		imgs = append(imgs, img)
	}
	path := testutil.WriteTempFile(t, "scan.pdf", testutil.BuildImagePDF(t, imgs...))
	if _, err := pdf.ExtractImages(path, "", nil); err != nil {
		t.Skipf("pdfcpu could not read the generated document: %v", err)
	}
	return path
}

func TestPDFCommand(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	path := writeQRPDF(t, "page one", "page two")

	stdout, _, err := execute(t, "pdf", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, path+" (2 pages)")
	assert.Contains(t, stdout, "page 1, ")
	assert.Contains(t, stdout, ": page one")
	assert.Contains(t, stdout, ": page two")

	stdout, _, err = execute(t, "pdf", path, "--pages", "2", "-o", "json")
	require.NoError(t, err)
	var docs []pdf.DocumentResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, []string{"page two"}, docs[0].Texts())
}

func TestPDFCommand_Errors(t *testing.T) {
	_, _, err := execute(t, "pdf")
	assert.Error(t, err)

	_, _, err = execute(t, "pdf", "/non/existent.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to process")
}

func TestWriteTextDocuments_NothingFound(t *testing.T) {
	var buf strings.Builder
	doc := &pdf.DocumentResult{Filename: "empty.pdf", TotalPages: 1}
	require.NoError(t, writeTextDocuments(&buf, []*pdf.DocumentResult{doc}))
	assert.Equal(t, "empty.pdf (1 pages)\n  no QR code found\n", buf.String())
}
