package cmd

import (
	"encoding/json"
	"image/color"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/qrbridge/internal/testutil"
)

func writeQRFile(t *testing.T, name, text string) string {
	t.Helper()
	return testutil.WriteTempFile(t, name, testutil.QRPNG(t, text))
}

func TestImageCommand_Modes(t *testing.T) {
	path := writeQRFile(t, "ticket.png", "hello qrbridge")

	for _, mode := range []string{"bytes", "path", "pixels"} {
		t.Run(mode, func(t *testing.T) {
			stdout, _, err := execute(t, "image", "--mode", mode, path)
			require.NoError(t, err)
			assert.Equal(t, path+": hello qrbridge\n", stdout)
		})
	}
}

func TestImageCommand_JSON(t *testing.T) {
	path := writeQRFile(t, "ticket.png", "json output")

	stdout, stderr, err := execute(t, "image", "-o", "json", path)
	require.NoError(t, err)

	var reports []struct {
		Source  string `json:"source"`
		Kind    string `json:"kind"`
		Code    int32  `json:"code"`
		Symbols []struct {
			Text   string `json:"text"`
			Points []struct {
				X, Y float32
			} `json:"points"`
		} `json:"symbols"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, path, reports[0].Source)
	assert.Equal(t, "ok", reports[0].Kind)
	assert.Zero(t, reports[0].Code)
	require.Len(t, reports[0].Symbols, 1)
	assert.Equal(t, "json output", reports[0].Symbols[0].Text)
	assert.NotEmpty(t, reports[0].Symbols[0].Points)

	// Logs stay on stderr.
	assert.Contains(t, stderr, "batch_id")
}

func TestImageCommand_YAML(t *testing.T) {
	path := writeQRFile(t, "ticket.png", "yaml output")

	stdout, _, err := execute(t, "image", "-o", "yaml", path)
	require.NoError(t, err)

	var reports []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(stdout), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, path, reports[0]["source"])
	assert.Equal(t, "ok", reports[0]["kind"])
}

func TestImageCommand_AsyncKeepsInputOrder(t *testing.T) {
	texts := []string{"first", "second", "third", "fourth"}
	var files []string
	for _, text := range texts {
		files = append(files, writeQRFile(t, text+".png", text))
	}

	args := append([]string{"image", "--async", "--workers", "2"}, files...)
	stdout, _, err := execute(t, args...)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, len(texts))
	for i, text := range texts {
		assert.Equal(t, files[i]+": "+text, lines[i])
	}
}

func TestImageCommand_NothingFound(t *testing.T) {
	blank, err := testutil.EncodePNG(testutil.CreateTestImage(64, 64, color.White))
	require.NoError(t, err)
	path := testutil.WriteTempFile(t, "blank.png", blank)

	stdout, _, err := execute(t, "image", path)
	require.NoError(t, err)
	assert.Equal(t, path+": no QR code found\n", stdout)
}

func TestImageCommand_Failures(t *testing.T) {
	good := writeQRFile(t, "good.png", "fine")
	bad := testutil.WriteTempFile(t, "bad.png", []byte("not an image"))

	stdout, _, err := execute(t, "image", good, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detection failed for 1 of 2 files")
	assert.Contains(t, stdout, good+": fine")
	assert.Contains(t, stdout, bad+": error: decode_failed")
}

func TestImageCommand_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no files", []string{"image"}, "requires at least 1 arg"},
		{"bad mode", []string{"image", "--mode", "stream", "x.png"}, "invalid mode"},
		{"missing file", []string{"image", "/non/existent/file.png"}, "failed to read"},
		{"missing file async", []string{"image", "--async", "/non/existent/file.png"}, "failed to read"},
		{"missing file pixels", []string{"image", "--mode", "pixels", "/non/existent/file.png"}, "failed to decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
