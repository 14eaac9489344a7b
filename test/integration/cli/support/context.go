// Package support holds the godog step definitions for the qrbridge CLI and
// server features.
package support

import (
	"fmt"
	"net/http/httptest"
	"os"
	"strings"

	"github.com/MeKo-Tech/qrbridge/internal/detector"
	"github.com/MeKo-Tech/qrbridge/internal/dispatch"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	TempDir string

	// Raw pixel fixtures by file name.
	Buffers map[string]RawBuffer

	// Command execution state
	LastCommand  string
	LastOutput   string
	LastStderr   string
	LastError    error
	LastExitCode int

	// Server state
	HTTPServer *httptest.Server
	det        *detector.Detector
	pool       *dispatch.Dispatcher

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string
}

// RawBuffer describes a raw pixel fixture written to disk.
type RawBuffer struct {
	Path          string
	Format        string
	Width, Height int
	BottomUp      bool
}

// NewTestContext creates a scenario context with its own temp directory.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "qrbridge-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &TestContext{
		TempDir:         tempDir,
		Buffers:         make(map[string]RawBuffer),
		LastHTTPHeaders: make(map[string]string),
	}, nil
}

// Cleanup stops the server and removes the temp directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []error
	if err := testCtx.StopServer(); err != nil {
		errs = append(errs, err)
	}
	if err := os.RemoveAll(testCtx.TempDir); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}

// substitute expands {tmp} to the scenario's temp directory.
func (testCtx *TestContext) substitute(s string) string {
	return strings.ReplaceAll(s, "{tmp}", testCtx.TempDir)
}
