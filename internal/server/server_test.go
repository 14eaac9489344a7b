package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/qrbridge/internal/bridge"
	"github.com/MeKo-Tech/qrbridge/internal/bridge/bridgetest"
	"github.com/MeKo-Tech/qrbridge/internal/detector"
	"github.com/MeKo-Tech/qrbridge/internal/dispatch"
	"github.com/MeKo-Tech/qrbridge/internal/engine"
	"github.com/MeKo-Tech/qrbridge/internal/errcode"
	"github.com/MeKo-Tech/qrbridge/internal/testutil"
)

var square = []float32{0, 0, 10, 0, 10, 10, 0, 10}

// newTestServer wires b through a detector with its own two-worker pool.
func newTestServer(t *testing.T, b bridge.Bridge, cfg Config) (*Server, *dispatch.Dispatcher) {
	t.Helper()
	pool := dispatch.New(2)
	det := detector.New(b, detector.WithDispatcher(pool))
	t.Cleanup(func() {
		_ = det.Close()
		_ = pool.Shutdown(context.Background())
	})

	cfg.Pool = pool
	s, err := NewServer(cfg, det)
	require.NoError(t, err)
	return s, pool
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeDetect(t *testing.T, w *httptest.ResponseRecorder) DetectResponse {
	t.Helper()
	var resp DetectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(Config{}, nil)
	require.Error(t, err)

	s, _ := newTestServer(t, bridgetest.New(), Config{})
	assert.Equal(t, "*", s.corsOrigin)
	assert.Equal(t, int64(50), s.maxUploadMB)
	assert.Equal(t, 30*time.Second, s.timeout)
	assert.Nil(t, s.rateLimiter)

	limited, _ := newTestServer(t, bridgetest.New(), Config{RequestsPerHour: 10})
	assert.NotNil(t, limited.rateLimiter)
}

func TestServer_HealthHandler(t *testing.T) {
	s, _ := newTestServer(t, bridgetest.New(), Config{})

	tests := []struct {
		name           string
		method         string
		expectedStatus int
		checkResponse  bool
	}{
		{name: "GET request success", method: http.MethodGet, expectedStatus: http.StatusOK, checkResponse: true},
		{name: "POST request not allowed", method: http.MethodPost, expectedStatus: http.StatusMethodNotAllowed},
		{name: "PUT request not allowed", method: http.MethodPut, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(s, httptest.NewRequest(tt.method, "/health", nil))
			assert.Equal(t, tt.expectedStatus, w.Code)
			if !tt.checkResponse {
				return
			}

			var response HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, "healthy", response.Status)
			assert.NotEmpty(t, response.Time)
			require.NotNil(t, response.Dispatcher)
			assert.Equal(t, 2, response.Dispatcher.Workers)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	s, _ := newTestServer(t, bridgetest.New(), Config{})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	_, err := uuid.Parse(w.Header().Get(RequestIDHeader))
	require.NoError(t, err)

	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, id)
	assert.Equal(t, id, serve(s, req).Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	assert.NotEqual(t, "not-a-uuid", serve(s, req).Header().Get(RequestIDHeader))
}

func TestCORSPreflight(t *testing.T) {
	fake := bridgetest.New()
	s, _ := newTestServer(t, fake, Config{CORSOrigin: "https://example.com"})

	w := serve(s, httptest.NewRequest(http.MethodOptions, "/detect", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Zero(t, fake.Count(bridgetest.OpDetectBytes))
}

func TestDetect_RawBody(t *testing.T) {
	fake := bridgetest.New(bridgetest.Symbol{Text: "hello", Points: square})
	s, pool := newTestServer(t, fake, Config{})

	w := serve(s, httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader([]byte{0x89, 'P'})))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeDetect(t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, w.Header().Get(RequestIDHeader), resp.RequestID)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "ok", resp.Result.Kind)
	require.Len(t, resp.Result.Symbols, 1)
	assert.Equal(t, "hello", resp.Result.Symbols[0].Text)
	assert.Len(t, resp.Result.Symbols[0].Points, 4)

	assert.Zero(t, fake.OpenResults())
	assert.Equal(t, uint64(1), pool.Stats().Completed)
}

func TestDetect_NothingFound(t *testing.T) {
	s, _ := newTestServer(t, bridgetest.New(), Config{})

	w := serve(s, httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader("img")))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeDetect(t, w)
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Result.Symbols)
	assert.Empty(t, resp.Result.Symbols)
}

func multipartBody(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, "upload.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestDetect_MultipartEngine(t *testing.T) {
	s, _ := newTestServer(t, engine.New(), Config{})

	body, ct := multipartBody(t, "image", testutil.QRPNG(t, "over http"))
	req := httptest.NewRequest(http.MethodPost, "/detect", body)
	req.Header.Set("Content-Type", ct)

	w := serve(s, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeDetect(t, w)
	require.Len(t, resp.Result.Symbols, 1)
	assert.Equal(t, "over http", resp.Result.Symbols[0].Text)
}

func TestDetect_MultipartMissingField(t *testing.T) {
	fake := bridgetest.New()
	s, _ := newTestServer(t, fake, Config{})

	body, ct := multipartBody(t, "file", []byte("data"))
	req := httptest.NewRequest(http.MethodPost, "/detect", body)
	req.Header.Set("Content-Type", ct)

	w := serve(s, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeDetect(t, w)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "missing image field")
	assert.Zero(t, fake.Count(bridgetest.OpDetectBytes))
}

func TestDetect_StatusByKind(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(*bridgetest.Fake)
		wantStatus int
		wantKind   errcode.Kind
	}{
		{name: "empty body", body: "", wantStatus: http.StatusBadRequest, wantKind: errcode.InvalidArgument},
		{
			name:       "decode failure",
			body:       "junk",
			setup:      func(f *bridgetest.Fake) { f.Fail(bridgetest.OpDetectBytes, errcode.DecodeFailed) },
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   errcode.DecodeFailed,
		},
		{
			name:       "invalid handle",
			body:       "junk",
			setup:      func(f *bridgetest.Fake) { f.Fail(bridgetest.OpDetectBytes, errcode.InvalidHandle) },
			wantStatus: http.StatusServiceUnavailable,
			wantKind:   errcode.InvalidHandle,
		},
		{
			name:       "retrieval failure",
			body:       "junk",
			setup:      func(f *bridgetest.Fake) { f.FailAt(bridgetest.OpResultText, 0, errcode.InvalidIndex) },
			wantStatus: http.StatusInternalServerError,
			wantKind:   errcode.InvalidIndex,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := bridgetest.New(bridgetest.Symbol{Text: "a", Points: square})
			if tt.setup != nil {
				tt.setup(fake)
			}
			s, _ := newTestServer(t, fake, Config{})

			w := serve(s, httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeDetect(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantKind.String(), resp.Error)
			require.NotNil(t, resp.Result)
			assert.Equal(t, tt.wantKind.Code(), resp.Result.Code)
			assert.Zero(t, fake.OpenResults())
		})
	}
}

func TestDetect_TooLarge(t *testing.T) {
	fake := bridgetest.New()
	s, _ := newTestServer(t, fake, Config{MaxUploadMB: 1})

	body := bytes.Repeat([]byte{1}, 1<<20+1)
	w := serve(s, httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(body)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Zero(t, fake.Count(bridgetest.OpDetectBytes))
}

func TestDetect_Timeout(t *testing.T) {
	fake := bridgetest.New()
	release := make(chan struct{})
	fake.OnCall(bridgetest.OpDetectBytes, func() { <-release })
	s, _ := newTestServer(t, fake, Config{})
	t.Cleanup(func() { close(release) })
	s.timeout = 20 * time.Millisecond

	w := serve(s, httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader("slow")))
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Contains(t, decodeDetect(t, w).Error, "timed out")
}

func TestDetect_ClientGone(t *testing.T) {
	fake := bridgetest.New()
	s, _ := newTestServer(t, fake, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader("x")).WithContext(ctx)
	w := serve(s, req)
	// Nothing useful can be written to a client that went away.
	assert.Empty(t, w.Body.String())
}

func TestDetect_DispatcherClosed(t *testing.T) {
	fake := bridgetest.New()
	s, pool := newTestServer(t, fake, Config{})
	require.NoError(t, pool.Shutdown(context.Background()))

	w := serve(s, httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader("x")))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Zero(t, fake.Count(bridgetest.OpDetectBytes))
}

func TestDetectPixels(t *testing.T) {
	fake := bridgetest.New(bridgetest.Symbol{Text: "px", Points: square})
	s, _ := newTestServer(t, fake, Config{})

	// Two gray rows with one byte of padding each, stored bottom-up.
	body := []byte{1, 2, 0, 3, 4, 0}
	req := httptest.NewRequest(http.MethodPost,
		"/detect/pixels?format=gray&width=2&height=2&stride=3&bottom_up=true", bytes.NewReader(body))

	w := serve(s, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeDetect(t, w)
	require.Len(t, resp.Result.Symbols, 1)
	assert.Equal(t, "px", resp.Result.Symbols[0].Text)

	got := fake.LastPixels()
	assert.Equal(t, []byte{3, 4, 0, 1, 2, 0}, got.Data)
	assert.Equal(t, 3, got.Stride)
	assert.Equal(t, 2, got.Width)
}

func TestDetectPixels_BadRequests(t *testing.T) {
	tests := []struct {
		name  string
		query string
		body  []byte
	}{
		{"missing format", "width=2&height=2", make([]byte, 4)},
		{"unknown format", "format=cmyk&width=2&height=2", make([]byte, 4)},
		{"missing width", "format=gray&height=2", make([]byte, 4)},
		{"bad height", "format=gray&width=2&height=two", make([]byte, 4)},
		{"bad stride", "format=gray&width=2&height=2&stride=x", make([]byte, 4)},
		{"bad bottom_up", "format=gray&width=2&height=2&bottom_up=maybe", make([]byte, 4)},
		{"undersized buffer", "format=rgb&width=2&height=2", make([]byte, 4)},
		{"undersized bottom-up buffer", "format=rgb&width=2&height=2&bottom_up=1", make([]byte, 4)},
		{"stride below row size", "format=gray&width=4&height=1&stride=2", make([]byte, 4)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := bridgetest.New()
			s, _ := newTestServer(t, fake, Config{})

			req := httptest.NewRequest(http.MethodPost, "/detect/pixels?"+tt.query, bytes.NewReader(tt.body))
			w := serve(s, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, decodeDetect(t, w).Success)
			assert.Zero(t, fake.Count(bridgetest.OpDetectPixels))
		})
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	s, _ := newTestServer(t, bridgetest.New(), Config{RequestsPerMinute: 2})

	for i := 0; i < 2; i++ {
		w := serve(s, httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader("x")))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := serve(s, httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader("x")))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "minute", w.Header().Get("X-RateLimit-Type"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body["error"])

	// Health checks are not limited.
	assert.Equal(t, http.StatusOK, serve(s, httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, bridgetest.New(), Config{})
	serve(s, httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader("x")))

	w := serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "qrbridge_http_requests_total")
	assert.Contains(t, string(body), `endpoint="/detect"`)
	assert.Contains(t, string(body), "qrbridge_detect_requests_total")
}

func TestStatusForKind(t *testing.T) {
	assert.Equal(t, http.StatusOK, statusForKind(errcode.Ok))
	assert.Equal(t, http.StatusBadRequest, statusForKind(errcode.InvalidArgument))
	assert.Equal(t, http.StatusUnprocessableEntity, statusForKind(errcode.DecodeFailed))
	assert.Equal(t, http.StatusServiceUnavailable, statusForKind(errcode.OutOfMemory))
	assert.Equal(t, http.StatusInternalServerError, statusForKind(errcode.BufferTooSmall))
	assert.Equal(t, http.StatusInternalServerError, statusForKind(errcode.Unknown))
}
