package support

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/qrbridge/internal/detector"
	"github.com/MeKo-Tech/qrbridge/internal/dispatch"
	"github.com/MeKo-Tech/qrbridge/internal/engine"
	"github.com/MeKo-Tech/qrbridge/internal/server"
)

// RegisterServerSteps registers the HTTP and WebSocket steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the detection server is running$`, testCtx.theDetectionServerIsRunning)
	sc.Step(`^the detection server is running with a limit of (\d+) requests? per minute$`, testCtx.theDetectionServerIsRunningWithLimit)
	sc.Step(`^I GET "([^"]*)"$`, testCtx.iGET)
	sc.Step(`^I POST the image "([^"]*)" to "([^"]*)"$`, testCtx.iPOSTTheImageTo)
	sc.Step(`^I upload the image "([^"]*)" as a form$`, testCtx.iUploadTheImageAsAForm)
	sc.Step(`^I POST the pixel buffer "([^"]*)" to the pixels endpoint$`, testCtx.iPOSTThePixelBuffer)
	sc.Step(`^I send the image "([^"]*)" over the WebSocket$`, testCtx.iSendTheImageOverTheWebSocket)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be set$`, testCtx.theResponseHeaderShouldBeSet)
	sc.Step(`^the response should report symbol "([^"]*)"$`, testCtx.theResponseShouldReportSymbol)
}

func (testCtx *TestContext) startServer(cfg server.Config) error {
	if testCtx.HTTPServer != nil {
		return nil
	}
	testCtx.pool = dispatch.New(2)
	testCtx.det = detector.New(engine.New(), detector.WithDispatcher(testCtx.pool))
	cfg.Pool = testCtx.pool

	s, err := server.NewServer(cfg, testCtx.det)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	testCtx.HTTPServer = httptest.NewServer(s.Router())
	return nil
}

// StopServer closes the test server and its detector.
func (testCtx *TestContext) StopServer() error {
	if testCtx.HTTPServer == nil {
		return nil
	}
	testCtx.HTTPServer.Close()
	testCtx.HTTPServer = nil

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := testCtx.pool.Shutdown(ctx)
	_ = testCtx.det.Close()
	return err
}

func (testCtx *TestContext) theDetectionServerIsRunning() error {
	return testCtx.startServer(server.Config{})
}

func (testCtx *TestContext) theDetectionServerIsRunningWithLimit(perMinute int) error {
	return testCtx.startServer(server.Config{RequestsPerMinute: perMinute})
}

func (testCtx *TestContext) do(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastHTTPHeaders = make(map[string]string)
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) serverURL(endpoint string) (string, error) {
	if testCtx.HTTPServer == nil {
		return "", fmt.Errorf("server is not running")
	}
	return testCtx.HTTPServer.URL + endpoint, nil
}

func (testCtx *TestContext) iGET(endpoint string) error {
	u, err := testCtx.serverURL(endpoint)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) iPOSTTheImageTo(name, endpoint string) error {
	u, err := testCtx.serverURL(endpoint)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(testCtx.path(name))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	return testCtx.do(req)
}

func (testCtx *TestContext) iUploadTheImageAsAForm(name string) error {
	u, err := testCtx.serverURL("/detect")
	if err != nil {
		return err
	}
	data, err := os.ReadFile(testCtx.path(name))
	if err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", name)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, u, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return testCtx.do(req)
}

func (testCtx *TestContext) iPOSTThePixelBuffer(name string) error {
	buf, ok := testCtx.Buffers[name]
	if !ok {
		return fmt.Errorf("no pixel buffer named %s", name)
	}
	q := url.Values{}
	q.Set("format", buf.Format)
	q.Set("width", strconv.Itoa(buf.Width))
	q.Set("height", strconv.Itoa(buf.Height))
	q.Set("bottom_up", strconv.FormatBool(buf.BottomUp))

	u, err := testCtx.serverURL("/detect/pixels?" + q.Encode())
	if err != nil {
		return err
	}
	data, err := os.ReadFile(buf.Path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, u, bytes.NewReader(data))
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) iSendTheImageOverTheWebSocket(name string) error {
	u, err := testCtx.serverURL("/ws")
	if err != nil {
		return err
	}
	data, err := os.ReadFile(testCtx.path(name))
	if err != nil {
		return err
	}

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(u, "http"), nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	_ = resp.Body.Close()
	defer func() { _ = conn.Close() }()

	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(server.WebSocketRequest{Type: "bytes", ID: name, Data: data}); err != nil {
		return fmt.Errorf("websocket write failed: %w", err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("websocket read failed: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(msg)
	return nil
}

func (testCtx *TestContext) theResponseStatusShouldBe(expected int) error {
	if testCtx.LastHTTPStatusCode != expected {
		return fmt.Errorf("expected status %d, got %d\nResponse: %s",
			expected, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(expected string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, expected) {
		return fmt.Errorf("response does not contain '%s'\nResponse: %s", expected, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBeSet(name string) error {
	if testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)] == "" {
		return fmt.Errorf("response header %s is not set", name)
	}
	return nil
}

// theResponseShouldReportSymbol checks the decoded texts of an HTTP or
// WebSocket detection response.
func (testCtx *TestContext) theResponseShouldReportSymbol(text string) error {
	var resp struct {
		Result *struct {
			Symbols []struct {
				Text string `json:"text"`
			} `json:"symbols"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &resp); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}
	if resp.Result == nil {
		return fmt.Errorf("response has no result: %s", testCtx.LastHTTPResponse)
	}
	for _, s := range resp.Result.Symbols {
		if s.Text == text {
			return nil
		}
	}
	return fmt.Errorf("symbol %q not reported: %s", text, testCtx.LastHTTPResponse)
}
