package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/qrbridge/internal/detector"
	"github.com/MeKo-Tech/qrbridge/internal/errcode"
	"github.com/MeKo-Tech/qrbridge/internal/pixels"
	"github.com/MeKo-Tech/qrbridge/internal/results"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WebSocketRequest is one detection request frame. Data is base64 in JSON.
type WebSocketRequest struct {
	Type     string `json:"type"` // "bytes" or "pixels"
	ID       string `json:"id,omitempty"`
	Data     []byte `json:"data"`
	Format   string `json:"format,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Stride   int    `json:"stride,omitempty"`
	BottomUp bool   `json:"bottom_up,omitempty"`
}

// WebSocketResponse answers one request frame.
type WebSocketResponse struct {
	Type      string          `json:"type"` // "result" or "error"
	ID        string          `json:"id,omitempty"`
	RequestID string          `json:"request_id"`
	Success   bool            `json:"success"`
	Result    *results.Report `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorType string          `json:"error_type,omitempty"`
}

// WebSocketConnWriter is the part of a websocket connection responses are
// written to.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return s.corsOrigin == "*" || origin == "" || origin == s.corsOrigin
		},
	}
}

// websocketHandler serves detection requests over a websocket. Frames are
// handled in order; each response echoes the request's id.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	websocketConnections.Inc()
	defer websocketConnections.Dec()
	s.logger.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()
	defer wg.Wait()
	defer cancel()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket read failed", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType != websocket.TextMessage {
			s.sendWebSocketError(conn, "", "", "invalid_request", "only text frames are accepted")
			continue
		}
		s.handleWebSocketMessage(ctx, conn, data)
	}
}

// handleWebSocketMessage runs one request frame and writes its response.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, data []byte) {
	requestID := uuid.NewString()

	var req WebSocketRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", requestID, "invalid_request", fmt.Sprintf("failed to parse request: %v", err))
		return
	}

	var (
		f   *detector.Future
		err error
	)
	switch req.Type {
	case "bytes":
		f, err = s.det.DetectBytesAsync(req.Data)
	case "pixels":
		desc, derr := req.descriptor()
		if derr != nil {
			kind := errcode.InvalidArgument.String()
			detectRequestsTotal.WithLabelValues("ws_pixels", kind).Inc()
			s.sendWebSocketError(conn, req.ID, requestID, kind, derr.Error())
			return
		}
		f, err = s.det.DetectPixelsAsync(desc)
	default:
		s.sendWebSocketError(conn, req.ID, requestID, "invalid_request", "unsupported request type: "+req.Type)
		return
	}
	typ := "ws_" + req.Type
	if err != nil {
		detectRequestsTotal.WithLabelValues(typ, "rejected").Inc()
		s.sendWebSocketError(conn, req.ID, requestID, "unavailable", err.Error())
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := f.Wait(waitCtx)
	if err != nil {
		detectRequestsTotal.WithLabelValues(typ, "timeout").Inc()
		s.sendWebSocketError(conn, req.ID, requestID, "timeout", err.Error())
		return
	}
	detectRequestsTotal.WithLabelValues(typ, out.Kind.String()).Inc()

	report := out.Report()
	resp := WebSocketResponse{
		Type:      "result",
		ID:        req.ID,
		RequestID: requestID,
		Success:   out.OK(),
		Result:    &report,
	}
	if !out.OK() {
		resp.Error = out.Kind.String()
		resp.ErrorType = out.Kind.String()
	}
	s.sendWebSocketResponse(conn, resp)
}

// descriptor builds the pixel descriptor for a "pixels" frame, flipping
// bottom-up buffers.
func (req WebSocketRequest) descriptor() (pixels.Descriptor, error) {
	format, err := pixels.ParseFormat(req.Format)
	if err != nil {
		return pixels.Descriptor{}, err
	}
	desc := pixels.Descriptor{
		Data:   req.Data,
		Format: format,
		Width:  req.Width,
		Height: req.Height,
		Stride: req.Stride,
	}
	if req.BottomUp {
		if err := desc.FlipRows(); err != nil {
			return pixels.Descriptor{}, err
		}
	}
	return desc, nil
}

// sendWebSocketResponse sends a response over the websocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		s.logger.Error("Failed to marshal WebSocket response", "error", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Warn("Failed to send WebSocket message", "error", err)
		return
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error frame.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, id, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketResponse{
		Type:      "error",
		ID:        id,
		RequestID: requestID,
		Error:     message,
		ErrorType: errorType,
	})
}
