package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/qrbridge/internal/detector"
	"github.com/MeKo-Tech/qrbridge/internal/errcode"
	"github.com/MeKo-Tech/qrbridge/internal/pixels"
	"github.com/MeKo-Tech/qrbridge/internal/results"
	"github.com/MeKo-Tech/qrbridge/internal/version"
)

// healthHandler handles health check requests.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().Format(time.RFC3339),
	}
	if s.pool != nil {
		stats := s.pool.Stats()
		response.Dispatcher = &stats
	}
	s.writeJSON(w, http.StatusOK, response)
}

// detectHandler detects symbols in an encoded image sent either as the
// multipart field "image" or as the raw request body.
func (s *Server) detectHandler(w http.ResponseWriter, r *http.Request) {
	data, err := s.readPayload(w, r)
	if err != nil {
		s.writePayloadError(w, r, "bytes", err)
		return
	}
	uploadSizeBytes.Observe(float64(len(data)))

	f, err := s.det.DetectBytesAsync(data)
	if err != nil {
		s.writeSubmitError(w, r, "bytes", err)
		return
	}
	s.awaitOutcome(w, r, "bytes", f)
}

// detectPixelsHandler detects symbols in a raw pixel buffer. The layout is
// described by the query string.
func (s *Server) detectPixelsHandler(w http.ResponseWriter, r *http.Request) {
	desc, bottomUp, err := parsePixelQuery(r.URL.Query())
	if err != nil {
		detectRequestsTotal.WithLabelValues("pixels", errcode.InvalidArgument.String()).Inc()
		s.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB<<20)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writePayloadError(w, r, "pixels", err)
		return
	}
	uploadSizeBytes.Observe(float64(len(data)))
	desc.Data = data

	if bottomUp {
		if err := desc.FlipRows(); err != nil {
			detectRequestsTotal.WithLabelValues("pixels", errcode.InvalidArgument.String()).Inc()
			s.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
			return
		}
	}

	f, err := s.det.DetectPixelsAsync(desc)
	if err != nil {
		s.writeSubmitError(w, r, "pixels", err)
		return
	}
	s.awaitOutcome(w, r, "pixels", f)
}

// readPayload reads the upload, bounded by the configured size.
func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadMB<<20)

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return io.ReadAll(r.Body)
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("failed to parse multipart form: %w", err)
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("missing image field: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()
	return io.ReadAll(file)
}

// parsePixelQuery reads format, width, height, stride and bottom_up.
func parsePixelQuery(q url.Values) (pixels.Descriptor, bool, error) {
	var desc pixels.Descriptor

	format, err := pixels.ParseFormat(q.Get("format"))
	if err != nil {
		return desc, false, err
	}
	desc.Format = format

	ints := []struct {
		name     string
		dst      *int
		required bool
	}{
		{"width", &desc.Width, true},
		{"height", &desc.Height, true},
		{"stride", &desc.Stride, false},
	}
	for _, p := range ints {
		v := q.Get(p.name)
		if v == "" {
			if p.required {
				return desc, false, fmt.Errorf("missing %s parameter", p.name)
			}
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return desc, false, fmt.Errorf("invalid %s parameter: %q", p.name, v)
		}
		*p.dst = n
	}

	var bottomUp bool
	if v := q.Get("bottom_up"); v != "" {
		bottomUp, err = strconv.ParseBool(v)
		if err != nil {
			return desc, false, fmt.Errorf("invalid bottom_up parameter: %q", v)
		}
	}
	return desc, bottomUp, nil
}

// awaitOutcome waits for f within the request timeout. A client that goes
// away cancels the detection if it has not started yet.
func (s *Server) awaitOutcome(w http.ResponseWriter, r *http.Request, typ string, f *detector.Future) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	var out results.Outcome
	err := ctx.Err()
	if err != nil {
		f.Cancel()
	} else {
		out, err = f.Wait(ctx)
	}
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			detectRequestsTotal.WithLabelValues(typ, "timeout").Inc()
			s.writeErrorResponse(w, r, http.StatusGatewayTimeout, "detection timed out")
		case errors.Is(err, context.Canceled):
			detectRequestsTotal.WithLabelValues(typ, "cancelled").Inc()
			s.logger.Info("Client went away before detection finished",
				"request_id", RequestID(r.Context()))
		default:
			detectRequestsTotal.WithLabelValues(typ, "rejected").Inc()
			s.writeErrorResponse(w, r, http.StatusServiceUnavailable, err.Error())
		}
		return
	}

	detectRequestsTotal.WithLabelValues(typ, out.Kind.String()).Inc()
	s.writeOutcome(w, r, out)
}

// writeOutcome writes a detection outcome with the status for its kind.
func (s *Server) writeOutcome(w http.ResponseWriter, r *http.Request, out results.Outcome) {
	report := out.Report()
	resp := DetectResponse{
		Success:   out.OK(),
		RequestID: RequestID(r.Context()),
		Result:    &report,
	}
	if !out.OK() {
		resp.Error = out.Kind.String()
	}
	s.writeJSON(w, statusForKind(out.Kind), resp)
}

// statusForKind maps a detection kind to an HTTP status.
func statusForKind(k errcode.Kind) int {
	switch k {
	case errcode.Ok:
		return http.StatusOK
	case errcode.InvalidArgument:
		return http.StatusBadRequest
	case errcode.DecodeFailed:
		return http.StatusUnprocessableEntity
	case errcode.InvalidHandle, errcode.OutOfMemory:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writePayloadError(w http.ResponseWriter, r *http.Request, typ string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		detectRequestsTotal.WithLabelValues(typ, "too_large").Inc()
		s.writeErrorResponse(w, r, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("payload exceeds %d MB", s.maxUploadMB))
		return
	}
	detectRequestsTotal.WithLabelValues(typ, errcode.InvalidArgument.String()).Inc()
	s.writeErrorResponse(w, r, http.StatusBadRequest, err.Error())
}

func (s *Server) writeSubmitError(w http.ResponseWriter, r *http.Request, typ string, err error) {
	detectRequestsTotal.WithLabelValues(typ, "rejected").Inc()
	s.logger.Warn("Failed to submit detection", "error", err, "request_id", RequestID(r.Context()))
	s.writeErrorResponse(w, r, http.StatusServiceUnavailable, err.Error())
}

// writeErrorResponse writes an error response in JSON format.
func (s *Server) writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	s.writeJSON(w, statusCode, DetectResponse{
		Success:   false,
		RequestID: RequestID(r.Context()),
		Error:     message,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
