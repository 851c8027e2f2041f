package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kwv/meshicp/mesh"
)

// maxRequestBytes bounds POST bodies
const maxRequestBytes = 64 << 20

// errorResponse is the JSON body of every non-2xx reply.
// Result carries the partial run when the solver gave up.
type errorResponse struct {
	Error  string                `json:"error"`
	Result *mesh.AlignmentResult `json:"result,omitempty"`
}

// newHTTPServer creates the HTTP handler for the registration service
func newHTTPServer(app *App) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status    string    `json:"status"`
			Version   string    `json:"version"`
			Timestamp time.Time `json:"timestamp"`
			MQTT      bool      `json:"mqtt"`
		}{
			Status:    "ok",
			Version:   Version,
			Timestamp: time.Now(),
			MQTT:      app.MQTTClient != nil && app.MQTTClient.IsConnected(),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			app.Logger.Warn("encoding health status", zap.Error(err))
		}
	})

	// Registration endpoint
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRegistrationRequest(w, r)
		if !ok {
			return
		}
		result, ok := runRegistration(app, w, r, req)
		if !ok {
			return
		}
		app.storeResult(req.Name, *result)
		app.publishResult(req.Name, *result)

		writeJSON(w, http.StatusOK, result)
	})

	// Preview endpoints render the same request as an image
	preview := func(png bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			req, ok := decodeRegistrationRequest(w, r)
			if !ok {
				return
			}
			result, ok := runRegistration(app, w, r, req)
			if !ok {
				return
			}

			renderer := mesh.NewPreviewRenderer(req.Source, req.Target, result.Transform)
			renderer.Caption = mesh.PreviewCaption(*result)

			var buf bytes.Buffer
			var err error
			if png {
				w.Header().Set("Content-Type", "image/png")
				err = renderer.RenderToPNG(&buf)
			} else {
				w.Header().Set("Content-Type", "image/svg+xml")
				err = renderer.RenderToSVG(&buf)
			}
			if err != nil {
				app.Logger.Error("rendering preview", zap.Error(err))
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "rendering failed"})
				return
			}
			w.Header().Set("Cache-Control", "no-cache")
			if _, err := w.Write(buf.Bytes()); err != nil {
				app.Logger.Debug("writing preview", zap.Error(err))
			}
		}
	}
	mux.HandleFunc("/preview.svg", preview(false))
	mux.HandleFunc("/preview.png", preview(true))

	mux.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintf(w, "meshicp %s\n\nGET  /health\nPOST /register\nPOST /preview.svg\nPOST /preview.png\nGET  /metrics\n", Version)
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.Logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr))
		mux.ServeHTTP(w, r)
	})
}

// decodeRegistrationRequest reads and validates a POSTed request.
// It writes the error reply itself and reports whether the caller should continue.
func decodeRegistrationRequest(w http.ResponseWriter, r *http.Request) (mesh.RegistrationRequest, bool) {
	var req mesh.RegistrationRequest
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return req, false
	}

	body := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("decoding request: %v", err)})
		return req, false
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return req, false
	}
	if req.Name == "" {
		req.Name = "default"
	}
	return req, true
}

// runRegistration aligns req and maps failures to status codes:
// bad input 400, solver failure 422, anything else 500
func runRegistration(app *App, w http.ResponseWriter, r *http.Request, req mesh.RegistrationRequest) (*mesh.AlignmentResult, bool) {
	result, err := app.align(r.Context(), req, nil)
	if err == nil {
		return result, true
	}

	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		app.Logger.Error("registration failed", zap.String("name", req.Name), zap.Error(err))
	} else {
		app.Logger.Info("registration rejected", zap.String("name", req.Name), zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Result: result})
	return nil, false
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, mesh.ErrDegenerateCorrespondence), errors.Is(err, mesh.ErrEigenDecompositionFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, mesh.ErrInvalidInputShape), errors.Is(err, mesh.ErrInvalidConfig),
		errors.Is(err, mesh.ErrUnknownStrategy), errors.Is(err, mesh.ErrUnknownIndex):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
