package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Tutortoise/object-detection-service/detections"
	"github.com/Tutortoise/object-detection-service/models"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Processor turns uploaded image bytes into a detection result.
type Processor interface {
	ProcessTimed(ctx context.Context, data []byte, timings *models.ProcessingTimings) (*models.DetectionResult, error)
}

type AppState struct {
	Processor      Processor
	Stats          func() detections.PoolStats
	MaxUploadBytes int64
	Log            logrus.FieldLogger
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func newRouter(state *AppState) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", handleHelp).Methods("GET")
	r.HandleFunc("/image", handleImage(state)).Methods("POST")
	r.HandleFunc("/health", handleHealth).Methods("GET")
	state.addMonitoringRoutes(r)

	// Unknown paths and wrong methods on known paths get the same answer.
	r.NotFoundHandler = http.HandlerFunc(http.NotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(http.NotFound)

	r.Use(state.recoverPanics, state.logRequests)
	return r
}

func handleHelp(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, MsgHelp)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleImage(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTotal := time.Now()
		requestID := requestIDOf(r)
		timings := &models.ProcessingTimings{RequestID: requestID}
		log := state.Log.WithField("request_id", requestID)

		imgBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, state.MaxUploadBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				sendErrorResponse(w, "too_large", fmt.Sprintf("image exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
				return
			}
			sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}

		result, err := state.Processor.ProcessTimed(r.Context(), imgBytes, timings)
		if err != nil {
			status, code := classifyError(err)
			log.WithError(err).WithField("status", status).Warn("image processing failed")
			sendErrorResponse(w, code, err.Error(), status)
			return
		}

		timings.Total = time.Since(startTotal)
		logTimings(log, timings)

		sendJSON(w, http.StatusOK, result)
	}
}

// classifyError maps processing failures onto HTTP statuses: bad input is the
// client's fault, an exhausted pool is temporary, anything else is ours.
func classifyError(err error) (int, string) {
	var decodeErr *detections.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		return http.StatusBadRequest, "invalid_image"
	case errors.Is(err, detections.ErrPoolTimeout),
		errors.Is(err, detections.ErrPoolClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "session_error"
	default:
		return http.StatusInternalServerError, "processing_error"
	}
}

func (s *AppState) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.Stats == nil {
		sendJSON(w, http.StatusOK, detections.PoolStats{})
		return
	}
	sendJSON(w, http.StatusOK, s.Stats())
}

type contextKey int

const requestIDKey contextKey = 0

func requestIDFrom(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// requestIDOf returns the id assigned by logRequests, or a fresh one when the
// handler runs without the middleware.
func requestIDOf(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return requestIDFrom(r)
}

func logTimings(log logrus.FieldLogger, t *models.ProcessingTimings) {
	log.WithFields(logrus.Fields{
		"decode":      t.ImageDecode,
		"resize":      t.Resize,
		"preprocess":  t.Preprocess,
		"inference":   t.Inference,
		"postprocess": t.Postprocess,
		"total":       t.Total,
	}).Debug("processing times")
}

func sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	sendJSON(w, status, ErrorResponse{Error: message, Code: code})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *AppState) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := requestIDFrom(r)
		w.Header().Set("X-Request-ID", requestID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, requestID))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.Log.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   time.Since(start),
		}).Info("request")
	})
}

// recoverPanics keeps a panic in one request from taking down the listener.
func (s *AppState) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				s.Log.WithField("panic", v).Error("request handler panicked")
				sendErrorResponse(w, "internal_error", "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// serve runs the HTTP server until ctx is cancelled, then drains in-flight
// requests.
func serve(ctx context.Context, srv *http.Server, log logrus.FieldLogger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting server on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
