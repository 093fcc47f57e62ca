package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"time"

	"solusiemas/api/internal/auth"
	"solusiemas/api/internal/pricedoc"
	"solusiemas/api/internal/publish"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

var (
	readPaths  = []string{"/api/get-price", "/.netlify/functions/get-price", "/api/price"}
	writePaths = []string{"/api/update-price", "/.netlify/functions/update-price"}
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if isRead(r.Method) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if isRead(r.Method) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks, ready := s.service.Ready(ctx)
		status, statusCode := "ready", http.StatusOK
		if !ready {
			status, statusCode = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":        ready,
			"status":    status,
			"writeMode": s.service.WriteMode(),
			"checks":    checks,
		})
		return
	}

	if slices.Contains(readPaths, r.URL.Path) {
		if !isRead(r.Method) {
			methodNotAllowed(w, http.MethodGet, http.MethodHead)
			return
		}
		s.handleGetPrice(w, r)
		return
	}

	if slices.Contains(writePaths, r.URL.Path) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.handleUpdatePrice(w, r)
		return
	}

	if r.URL.Path == "/api/prices/table" {
		if !isRead(r.Method) {
			methodNotAllowed(w, http.MethodGet, http.MethodHead)
			return
		}
		table, err := s.service.PriceTable(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, table)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	raw, err := s.service.CurrentPrice(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *HTTPServer) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	if !s.service.Authorize(r.Header.Get(auth.AdminKeyHeader)) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized - admin key required", nil)
		return
	}

	doc, err := decodePriceBody(w, r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	result, err := s.service.UpdatePrice(r.Context(), doc)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	response := map[string]any{
		"ok":          true,
		"mode":        result.Mode,
		"lastUpdated": result.Document.LastUpdated,
	}
	if result.Mode == publish.ModeRemote {
		response["commit"] = result.Commit
		response["created"] = result.Created
	} else {
		response["note"] = "written to local " + result.Path + " (dev mode)"
	}
	writeJSON(w, http.StatusOK, response)
}

// decodePriceBody reads a submitted document. An absent body counts as an
// empty object, which then lacks prices.
func decodePriceBody(w http.ResponseWriter, r *http.Request) (pricedoc.Document, error) {
	var raw []byte
	if r.Body != nil {
		defer r.Body.Close()
		var err error
		raw, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return pricedoc.Document{}, wrapDomainError(err, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "Request body too large", nil)
			}
			return pricedoc.Document{}, wrapDomainError(err, http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", nil)
		}
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if !json.Valid(raw) {
		return pricedoc.Document{}, domainError(http.StatusBadRequest, "INVALID_BODY", "Invalid JSON body", nil)
	}
	doc, err := pricedoc.Validate(raw)
	if err != nil {
		return pricedoc.Document{}, wrapDomainError(err, http.StatusBadRequest, "MISSING_PRICES", "Missing prices object", nil)
	}
	return doc, nil
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError || status == http.StatusConflict {
		s.logger.Warn("request failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("code", code),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Duration("duration", time.Since(started)),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Key, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["detail"] = details
	}
	writeJSON(w, status, response)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, method := range allowed {
		w.Header().Add("Allow", method)
	}
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}
