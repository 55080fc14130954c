package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"toolgate/internal/models"
)

type contextKey string

const installationKey contextKey = "installation"

// InstallationFromContext returns the installation attached by the
// bearer middleware, if any.
func InstallationFromContext(ctx context.Context) (*models.Installation, bool) {
	inst, ok := ctx.Value(installationKey).(*models.Installation)
	return inst, ok
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush passes through so SSE handlers keep working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// BearerMiddleware verifies the presented access token and attaches the
// installation to the request context. Store failures are surfaced as
// 503, never as an authenticated request.
func (s *Server) BearerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeOAuthError(w, http.StatusUnauthorized, "invalid_token", "missing bearer token")
			return
		}

		inst, err := s.broker.Verify(r.Context(), token)
		if err != nil {
			status, code, desc := mapBrokerError(err)
			if code == "invalid_token" {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			}
			writeOAuthError(w, status, code, desc)
			return
		}

		ctx := context.WithValue(r.Context(), installationKey, inst)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}
