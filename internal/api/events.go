package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	heartbeatInterval = 30 * time.Second
	maxPushPayload    = 64 * 1024
)

func contextWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// EventsHandler opens a long-lived SSE stream. The session is
// registered with the transport broker before the first byte is
// written, so a push from any replica reaches this connection from the
// moment the client sees it.
// GET /events
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sub, err := s.sessions.Register(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to register live session", "session_id", sessionID, "error", err)
		http.Error(w, "failed to open session", http.StatusServiceUnavailable)
		return
	}
	defer func() {
		// Close first: that stops the registration refresh, so the
		// deregistration cannot be raced and re-written by a refresh
		// tick. The fresh context matters because the request context
		// is already done when the client hangs up.
		sub.Close()
		ctx, cancel := contextWithTimeout()
		defer cancel()
		if err := s.sessions.Deregister(ctx, sessionID); err != nil {
			slog.Warn("Failed to deregister live session", "session_id", sessionID, "error", err)
		}
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Tell the client its session ID so other parties can push to it.
	fmt.Fprintf(w, "event: session\ndata: %s\n\n", sessionID)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case msg, open := <-sub.Messages():
			if !open {
				return
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-heartbeat.C:
			// Comment frame keeps intermediaries from timing out the
			// idle connection.
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// PushHandler publishes a payload to a session from any replica. The
// broker delivers it to whichever replica owns the live connection;
// delivery is not guaranteed if the session has gone away.
// POST /sessions/{sessionId}/push
func (s *Server) PushHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId required", http.StatusBadRequest)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPushPayload+1))
	if err != nil {
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}
	if len(payload) > maxPushPayload {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(payload) == 0 {
		http.Error(w, "payload required", http.StatusBadRequest)
		return
	}

	if err := s.sessions.Publish(r.Context(), sessionID, payload); err != nil {
		slog.Error("Failed to publish session message", "session_id", sessionID, "error", err)
		http.Error(w, "failed to publish", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

// SessionOwnerHandler reports which replica holds a session's live
// connection.
// GET /sessions/{sessionId}
func (s *Server) SessionOwnerHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId required", http.StatusBadRequest)
		return
	}

	owner, err := s.sessions.Owner(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "failed to look up session", http.StatusServiceUnavailable)
		return
	}
	if owner == "" {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"session_id": sessionID,
		"replica_id": owner,
	})
}
