package mockserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/tripsync/internal/domain"
	"github.com/ashureev/tripsync/internal/identity"
)

func lastEventID(r *http.Request) int64 {
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader == "" {
		return 0
	}
	parsed, err := strconv.ParseInt(idHeader, 10, 64)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}

// handleStream serves agent progress for one key as server-sent events. A
// Last-Event-ID header replays queued events after that id.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	key := chi.URLParam(r, "key")
	if !s.streamAllowed(key, userID) {
		Error(w, http.StatusForbidden, "permission_denied", "You do not have access to this stream")
		return
	}
	after := lastEventID(r)

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "", "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	live, unsubscribe := s.events.subscribe(key)
	defer unsubscribe()

	connected, _ := json.Marshal(map[string]any{"status": "connected", "key": key})
	if err := writeSSE(w, domain.FrameConnected, string(connected)); err != nil {
		s.logger.Warn("failed to write SSE connected event", "error", err, "key", key)
		return
	}

	sent := after
	for _, ev := range s.events.missed(key, after) {
		if err := writeEvent(w, ev); err != nil {
			return
		}
		sent = ev.Seq
	}
	flusher.Flush()
	s.logger.Info("Agent stream connected", "key", key, "user_id", userID, "reconnect", after > 0)

	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("Agent stream disconnected", "key", key)
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if ev.Seq <= sent {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				s.logger.Warn("failed to write SSE event", "error", err, "key", key)
				return
			}
			sent = ev.Seq
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, domain.FramePing, `{"status":"alive"}`); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, ev loggedEvent) error {
	data, err := json.Marshal(ev.Frame)
	if err != nil {
		return err
	}
	return writeSSEWithID(w, ev.Seq, ev.Frame.EventType, string(data))
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	s.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

// handleWS serves the same progress feed over a websocket as JSON frames.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	key := chi.URLParam(r, "key")
	if !s.streamAllowed(key, userID) {
		Error(w, http.StatusForbidden, "permission_denied", "You do not have access to this stream")
		return
	}
	if !s.checkOrigin(r) {
		Error(w, http.StatusForbidden, "", "origin not allowed")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Error("Failed to accept WebSocket", "error", err, "key", key)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			s.logger.Debug("Failed to close websocket", "error", closeErr, "key", key)
		}
	}()

	live, unsubscribe := s.events.subscribe(key)
	defer unsubscribe()

	ctx := ws.CloseRead(r.Context())
	if err := writeWS(ctx, ws, progressFrame{EventType: domain.FrameConnected}); err != nil {
		return
	}
	after := lastEventID(r)
	sent := after
	for _, ev := range s.events.missed(key, after) {
		if err := writeWS(ctx, ws, ev.Frame); err != nil {
			return
		}
		sent = ev.Seq
	}

	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if ev.Seq <= sent {
				continue
			}
			if err := writeWS(ctx, ws, ev.Frame); err != nil {
				s.logger.Debug("failed to write websocket frame", "error", err, "key", key)
				return
			}
			sent = ev.Seq
		case <-keepalive.C:
			if err := writeWS(ctx, ws, progressFrame{EventType: domain.FramePing}); err != nil {
				return
			}
		}
	}
}

func writeWS(ctx context.Context, ws *websocket.Conn, f progressFrame) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, ws, f)
}
