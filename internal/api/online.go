package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Hjgyhfyh/site/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type countEvent struct {
	Count int `json:"count"`
}

func writeCount(w io.Writer, count int) error {
	_, err := fmt.Fprintf(w, "data: {\"count\":%d}\n\n", count)
	return err
}

// OnlineCount streams the number of online users as server-sent events.
// Only the admin account may subscribe.
func (h *Handler) OnlineCount(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.UserFromContext(r.Context())
	if !h.isAdmin(user) {
		Error(w, http.StatusForbidden, "Forbidden")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	counts, cancel := h.deps.Presence.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	slog.Info("Online count stream opened", "user_id", user.ID)
	defer slog.Info("Online count stream closed", "user_id", user.ID)

	keepalive := time.NewTicker(h.deps.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case count := <-counts:
			if err := writeCount(w, count); err != nil {
				slog.Debug("Failed to write online count", "error", err, "user_id", user.ID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// OnlineCountWS serves the same count stream over a websocket.
func (h *Handler) OnlineCountWS(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.UserFromContext(r.Context())
	if !h.isAdmin(user) {
		Error(w, http.StatusForbidden, "Forbidden")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(h.deps.AllowedOrigins),
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", user.ID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", user.ID)
		}
	}()

	// the client never sends; CloseRead handles control frames and
	// cancels ctx once the peer goes away
	ctx := ws.CloseRead(r.Context())

	counts, cancel := h.deps.Presence.Subscribe()
	defer cancel()

	keepalive := time.NewTicker(h.deps.Keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case count := <-counts:
			if err := h.writeWS(ctx, ws, countEvent{Count: count}); err != nil {
				slog.Debug("Failed to write online count", "error", err, "user_id", user.ID)
				return
			}
		case <-keepalive.C:
			pingCtx, cancelPing := context.WithTimeout(ctx, h.deps.Keepalive)
			err := ws.Ping(pingCtx)
			cancelPing()
			if err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeWS(ctx context.Context, ws *websocket.Conn, v any) error {
	writeCtx, cancel := context.WithTimeout(ctx, h.deps.Keepalive)
	defer cancel()
	return wsjson.Write(writeCtx, ws, v)
}
