package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"
)

type versionResponse struct {
	Version   string `json:"version"`
	StartedAt string `json:"startedAt"`
	PID       int    `json:"pid"`
}

// Version reports the running build.
func (h *Handler) Version(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, versionResponse{
		Version:   h.deps.AppVersion,
		StartedAt: h.deps.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		PID:       os.Getpid(),
	})
}

// Health reports whether storage answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.deps.Storage != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.Storage.Ping(ctx); err != nil {
			slog.Warn("Health check failed", "error", err)
			JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Models lists the selectable model names.
func (h *Handler) Models(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.deps.Catalog.Models())
}

// Agents lists the configured agents without their prompts.
func (h *Handler) Agents(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.deps.Catalog.Agents())
}
