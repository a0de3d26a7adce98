package handlers

import (
	"net/http"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"leakwatch/internal/logger"
	"leakwatch/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultLimit is the number of entries returned without ?n=.
	DefaultLimit = 20
	// MaxLimit caps ?n= so one request cannot load the whole log.
	MaxLimit = 1000
)

// Tailer reads the most recent log entries, oldest first.
type Tailer interface {
	Tail(n int) ([]models.Snapshot, error)
}

// SnapshotsHandler serves the most recent log entries read-only
type SnapshotsHandler struct {
	log Tailer
}

// NewSnapshotsHandler creates a new snapshots handler
func NewSnapshotsHandler(log Tailer) *SnapshotsHandler {
	return &SnapshotsHandler{log: log}
}

// SnapshotsResponse is the response returned to clients
type SnapshotsResponse struct {
	Count     int               `json:"count"`
	Snapshots []models.Snapshot `json:"snapshots"`
}

// ServeHTTP handles GET /snapshots?n=N
func (h *SnapshotsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	n := DefaultLimit
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = min(v, MaxLimit)
	}

	snaps, err := h.log.Tail(n)
	if err != nil {
		log := logger.WithComponent("http")
		log.Error().Err(err).Int("n", n).Msg("failed to read log")
		writeError(w, http.StatusInternalServerError, "failed to read log")
		return
	}
	if snaps == nil {
		snaps = []models.Snapshot{}
	}

	writeJSON(w, http.StatusOK, SnapshotsResponse{Count: len(snaps), Snapshots: snaps})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
