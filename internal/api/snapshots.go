package api

import (
	"net/http"
	"strconv"

	"airmap/pkg/store"
)

const (
	defaultSnapshotLimit = 50
	maxSnapshotLimit     = 500
)

// SnapshotHandler serves recorded state snapshots, newest first.
type SnapshotHandler struct {
	store store.SnapshotStore
}

func NewSnapshotHandler(s store.SnapshotStore) *SnapshotHandler {
	return &SnapshotHandler{store: s}
}

func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	limit := defaultSnapshotLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSnapshotLimit)
	}

	snaps, err := h.store.RecentSnapshots(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}
