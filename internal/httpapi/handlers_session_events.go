package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Gurpartap/taskflow/internal/runstream"
)

// handleSessionEvents streams buffered events past ?cursor= as NDJSON and
// keeps following new ones unless ?follow=false.
func (h *handlers) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if !h.ensureRuntime(w) {
		return
	}

	sessionID, err := pathSessionID(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	if _, err := h.runtime.Get(r.Context(), sessionID); err != nil {
		writeMappedError(w, err)
		return
	}

	cursor, err := parseCursor(r)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	follow := r.URL.Query().Get("follow") != "false"

	buffered, err := h.runtime.StreamBroker.EventsAfter(sessionID, cursor)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errorCodeRuntime, "streaming is unsupported by response writer")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	encoder := json.NewEncoder(w)

	for {
		for _, streamEvent := range buffered {
			if err := encoder.Encode(streamEvent); err != nil {
				return
			}
			cursor = streamEvent.ID
		}
		flusher.Flush()
		if !follow {
			return
		}

		buffered, err = h.runtime.StreamBroker.Wait(r.Context(), sessionID, cursor)
		if err != nil {
			return
		}
	}
}

func parseCursor(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("cursor")
	if raw == "" {
		return 0, nil
	}

	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cursor < 0 {
		return 0, fmt.Errorf("%w: cursor must be a non-negative integer", runstream.ErrCursorInvalid)
	}
	return cursor, nil
}
