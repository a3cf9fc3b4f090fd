package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// sseKeepAlive is how often an idle tail stream sends a comment line so
// proxies keep the connection open.
const sseKeepAlive = 15 * time.Second

// TailJob handles GET /v1/jobs/current/tail as a server-sent event stream.
// Each chunk is one "chunk" event whose data is the chunk as JSON. The
// stream ends with an "end" event once the job settles, or immediately when
// no job is running.
func (h *Handler) TailJob(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// Subscribe before the headers go out so a client holding the response
	// sees every chunk written after that.
	chunks := h.jobs.Tail(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.Warn("Tail stream cannot flush", "error", err)
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				snap := h.jobs.Current()
				writeEvent(w, "end", snap)
				_ = rc.Flush()
				return
			}
			writeEvent(w, "chunk", chunk)
			_ = rc.Flush()
		case <-keepAlive.C:
			_, _ = fmt.Fprint(w, ": keep-alive\n\n")
			_ = rc.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		slog.Error("Failed to encode stream event", "event", event, "error", err)
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
}
