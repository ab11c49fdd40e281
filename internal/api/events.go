package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/z-dmr/zdmr/internal/progress"
)

// envelope is the {"type":..., "data":...} shape spec.md §6 requires on
// the SSE stream.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func toEnvelope(ev any) envelope {
	switch v := ev.(type) {
	case progress.ProgressBatch:
		return envelope{Type: "ProgressBatch", Data: v.Updates}
	case progress.DownloadsChanged:
		return envelope{Type: "DownloadsChanged", Data: v.Download}
	default:
		return envelope{Type: "Unknown", Data: v}
	}
}

// handleEventsSSE streams `data: {...}\n\n` lines, one per bus event, per
// spec.md §6's GET /events.
func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-sub:
			b, err := json.Marshal(toEnvelope(ev))
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}
	}
}
