package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Morlock52/psscript-sub005/internal/events"
	"github.com/Morlock52/psscript-sub005/internal/types"
)

// StreamPublisher bridges the event bus to server-sent events. A subscriber
// disconnect only ends the HTTP response; the workflow keeps running
// headless and a reconnect picks up whatever the thread's buffer still
// holds.
type StreamPublisher struct {
	bus       events.Bus
	logger    *slog.Logger
	heartbeat time.Duration
}

// NewStreamPublisher creates a publisher over the bus.
func NewStreamPublisher(bus events.Bus, logger *slog.Logger) *StreamPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamPublisher{
		bus:       bus,
		logger:    logger.With("component", "stream_publisher"),
		heartbeat: 15 * time.Second,
	}
}

// Serve subscribes to the thread's stream and forwards events until the
// terminal event, the stream closing, or the client disconnecting. The
// connection is closed by the server immediately after the terminal event.
func (p *StreamPublisher) Serve(w http.ResponseWriter, r *http.Request, threadID string, workflowID types.ID) {
	flusher, ok := beginStream(w)
	if !ok {
		return
	}

	ch, cleanup := p.bus.Subscribe(threadID)
	defer cleanup()

	writeSSE(w, flusher, events.NewEvent(events.EventConnected, threadID, workflowID, map[string]any{
		"thread_id": threadID,
	}))

	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case event, open := <-ch:
			if !open {
				return
			}
			writeSSE(w, flusher, event)
			if event.Terminal() {
				return
			}

		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			// Disconnect is not cancellation.
			p.logger.Debug("stream subscriber disconnected", "thread_id", threadID)
			return
		}
	}
}

// ServeTerminal emits the already-terminal outcome for a thread and closes,
// so a reconnect after completion gets an answer instead of a hung stream.
func (p *StreamPublisher) ServeTerminal(w http.ResponseWriter, r *http.Request, event events.AnalysisEvent) {
	flusher, ok := beginStream(w)
	if !ok {
		return
	}

	writeSSE(w, flusher, events.NewEvent(events.EventConnected, event.ThreadID, event.WorkflowID, map[string]any{
		"thread_id": event.ThreadID,
	}))
	writeSSE(w, flusher, event)
}

func beginStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event events.AnalysisEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	flusher.Flush()
}
