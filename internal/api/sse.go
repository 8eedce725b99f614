package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/soochol/nodeflow/internal/engine"
	"github.com/soochol/nodeflow/internal/nodeflow"
	"github.com/soochol/nodeflow/internal/nodeflow/ports"
)

func startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return flusher, true
}

// writeSSE writes one frame. A negative id omits the id line.
func writeSSE(w io.Writer, id int, ev nodeflow.Event) {
	data, _ := json.Marshal(ev)
	if id >= 0 {
		fmt.Fprintf(w, "id: %d\n", id)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}

// finalEvent describes where exec stands, for streams whose terminal event
// was dropped or has been garbage collected.
func finalEvent(exec *nodeflow.Execution) nodeflow.Event {
	ev := nodeflow.Event{ExecutionID: exec.ID, Time: time.Now().UTC()}
	switch exec.Status {
	case nodeflow.StatusCompleted:
		ev.Type = nodeflow.EventComplete
		ev.Payload = map[string]any{"execution": exec}
	case nodeflow.StatusPaused:
		ev.Type = nodeflow.EventPaused
		ev.NodeID = exec.CurrentNodeID
		ev.Payload = map[string]any{"node_id": exec.CurrentNodeID}
	case nodeflow.StatusFailed:
		ev.Type = nodeflow.EventError
		ev.Payload = map[string]any{"error": exec.Error}
	default:
		ev.Type = nodeflow.EventNodeUpdate
		ev.Payload = map[string]any{"status": exec.Status}
	}
	return ev
}

// streamInvocation runs invoke on its own goroutine and relays its progress
// as SSE until the invocation returns. The run is not abandoned when the
// client disconnects.
func (s *Server) streamInvocation(w http.ResponseWriter, r *http.Request, invoke func(ports.ProgressSink) (*nodeflow.Execution, error)) {
	type outcome struct {
		exec *nodeflow.Execution
		err  error
	}
	em := engine.NewEmitter(s.eventBuffer)
	done := make(chan outcome, 1)
	go func() {
		exec, err := invoke(em)
		em.Close()
		done <- outcome{exec, err}
	}()

	flusher, ok := startSSE(w)
	if !ok {
		return
	}
	sawTerminal := false
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-em.Events():
			if !open {
				out := <-done
				switch {
				case out.err != nil && !sawTerminal:
					writeSSE(w, -1, nodeflow.Event{
						Type:    nodeflow.EventError,
						Payload: map[string]any{"error": out.err.Error(), "status": statusFor(out.err)},
						Time:    time.Now().UTC(),
					})
				case out.exec != nil && !sawTerminal:
					writeSSE(w, -1, finalEvent(out.exec))
				}
				if n := em.Dropped(); n > 0 {
					s.logger.Warn("progress events dropped", "count", n)
				}
				flusher.Flush()
				return
			}
			sawTerminal = sawTerminal || ev.Terminal()
			writeSSE(w, ev.Seq, ev)
			flusher.Flush()
		}
	}
}

// wantsStream reports whether the caller asked for SSE, explicitly or via
// the Accept header.
func wantsStream(r *http.Request, explicit *bool) bool {
	if explicit != nil {
		return *explicit
	}
	return r.Header.Get("Accept") == "text/event-stream"
}
