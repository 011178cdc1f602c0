package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"multisvg/workflow"
)

const eventBuffer = 32

// events streams the session's workflow events as server-sent events until
// the client goes away or the session is closed.
func (s *Server) events(w http.ResponseWriter, r *http.Request) *Response {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return jsonError(http.StatusInternalServerError, "streaming unsupported", nil)
	}

	sess := s.sessions.Get(w, r)
	defer s.sessions.Stream(sess)()

	ch := make(chan workflow.Event, eventBuffer)
	unsubscribe := sess.ctrl.Subscribe(func(ev workflow.Event) {
		// Slow readers lose ticks; the next event carries the full snapshot.
		select {
		case ch <- ev:
		default:
		}
	})
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "snapshot", sess.ctrl.Snapshot()); err != nil {
		return nil
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return nil
		case ev := <-ch:
			if err := writeEvent(w, ev.Kind.String(), ev.Snapshot); err != nil {
				return nil
			}
			flusher.Flush()
			if ev.Kind == workflow.EventClosed {
				return nil
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, snap workflow.Snapshot) error {
	data, err := json.Marshal(newStatusView(snap))
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
