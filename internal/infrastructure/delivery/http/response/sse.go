package response

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// EventStream writes server-sent events.
type EventStream struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewEventStream sends the event stream headers and flushes them.
func NewEventStream(w http.ResponseWriter) (*EventStream, error) {
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")

	w.WriteHeader(http.StatusOK)

	stream := &EventStream{w: w, rc: http.NewResponseController(w)}

	if err := stream.rc.Flush(); err != nil {
		return nil, fmt.Errorf("flush headers: %w", err)
	}

	return stream, nil
}

// Send writes one event as "event: <name>\ndata: <json>\n\n" and flushes it.
func (s *EventStream) Send(name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return fmt.Errorf("write %s event: %w", name, err)
	}

	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flush %s event: %w", name, err)
	}

	return nil
}
