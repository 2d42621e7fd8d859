package entity

// EventType names a streamed download event.
type EventType string

// Streamed download event types.
const (
	EventStart    EventType = "start"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one message of a streamed download.
// A stream carries one start event, zero or more progress events
// and exactly one complete or error event, in that order.
type Event struct {
	Type    EventType `json:"-"`
	Message string    `json:"message,omitempty"`

	Percent float64 `json:"percent,omitempty"`
	Raw     string  `json:"raw,omitempty"`

	Success   *bool  `json:"success,omitempty"`
	FilePath  string `json:"filePath,omitempty"`
	FileName  string `json:"fileName,omitempty"`
	FileSize  int64  `json:"fileSize,omitempty"`
	OutputDir string `json:"outputDir,omitempty"`
}

// IsTerminal reports whether the event ends the stream.
func (e Event) IsTerminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}
