package stream

import (
	"encoding/json"
	"fmt"

	"github.com/okjin/crawlwatch/internal/task"
)

type EventKind string

const (
	EventConnected EventKind = "connected"
	EventStatus    EventKind = "status"
	EventProgress  EventKind = "progress"
	EventToolCall  EventKind = "tool_call"
	EventPartial   EventKind = "partial"
	EventFinal     EventKind = "final"
	EventComplete  EventKind = "complete"
	EventError     EventKind = "error"
)

// Event is one decoded frame from the push channel. Fields are populated
// per kind; pointer fields distinguish "absent" from zero.
type Event struct {
	Kind        EventKind
	Message     string
	Current     int
	Total       int
	Success     *int
	Failed      *int
	URL         string
	ToolName    string
	TotalURLs   *int
	JSONFile    string
	FailedItems []task.FailedItem
}

// Terminal reports whether the event carries a terminal signal.
func (e Event) Terminal() bool {
	return e.Kind == EventFinal || e.Kind == EventComplete || e.Kind == EventError
}

// payload is the closed wire shape shared by all event kinds. The backend
// tags unnamed frames with a "type" field instead of an SSE event name;
// both forms decode through here.
type payload struct {
	Type        string            `json:"type"`
	Message     string            `json:"message"`
	Current     int               `json:"current"`
	Total       int               `json:"total"`
	Success     *int              `json:"success"`
	Failed      *int              `json:"failed"`
	URL         string            `json:"url"`
	ToolName    string            `json:"tool_name"`
	TotalURLs   *int              `json:"total_urls"`
	JSONFile    string            `json:"json_file"`
	FailedItems []task.FailedItem `json:"failed_items"`

	// Some frames nest the payload under "data" with the tag outside.
	Data json.RawMessage `json:"data"`
}

var knownKinds = map[EventKind]bool{
	EventConnected: true,
	EventStatus:    true,
	EventProgress:  true,
	EventToolCall:  true,
	EventPartial:   true,
	EventFinal:     true,
	EventComplete:  true,
	EventError:     true,
}

// parseEvent decodes one frame. name is the SSE event name, which may be
// empty for unnamed message frames carrying their own "type" tag.
// Unknown kinds return ok=false and are skipped, not fatal.
func parseEvent(name string, data []byte) (Event, bool, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Event{}, false, fmt.Errorf("decode event frame: %w", err)
	}

	kind := EventKind(name)
	if kind == "" {
		kind = EventKind(p.Type)
	}
	if !knownKinds[kind] {
		return Event{}, false, nil
	}

	// Unwrap the nested form {"type": ..., "data": {...}}.
	if len(p.Data) > 0 {
		inner := p.Data
		p = payload{}
		if err := json.Unmarshal(inner, &p); err != nil {
			return Event{}, false, fmt.Errorf("decode event data: %w", err)
		}
	}

	return Event{
		Kind:        kind,
		Message:     p.Message,
		Current:     p.Current,
		Total:       p.Total,
		Success:     p.Success,
		Failed:      p.Failed,
		URL:         p.URL,
		ToolName:    p.ToolName,
		TotalURLs:   p.TotalURLs,
		JSONFile:    p.JSONFile,
		FailedItems: p.FailedItems,
	}, true, nil
}
