package eventbus

import (
	"context"
	"fmt"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Event types emitted by the bus itself.
const (
	EventTypeSystemError = "system.error"
)

// UrgentPriority is the lowest event priority dispatched synchronously.
const UrgentPriority = 9

// DefaultListenerPriority is used when On or Once are called without a priority.
const DefaultListenerPriority = 5

// cloudEventTypePrefix namespaces bus event types as CloudEvent types.
const cloudEventTypePrefix = "com.opscore."

const extensionPriority = "priority"

// Event is an immutable, typed message broadcast to matching listeners.
// ID and Timestamp are assigned by the bus on Emit.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Priority  int       `json:"priority,omitempty"`
}

// IsUrgent reports whether the event bypasses the batch queue.
func (e Event) IsUrgent() bool {
	return e.Priority >= UrgentPriority
}

// Handler handles a dispatched event. Returned errors and panics are
// converted into system.error events.
type Handler func(ctx context.Context, event Event) error

// SystemError is the payload of system.error events.
type SystemError struct {
	Err        error  `json:"-"`
	Message    string `json:"error"`
	Event      Event  `json:"event"`
	ListenerID string `json:"listenerId"`
}

func (s SystemError) Error() string {
	return fmt.Sprintf("listener %s failed on %s: %s", s.ListenerID, s.Event.Type, s.Message)
}

func (s SystemError) Unwrap() error {
	return s.Err
}

// newEventID generates a time-ordered identifier, falling back to v4.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// CloudEvent converts the event to a CloudEvents v1 event. The payload is
// encoded as JSON when present.
func (e Event) CloudEvent() cloudevents.Event {
	ce := cloudevents.NewEvent()
	ce.SetSpecVersion(cloudevents.VersionV1)
	ce.SetID(e.ID)
	ce.SetType(cloudEventTypePrefix + e.Type)
	source := e.Source
	if source == "" {
		source = "opscore"
	}
	ce.SetSource(source)
	ce.SetTime(e.Timestamp)
	if e.Priority != 0 {
		ce.SetExtension(extensionPriority, e.Priority)
	}
	if e.Payload != nil {
		_ = ce.SetData(cloudevents.ApplicationJSON, e.Payload)
	}
	return ce
}

// FromCloudEvent converts a CloudEvent back into a bus event. The payload is
// left as raw JSON bytes.
func FromCloudEvent(ce cloudevents.Event) Event {
	e := Event{
		ID:        ce.ID(),
		Type:      strings.TrimPrefix(ce.Type(), cloudEventTypePrefix),
		Source:    ce.Source(),
		Timestamp: ce.Time(),
	}
	if v, ok := ce.Extensions()[extensionPriority]; ok {
		if p, ok := v.(int32); ok {
			e.Priority = int(p)
		}
	}
	if data := ce.Data(); len(data) > 0 {
		e.Payload = data
	}
	return e
}
