package event

import (
	"bytes"
	"fmt"
	"maps"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is an immutable CloudEvents envelope. The router and kernel read its
// attributes but never modify it; fan-out hands each destination its own
// Clone.
type Event struct {
	id              string
	source          string
	eventType       string
	dataContentType string
	dataSchema      string
	subject         string
	time            time.Time
	data            []byte
	extensions      map[string]any
}

// Option configures event creation.
type Option func(*Event)

// WithID sets a specific event ID (default: auto-generated UUID).
func WithID(id string) Option {
	return func(e *Event) {
		e.id = id
	}
}

// WithTime sets the occurrence time (default: time.Now()).
func WithTime(t time.Time) Option {
	return func(e *Event) {
		e.time = t
	}
}

// WithoutTime leaves the optional time attribute unset.
func WithoutTime() Option {
	return func(e *Event) {
		e.time = time.Time{}
	}
}

// WithSubject sets the subject attribute.
func WithSubject(subject string) Option {
	return func(e *Event) {
		e.subject = subject
	}
}

// WithDataSchema sets the dataschema attribute.
func WithDataSchema(schema string) Option {
	return func(e *Event) {
		e.dataSchema = schema
	}
}

// WithData sets the payload and its content type. The bytes are copied.
func WithData(contentType string, data []byte) Option {
	return func(e *Event) {
		e.dataContentType = contentType
		e.data = bytes.Clone(data)
	}
}

// WithExtension adds one extension attribute. Values must be scalars;
// Validate reports anything else.
func WithExtension(name string, value any) Option {
	return func(e *Event) {
		if e.extensions == nil {
			e.extensions = make(map[string]any)
		}
		e.extensions[name] = cloneValue(value)
	}
}

// New creates an event with the given type and source.
func New(eventType, source string, opts ...Option) *Event {
	e := &Event{
		id:        uuid.New().String(),
		source:    source,
		eventType: eventType,
		time:      time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ID returns the unique event identifier.
func (e *Event) ID() string { return e.id }

// Source returns the source attribute.
func (e *Event) Source() string { return e.source }

// Type returns the type attribute.
func (e *Event) Type() string { return e.eventType }

// DataContentType returns the content type of the payload, or "".
func (e *Event) DataContentType() string { return e.dataContentType }

// DataSchema returns the dataschema attribute, or "".
func (e *Event) DataSchema() string { return e.dataSchema }

// Subject returns the subject attribute, or "".
func (e *Event) Subject() string { return e.subject }

// Time returns the occurrence time. The zero time means unset.
func (e *Event) Time() time.Time { return e.time }

// Data returns a copy of the payload.
func (e *Event) Data() []byte { return bytes.Clone(e.data) }

// DataLen returns the payload size without copying it.
func (e *Event) DataLen() int { return len(e.data) }

// Extension returns one extension value. Binary values are copied.
func (e *Event) Extension(name string) (any, bool) {
	v, ok := e.extensions[name]
	return cloneValue(v), ok
}

// Extensions returns a copy of the extension attributes.
func (e *Event) Extensions() map[string]any {
	return cloneExtensions(e.extensions)
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	c := *e
	c.data = bytes.Clone(e.data)
	c.extensions = cloneExtensions(e.extensions)
	return &c
}

func cloneExtensions(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the only mutable scalar, []byte.
func cloneValue(v any) any {
	if b, ok := v.([]byte); ok {
		return bytes.Clone(b)
	}
	return v
}

// Equal reports whether two events carry identical attributes and payload.
func (e *Event) Equal(other *Event) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.id == other.id &&
		e.source == other.source &&
		e.eventType == other.eventType &&
		e.dataContentType == other.dataContentType &&
		e.dataSchema == other.dataSchema &&
		e.subject == other.subject &&
		e.time.Equal(other.time) &&
		bytes.Equal(e.data, other.data) &&
		maps.EqualFunc(e.extensions, other.extensions, func(a, b any) bool {
			return fmt.Sprint(a) == fmt.Sprint(b)
		})
}

// Validate checks the required attributes and the extension constraints.
func (e *Event) Validate() error {
	var problems []string
	if e.id == "" {
		problems = append(problems, "id is required")
	}
	if e.source == "" {
		problems = append(problems, "source is required")
	}
	if e.eventType == "" {
		problems = append(problems, "type is required")
	}
	names := make([]string, 0, len(e.extensions))
	for name := range e.extensions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !validExtensionName(name) {
			problems = append(problems, fmt.Sprintf("extension name %q must be 1-20 lowercase letters or digits", name))
			continue
		}
		if !isScalar(e.extensions[name]) {
			problems = append(problems, fmt.Sprintf("extension %q must be a scalar, got %T", name, e.extensions[name]))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{EventID: e.id, Problems: problems}
	}
	return nil
}

// String returns a short human-readable description.
func (e *Event) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s from %s]", e.id, e.eventType, e.source)
	if e.subject != "" {
		fmt.Fprintf(&b, " subject=%s", e.subject)
	}
	if len(e.data) > 0 {
		fmt.Fprintf(&b, " %d bytes", len(e.data))
		if e.dataContentType != "" {
			fmt.Fprintf(&b, " (%s)", e.dataContentType)
		}
	}
	return b.String()
}

func validExtensionName(name string) bool {
	if name == "" || len(name) > 20 {
		return false
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, []byte, time.Time,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}
