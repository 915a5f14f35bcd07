package event

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2/event"
	"github.com/cloudevents/sdk-go/v2/types"
)

// ContentType is the media type of the structured JSON encoding produced by
// MarshalJSON.
const ContentType = "application/cloudevents+json; charset=UTF-8"

// ToCloudEvent converts the envelope to the CloudEvents SDK representation.
// Extension values the SDK cannot carry natively (large integers,
// fractional numbers) are converted to strings.
func (e *Event) ToCloudEvent() (cloudevents.Event, error) {
	ce := cloudevents.New()
	ce.SetID(e.id)
	ce.SetSource(e.source)
	ce.SetType(e.eventType)
	if e.subject != "" {
		ce.SetSubject(e.subject)
	}
	if e.dataSchema != "" {
		ce.SetDataSchema(e.dataSchema)
	}
	if !e.time.IsZero() {
		ce.SetTime(e.time)
	}
	if e.dataContentType != "" {
		ce.SetDataContentType(e.dataContentType)
	}
	if e.data != nil {
		ce.DataEncoded = e.Data()
		// The structured encoding inlines JSON payloads; anything else must
		// travel as data_base64.
		ce.DataBase64 = !isJSONContentType(e.dataContentType) || !json.Valid(e.data)
	}
	for name, value := range e.extensions {
		if err := ce.Context.SetExtension(name, sdkExtensionValue(value)); err != nil {
			return cloudevents.Event{}, fmt.Errorf("extension %q: %w", name, err)
		}
	}
	return ce, nil
}

// FromCloudEvent converts an SDK event to an envelope.
func FromCloudEvent(ce cloudevents.Event) *Event {
	e := &Event{
		id:              ce.ID(),
		source:          ce.Source(),
		eventType:       ce.Type(),
		dataContentType: ce.DataContentType(),
		dataSchema:      ce.DataSchema(),
		subject:         ce.Subject(),
		time:            ce.Time(),
	}
	if data := ce.Data(); data != nil {
		e.data = append([]byte(nil), data...)
	}
	if exts := ce.Extensions(); len(exts) > 0 {
		e.extensions = make(map[string]any, len(exts))
		for name, value := range exts {
			e.extensions[name] = fromSDKExtensionValue(value)
		}
	}
	return e
}

// MarshalJSON encodes the event in the CloudEvents structured JSON format.
func (e *Event) MarshalJSON() ([]byte, error) {
	ce, err := e.ToCloudEvent()
	if err != nil {
		return nil, err
	}
	return json.Marshal(ce)
}

// UnmarshalJSON decodes the CloudEvents structured JSON format.
func (e *Event) UnmarshalJSON(data []byte) error {
	var ce cloudevents.Event
	if err := json.Unmarshal(data, &ce); err != nil {
		return fmt.Errorf("decode cloudevent: %w", err)
	}
	*e = *FromCloudEvent(ce)
	return nil
}

// Decode parses and validates one structured JSON event.
func Decode(data []byte) (*Event, error) {
	e := &Event{}
	if err := e.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Encode validates and encodes one event.
func Encode(e *Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e.MarshalJSON()
}

func isJSONContentType(ct string) bool {
	if ct == "" {
		return true
	}
	mediaType := strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	return mediaType == "application/json" ||
		mediaType == "text/json" ||
		strings.HasSuffix(mediaType, "+json")
}

func sdkExtensionValue(v any) any {
	switch val := v.(type) {
	case int:
		return int32OrString(int64(val))
	case int8:
		return int32(val)
	case int16:
		return int32(val)
	case int64:
		return int32OrString(val)
	case uint:
		return uintValue(uint64(val))
	case uint8:
		return int32(val)
	case uint16:
		return int32(val)
	case uint32:
		return uintValue(uint64(val))
	case uint64:
		return uintValue(val)
	case float32:
		return floatValue(float64(val))
	case float64:
		return floatValue(val)
	default:
		return v
	}
}

func int32OrString(n int64) any {
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		return int32(n)
	}
	return strconv.FormatInt(n, 10)
}

func uintValue(n uint64) any {
	if n <= math.MaxInt32 {
		return int32(n)
	}
	return strconv.FormatUint(n, 10)
}

func floatValue(f float64) any {
	if f == math.Trunc(f) && f >= math.MinInt32 && f <= math.MaxInt32 {
		return int32(f)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func fromSDKExtensionValue(v any) any {
	switch val := v.(type) {
	case int32:
		return int64(val)
	case types.Timestamp:
		return val.Time
	case *types.Timestamp:
		return val.Time
	case time.Time:
		return val
	case string, bool, []byte:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
