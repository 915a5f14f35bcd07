package event_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	before := time.Now().UTC()
	e := event.New("com.example.tick", "/gen")

	assert.NotEmpty(t, e.ID())
	assert.Equal(t, "com.example.tick", e.Type())
	assert.Equal(t, "/gen", e.Source())
	assert.False(t, e.Time().Before(before))
	assert.Nil(t, e.Data())
	assert.NoError(t, e.Validate())

	other := event.New("com.example.tick", "/gen")
	assert.NotEqual(t, e.ID(), other.ID(), "ids must be unique")
}

// TestCloneIsIndependent verifies fan-out copies share no mutable state.
func TestCloneIsIndependent(t *testing.T) {
	payload := []byte("hello")
	e := event.New("t", "s",
		event.WithData("text/plain", payload),
		event.WithExtension("tenant", "acme"),
	)
	payload[0] = 'j'
	assert.Equal(t, []byte("hello"), e.Data(), "WithData must copy")

	c := e.Clone()
	require.True(t, e.Equal(c))

	data := c.Data()
	data[0] = 'x'
	exts := c.Extensions()
	exts["tenant"] = "other"

	assert.Equal(t, []byte("hello"), c.Data())
	v, ok := c.Extension("tenant")
	require.True(t, ok)
	assert.Equal(t, "acme", v)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		evt     *event.Event
		wantErr string
	}{
		{"valid", event.New("t", "s", event.WithExtension("n", 1)), ""},
		{"missing id", event.New("t", "s", event.WithID("")), "id is required"},
		{"missing source", event.New("t", ""), "source is required"},
		{"missing type", event.New("", "s"), "type is required"},
		{"uppercase extension", event.New("t", "s", event.WithExtension("Tenant", "x")), "lowercase"},
		{"long extension", event.New("t", "s", event.WithExtension("abcdefghijklmnopqrstu", "x")), "lowercase"},
		{"map extension", event.New("t", "s", event.WithExtension("meta", map[string]any{})), "scalar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.evt.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, event.ErrInvalidEvent)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestEncodeJSONPayloadInline(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := event.New("com.example.order", "/orders",
		event.WithID("order-1"),
		event.WithTime(ts),
		event.WithSubject("42"),
		event.WithData("application/json", []byte(`{"total":12}`)),
		event.WithExtension("tenant", "acme"),
		event.WithExtension("priority", 5),
	)

	b, err := event.Encode(e)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(b, &wire))
	assert.Equal(t, "1.0", wire["specversion"])
	assert.Equal(t, "order-1", wire["id"])
	assert.Equal(t, map[string]any{"total": float64(12)}, wire["data"])
	assert.Equal(t, "acme", wire["tenant"])
	assert.NotContains(t, wire, "data_base64")

	back, err := event.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "order-1", back.ID())
	assert.Equal(t, "42", back.Subject())
	assert.True(t, ts.Equal(back.Time()))
	assert.JSONEq(t, `{"total":12}`, string(back.Data()))
	prio, ok := back.Extension("priority")
	require.True(t, ok)
	assert.Equal(t, "5", fmt.Sprint(prio))
}

func TestEncodeBinaryPayloadAsBase64(t *testing.T) {
	raw := []byte{0x00, 0xff, 0x10}
	e := event.New("t", "s", event.WithData("application/octet-stream", raw))

	b, err := e.MarshalJSON()
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(b, &wire))
	assert.Contains(t, wire, "data_base64")

	back, err := event.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, raw, back.Data())
	assert.Equal(t, "application/octet-stream", back.DataContentType())
}

func TestDecodeRejectsInvalid(t *testing.T) {
	_, err := event.Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = event.Decode([]byte(`{"specversion":"1.0","id":"1","type":"t"}`))
	assert.Error(t, err, "source is required")
}

func TestString(t *testing.T) {
	e := event.New("t", "s", event.WithID("abc"), event.WithSubject("sub"),
		event.WithData("text/plain", []byte("hi")))
	assert.Equal(t, "abc [t from s] subject=sub 2 bytes (text/plain)", e.String())
}

func TestCloneCopiesBinaryExtensions(t *testing.T) {
	raw := []byte{1, 2, 3}
	e := event.New("t", "s", event.WithExtension("bin", raw))
	raw[0] = 9

	c := e.Clone()
	v, ok := c.Extension("bin")
	require.True(t, ok)
	v.([]byte)[0] = 99
	c.Extensions()["bin"].([]byte)[1] = 99

	orig, _ := e.Extension("bin")
	assert.Equal(t, []byte{1, 2, 3}, orig, "original must not see changes made through a copy")
	again, _ := c.Extension("bin")
	assert.Equal(t, []byte{1, 2, 3}, again)
}

func TestToCloudEventCarriesExtensions(t *testing.T) {
	e := event.New("com.example.order", "/orders",
		event.WithExtension("tenant", "acme"),
		event.WithExtension("urgent", true),
		event.WithExtension("priority", 5),
		event.WithExtension("bin", []byte{1, 2}),
	)

	ce, err := e.ToCloudEvent()
	require.NoError(t, err)
	require.NoError(t, ce.Validate())
	exts := ce.Extensions()
	assert.Equal(t, "acme", exts["tenant"])
	assert.Equal(t, true, exts["urgent"])
	assert.Equal(t, int32(5), exts["priority"])
	assert.Equal(t, []byte{1, 2}, exts["bin"])
}

func TestToCloudEventRejectsNonScalarExtension(t *testing.T) {
	e := event.New("t", "s", event.WithExtension("nested", map[string]any{"a": 1}))

	_, err := e.ToCloudEvent()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nested")
}
