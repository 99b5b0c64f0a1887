package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventNamedFrame(t *testing.T) {
	ev, ok, err := parseEvent("progress", []byte(`{"current":3,"total":10,"success":2,"failed":1,"url":"https://example.com/a"}`))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, EventProgress, ev.Kind)
	assert.Equal(t, 3, ev.Current)
	assert.Equal(t, 10, ev.Total)
	require.NotNil(t, ev.Success)
	assert.Equal(t, 2, *ev.Success)
	require.NotNil(t, ev.Failed)
	assert.Equal(t, 1, *ev.Failed)
	assert.Equal(t, "https://example.com/a", ev.URL)
}

func TestParseEventTypeTaggedFrame(t *testing.T) {
	ev, ok, err := parseEvent("", []byte(`{"type":"status","message":"warming up","total_urls":7}`))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, EventStatus, ev.Kind)
	assert.Equal(t, "warming up", ev.Message)
	require.NotNil(t, ev.TotalURLs)
	assert.Equal(t, 7, *ev.TotalURLs)
}

func TestParseEventNestedDataForm(t *testing.T) {
	ev, ok, err := parseEvent("", []byte(`{"type":"final","data":{"success":5,"failed":0,"json_file":"result.json"}}`))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, EventFinal, ev.Kind)
	require.NotNil(t, ev.Success)
	assert.Equal(t, 5, *ev.Success)
	assert.Equal(t, "result.json", ev.JSONFile)
}

func TestParseEventNameWinsOverTypeTag(t *testing.T) {
	ev, ok, err := parseEvent("complete", []byte(`{"type":"progress"}`))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, EventComplete, ev.Kind)
}

func TestParseEventUnknownKindSkipped(t *testing.T) {
	_, ok, err := parseEvent("ping", []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseEventMalformed(t *testing.T) {
	_, _, err := parseEvent("progress", []byte(`{not json`))
	assert.Error(t, err)
}

func TestParseEventFailedItems(t *testing.T) {
	ev, ok, err := parseEvent("error", []byte(`{"message":"boom","failed_items":[{"id":4,"url":"https://example.com/x","error":"timeout"}]}`))
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, ev.FailedItems, 1)
	assert.Equal(t, "https://example.com/x", ev.FailedItems[0].URL)
	assert.Equal(t, "timeout", ev.FailedItems[0].Error)
}

func TestEventTerminal(t *testing.T) {
	assert.True(t, Event{Kind: EventFinal}.Terminal())
	assert.True(t, Event{Kind: EventComplete}.Terminal())
	assert.True(t, Event{Kind: EventError}.Terminal())
	assert.False(t, Event{Kind: EventProgress}.Terminal())
	assert.False(t, Event{Kind: EventConnected}.Terminal())
}
