package stream

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoderNamedFrame(t *testing.T) {
	d := newDecoder(strings.NewReader("event: progress\ndata: {\"current\":1}\n\n"))

	f, err := d.next()
	require.NoError(t, err)

	assert.Equal(t, "progress", f.name)
	assert.Equal(t, `{"current":1}`, f.data)
}

func TestDecoderUnnamedFrame(t *testing.T) {
	d := newDecoder(strings.NewReader("data: {\"type\":\"status\"}\n\n"))

	f, err := d.next()
	require.NoError(t, err)

	assert.Empty(t, f.name)
	assert.Equal(t, `{"type":"status"}`, f.data)
}

func TestDecoderSkipsCommentsAndBlankLines(t *testing.T) {
	input := ": heartbeat\n\n\n: another\nevent: status\ndata: {}\n\n"
	d := newDecoder(strings.NewReader(input))

	f, err := d.next()
	require.NoError(t, err)

	assert.Equal(t, "status", f.name)
	assert.Equal(t, "{}", f.data)
}

func TestDecoderMultiLineData(t *testing.T) {
	d := newDecoder(strings.NewReader("data: line one\ndata: line two\n\n"))

	f, err := d.next()
	require.NoError(t, err)

	assert.Equal(t, "line one\nline two", f.data)
}

func TestDecoderCRLF(t *testing.T) {
	d := newDecoder(strings.NewReader("event: complete\r\ndata: {}\r\n\r\n"))

	f, err := d.next()
	require.NoError(t, err)

	assert.Equal(t, "complete", f.name)
	assert.Equal(t, "{}", f.data)
}

func TestDecoderEOFFlushesPartialFrame(t *testing.T) {
	d := newDecoder(strings.NewReader("event: error\ndata: {\"message\":\"boom\"}"))

	f, err := d.next()
	require.NoError(t, err)
	assert.Equal(t, "error", f.name)
	assert.Equal(t, `{"message":"boom"}`, f.data)

	_, err = d.next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoderEOFWithoutData(t *testing.T) {
	d := newDecoder(strings.NewReader(""))

	_, err := d.next()
	assert.ErrorIs(t, err, io.EOF)
}
