package stream

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// frame is one raw server-sent event before payload decoding.
type frame struct {
	name string
	data string
}

// decoder reads newline-delimited SSE frames off the push channel body.
// Comment lines (heartbeats) are transparent; an empty line terminates a
// frame.
type decoder struct {
	reader *bufio.Reader
}

func newDecoder(r io.Reader) *decoder {
	return &decoder{reader: bufio.NewReader(r)}
}

func (d *decoder) next() (frame, error) {
	var f frame
	var data strings.Builder
	for {
		line, err := d.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && (f.name != "" || data.Len() > 0) {
				f.data = data.String()
				return f, nil
			}
			return frame{}, err
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			if f.name == "" && data.Len() == 0 {
				continue
			}
			f.data = data.String()
			return f, nil
		}
		if strings.HasPrefix(trimmed, ":") {
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "event:"):
			f.name = strings.TrimSpace(trimmed[6:])
		case strings.HasPrefix(trimmed, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(trimmed[5:]))
		default:
			// Field we do not consume (id, retry); skip.
		}
	}
}
