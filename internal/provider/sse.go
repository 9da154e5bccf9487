package provider

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// sseEvent is a single Server-Sent Event parsed off a provider stream.
type sseEvent struct {
	Event string
	Data  string
}

// sseReader parses the SSE wire format (event:/data: lines separated by
// blank lines) from an upstream response body. The scanner buffer is sized
// 64KB initial / 10MB max so large deltas never truncate an event.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)
	return &sseReader{scanner: scanner}
}

// Next returns the next complete event, or io.EOF when the stream ends.
// Comment lines (leading ":") are skipped; multi-line data fields are
// joined with newlines per the SSE spec.
func (s *sseReader) Next() (*sseEvent, error) {
	var evt sseEvent
	hasData := false

	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			if hasData || evt.Event != "" {
				return &evt, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := parseSSELine(line)
		switch field {
		case "event":
			evt.Event = value
		case "data":
			if hasData {
				evt.Data += "\n" + value
			} else {
				evt.Data = value
				hasData = true
			}
		}
	}

	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("provider: reading SSE stream: %w", err)
	}
	if hasData || evt.Event != "" {
		return &evt, nil
	}
	return nil, io.EOF
}

// parseSSELine splits "field: value"; the space after the colon is
// optional.
func parseSSELine(line string) (field, value string) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return line, ""
	}
	field = line[:idx]
	value = line[idx+1:]
	value = strings.TrimPrefix(value, " ")
	return field, value
}
