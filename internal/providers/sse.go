package providers

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// maxSSELineBytes bounds a single server-sent-event line. Vendor deltas
// are small, but tool arguments and inline data URLs can push a data line
// past the bufio.Scanner default.
const maxSSELineBytes = 1 << 20

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	Name string // event: field, empty when the stream only uses data:
	Data string // data: payload, multi-line payloads concatenated
}

// errStopScan tells scanSSE to stop consuming without reporting an error.
var errStopScan = errors.New("providers: stop sse scan")

// scanSSE reads server-sent events from r and hands each to fn in arrival
// order. Events are delimited by blank lines; comment lines (leading ':')
// are dropped; multiple data: lines within one event are concatenated,
// matching how vendors split large JSON payloads. A trailing event without
// a final blank line is still delivered. fn may return errStopScan to end
// the scan cleanly.
func scanSSE(r io.Reader, fn func(ev sseEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineBytes)

	var name string
	var data strings.Builder
	flush := func() error {
		if name == "" && data.Len() == 0 {
			return nil
		}
		ev := sseEvent{Name: name, Data: data.String()}
		name = ""
		data.Reset()
		return fn(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				if errors.Is(err, errStopScan) {
					return nil
				}
				return err
			}
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if err := flush(); err != nil && !errors.Is(err, errStopScan) {
		return err
	}
	return nil
}
