package widget

import (
	"bytes"
	"log/slog"
)

const framePrefix = "data: "

// doneSentinel is an optional literal line some providers append; it carries
// no payload and must be ignored.
const doneSentinel = "[DONE]"

// Decoder reassembles a chunked byte stream into discrete frames and decodes
// them into StreamEvents. Input is UTF-8 text split on newline boundaries; a
// frame is a line beginning with "data: " whose remainder is a JSON event.
// Partial lines are buffered until their newline arrives. A line that fails
// to parse is logged and skipped. After a terminal event (done or error) all
// further frames on the stream are ignored.
type Decoder struct {
	buf      []byte
	logger   *slog.Logger
	terminal bool
}

// NewDecoder creates a decoder. A nil logger falls back to slog.Default.
func NewDecoder(logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{logger: logger}
}

// Feed consumes one chunk and returns the events completed by it, in order.
func (d *Decoder) Feed(chunk []byte) []StreamEvent {
	d.buf = append(d.buf, chunk...)

	var events []StreamEvent
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]

		if ev, ok := d.decodeLine(line); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Flush attempts a best-effort parse of a trailing unterminated line at end
// of stream. The source is already closed at this point, so a parse failure
// is silently dropped.
func (d *Decoder) Flush() []StreamEvent {
	if len(d.buf) == 0 {
		return nil
	}
	line := d.buf
	d.buf = nil

	if ev, ok := d.decodeLine(line); ok {
		return []StreamEvent{ev}
	}
	return nil
}

// Terminated reports whether a done or error frame has been decoded.
func (d *Decoder) Terminated() bool {
	return d.terminal
}

func (d *Decoder) decodeLine(line []byte) (StreamEvent, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return StreamEvent{}, false
	}
	if !bytes.HasPrefix(line, []byte(framePrefix)) {
		// Comment lines, event ids, and other SSE noise are not frames.
		return StreamEvent{}, false
	}

	payload := bytes.TrimSpace(line[len(framePrefix):])
	if len(payload) == 0 || string(payload) == doneSentinel {
		return StreamEvent{}, false
	}

	if d.terminal {
		d.logger.Debug("frame after terminal event ignored", "payload_length", len(payload))
		return StreamEvent{}, false
	}

	ev, err := parseEvent(payload)
	if err != nil {
		d.logger.Warn("skipping malformed frame", "error", err)
		return StreamEvent{}, false
	}

	if ev.IsTerminal() {
		d.terminal = true
	}
	return ev, true
}
