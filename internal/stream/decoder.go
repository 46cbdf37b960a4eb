package stream

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/nexo-labs/chat-gateway/pkg/logger"
)

// Decoder incrementally reads chat events from an SSE body.
//
// Reads may split an event line at any byte offset; the decoder buffers
// partial lines and only parses complete ones. A malformed payload in any one
// event is skipped without terminating the stream; a stream-level error event
// is still surfaced to the caller.
type Decoder struct {
	r      *bufio.Reader
	logger *logger.Logger
	done   bool
}

// NewDecoder creates a decoder over the raw response body.
func NewDecoder(r io.Reader, log *logger.Logger) *Decoder {
	if log == nil {
		log = logger.NewNop()
	}
	return &Decoder{
		r:      bufio.NewReader(r),
		logger: log,
	}
}

// Next returns the next well-formed event. It returns io.EOF once the stream
// ends, whether by the [DONE] marker or by channel close.
func (d *Decoder) Next() (Event, error) {
	if d.done {
		return Event{}, io.EOF
	}

	for {
		line, err := d.r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Event{}, err
		}
		atEOF := errors.Is(err, io.EOF)

		ev, ok := d.parseLine(line)
		if ok {
			return ev, nil
		}

		if atEOF || d.done {
			d.done = true
			return Event{}, io.EOF
		}
	}
}

// parseLine handles one complete line; ok reports whether it produced an event.
func (d *Decoder) parseLine(line string) (Event, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, dataPrefix) {
		return Event{}, false
	}

	data := line[len(dataPrefix):]
	if data == DoneMarker {
		d.done = true
		return Event{}, false
	}

	ev, err := ParseEvent([]byte(data))
	if err != nil {
		// One bad event must not abort an otherwise-healthy stream.
		d.logger.Warn("skipping malformed stream event",
			zap.Error(err),
			zap.Int("length", len(data)),
		)
		return Event{}, false
	}

	return ev, true
}
