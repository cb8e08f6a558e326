package chatclient

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/domain"
)

// ssePrefix is the field prefix of a server-sent data line.
const ssePrefix = "data: "

// StreamDecoder turns a raw SSE response body into a sequence of parsed
// StreamEvents. It owns the reader: whichever way the stream ends — final
// event, EOF, read error, or an early break by the consumer — the reader is
// closed exactly once.
type StreamDecoder struct {
	reader    io.ReadCloser
	logger    *slog.Logger
	closeOnce sync.Once
}

// NewStreamDecoder wraps the body of a streaming chat response.
func NewStreamDecoder(reader io.ReadCloser, logger *slog.Logger) *StreamDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamDecoder{reader: reader, logger: logger}
}

// Events yields parsed events in arrival order. Lines that are not data
// frames are skipped; data frames that fail to parse are logged and dropped
// without disturbing later frames. Iteration stops after the first event
// marked final, on EOF, or on a read error (yielded as a NETWORK_ERROR).
func (d *StreamDecoder) Events() iter.Seq2[domain.StreamEvent, *ServiceError] {
	return func(yield func(domain.StreamEvent, *ServiceError) bool) {
		defer d.Close()

		br := bufio.NewReader(d.reader)
		for {
			line, err := br.ReadString('\n')

			// A partial line before EOF is still worth parsing: the server
			// may not terminate its last frame.
			if payload, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), ssePrefix); ok {
				var event domain.StreamEvent
				if jsonErr := json.Unmarshal([]byte(payload), &event); jsonErr != nil {
					d.logger.Warn("dropping malformed stream frame", "error", jsonErr)
				} else {
					if !yield(event, nil) {
						return
					}
					if event.IsFinal {
						return
					}
				}
			}

			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(domain.StreamEvent{}, newServiceError(KindNetworkError, "stream read failed: %v", err))
				}
				return
			}
		}
	}
}

// Close releases the underlying reader. Safe to call more than once and
// concurrently with iteration.
func (d *StreamDecoder) Close() {
	d.closeOnce.Do(func() {
		if err := d.reader.Close(); err != nil {
			d.logger.Debug("failed to close stream reader", "error", err)
		}
	})
}
