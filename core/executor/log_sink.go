package executor

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"
)

// LogSink is an io.Writer that emits one log line per line of remote output.
// It is safe for concurrent use by the stdout and stderr copiers.
type LogSink struct {
	mu     sync.Mutex
	logger zerolog.Logger
	stream string
	buf    bytes.Buffer
}

// NewLogSink returns a sink tagged with stream ("stdout" or "stderr")
func NewLogSink(logger zerolog.Logger, stream string) *LogSink {
	return &LogSink{logger: logger, stream: stream}
}

func (s *LogSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Write(p)
	for {
		line, err := s.buf.ReadBytes('\n')
		if err != nil {
			// Keep the partial line for the next chunk.
			s.buf.Reset()
			s.buf.Write(line)
			break
		}
		s.emit(bytes.TrimRight(line, "\r\n"))
	}
	return len(p), nil
}

// Flush emits any buffered partial line
func (s *LogSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf.Len() > 0 {
		s.emit(s.buf.Bytes())
		s.buf.Reset()
	}
}

func (s *LogSink) emit(line []byte) {
	if len(line) == 0 {
		return
	}
	s.logger.Debug().Str("stream", s.stream).Msg(string(line))
}
