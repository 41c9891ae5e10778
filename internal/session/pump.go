package session

import (
	"bufio"
	"errors"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"claude-auto/internal/logger"
)

const pumpBufSize = 64 * 1024

// Echoer receives each line a pump reads, before it is queued.
type Echoer interface {
	Echo(line string)
}

// Pump reads r line by line until end-of-stream, echoing every line and
// pushing it onto q. A trailing line without a newline is still delivered.
// Read errors end the pump like EOF does; they are never returned. If r is
// an io.Closer it is closed on return.
func Pump(r io.Reader, stream Stream, sessionID string, echo Echoer, q *Queue, log *logger.Logger) {
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	br := bufio.NewReaderSize(r, pumpBufSize)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			if echo != nil {
				echo.Echo(line)
			}
			q.Push(OutputEvent{
				SessionID: sessionID,
				Stream:    stream,
				Data:      line,
				Timestamp: time.Now().UTC(),
			})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && log != nil {
				log.Debug("output stream closed on error",
					zap.String("stream", string(stream)), zap.Error(err))
			}
			return
		}
	}
}
