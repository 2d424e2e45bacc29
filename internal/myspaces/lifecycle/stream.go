package lifecycle

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bdobrica/myspaces/internal/myspaces/engine"
	"github.com/bdobrica/myspaces/internal/myspaces/errdefs"
)

// maxLogChunk is the longest piece of output forwarded as one line. Longer
// lines are forwarded in pieces of this size.
const maxLogChunk = 64 * 1024

// follow copies the container's log lines to the output until the stream
// ends or ctx is cancelled. A reader goroutine feeds a channel so the loop
// can observe cancellation between lines.
func (r *run) follow(ctx context.Context, h engine.ContainerHandle) error {
	rc, err := r.engine.StreamLogs(ctx, h.ID)
	if err != nil {
		return withPhase(err, errdefs.PhaseLogs)
	}
	done := make(chan struct{})
	defer rc.Close()
	defer close(done)

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(rc)
		sc.Buffer(make([]byte, 4096), maxLogChunk+1)
		sc.Split(splitLogLines)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil && ctx.Err() == nil {
					return fmt.Errorf("%s: %w", errdefs.PhaseLogs, err)
				}
				return nil
			}
			fmt.Fprintln(r.cfg.Output, r.redactor.String(line))
		}
	}
}

// splitLogLines is a bufio.SplitFunc that ends a line at "\n", "\r\n" or a
// lone "\r" (progress bars redraw with "\r"). A line that grows past
// maxLogChunk is cut, so the scanner never fails with ErrTooLong.
func splitLogLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 && i <= maxLogChunk {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF || len(data) > maxLogChunk {
			return i + 1, data[:i], nil
		}
		// A trailing "\r" may be the first half of "\r\n".
		return 0, nil, nil
	}
	if len(data) >= maxLogChunk {
		return maxLogChunk, data[:maxLogChunk], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// lineWriter is an io.Writer that hands complete lines to emit.
type lineWriter struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	emit func(string)
}

func newLineWriter(emit func(string)) *lineWriter {
	return &lineWriter{emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		w.emitLine(line)
	}
	return len(p), nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emitLine(w.buf.String())
		w.buf.Reset()
	}
}

func (w *lineWriter) emitLine(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	w.emit(line)
}
