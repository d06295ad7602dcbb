package logging

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
	"time"
)

// LineWriter prefixes every complete line written to it with a sequence number and
// a timestamp before passing it on. Partial lines are held until their newline
// arrives or Close is called.
type LineWriter struct {
	mu     sync.Mutex
	target io.Writer
	seq    uint64
	buf    bytes.Buffer
	now    func() time.Time
}

func NewLineWriter(target io.Writer) *LineWriter {
	return &LineWriter{target: target, now: time.Now}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := w.buf.Next(i + 1)
		if err := w.writeLine(line); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

func (w *LineWriter) writeLine(line []byte) error {
	w.seq++
	prefix := slog.Uint64("line", w.seq).String() + " " +
		slog.String("time", w.now().Format(time.RFC3339)).String() + " "
	if _, err := io.WriteString(w.target, prefix); err != nil {
		return err
	}
	_, err := w.target.Write(line)
	return err
}

// Close flushes a trailing partial line.
func (w *LineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return nil
	}
	line := append(w.buf.Bytes(), '\n')
	w.buf.Reset()
	return w.writeLine(line)
}
