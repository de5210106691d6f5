package sse

import (
	"io"
	"strings"
	"sync"
)

// newlines folds every SSE line terminator into '\n'.
var newlines = strings.NewReplacer("\r\n", "\n", "\r", "\n")

type flusher interface {
	Flush() error
}

// Writer frames events onto an io.Writer. If the destination can Flush
// (e.g. a *bufio.Writer) each event is flushed as soon as it is written.
// A Writer is safe for concurrent use; frames never interleave.
type Writer struct {
	mu   sync.Mutex
	dest io.Writer
}

// NewWriter returns a Writer framing onto dest.
func NewWriter(dest io.Writer) *Writer {
	return &Writer{dest: dest}
}

// WriteEvent writes a single event frame. Data is split into one "data:"
// line per line, where "\r\n", "\r" and "\n" all end a line, so no raw
// carriage return reaches the stream. A Reader restores the lines joined
// by '\n'.
func (w *Writer) WriteEvent(ev Event) error {
	var b strings.Builder
	if ev.ID != "" {
		b.WriteString("id: ")
		b.WriteString(ev.ID)
		b.WriteByte('\n')
	}
	if ev.Type != "" {
		b.WriteString("event: ")
		b.WriteString(ev.Type)
		b.WriteByte('\n')
	}
	for line := range strings.SplitSeq(newlines.Replace(ev.Data), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	return w.write(b.String())
}

// Comment writes an SSE comment line, used as a keep-alive. Line breaks in
// text become spaces.
func (w *Writer) Comment(text string) error {
	return w.write(": " + strings.ReplaceAll(newlines.Replace(text), "\n", " ") + "\n\n")
}

func (w *Writer) write(frame string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := io.WriteString(w.dest, frame); err != nil {
		return err
	}
	if f, ok := w.dest.(flusher); ok {
		return f.Flush()
	}
	return nil
}
