package trace

import (
	"archive/zip"
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Sink receives structured entries in order.
type Sink interface {
	WriteEntry(Entry) error
}

// ComponentSink is a chunk-addressable sink. OpenNewComponent starts a new
// named output component; subsequent writes go to that component. The chunk
// manager calls it exactly once per chunk boundary.
type ComponentSink interface {
	Sink
	OpenNewComponent(name string) error
}

// ChunkName returns the canonical component name for chunk ordinal idx.
func ChunkName(idx int) string {
	return fmt.Sprintf("chunk.%04d", idx)
}

// Writer is a plain sequential Sink over an io.Writer.
type Writer struct {
	w       *bufio.Writer
	scratch []byte
	count   uint64
}

// NewWriter creates a buffered sequential sink.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w), scratch: make([]byte, 0, EntrySize)}
}

// WriteEntry encodes and writes one entry.
func (w *Writer) WriteEntry(e Entry) error {
	w.scratch = e.Encode(w.scratch[:0])
	if _, err := w.w.Write(w.scratch); err != nil {
		return fmt.Errorf("trace: write entry %d: %w", w.count, err)
	}
	w.count++
	return nil
}

// Count returns the number of entries written.
func (w *Writer) Count() uint64 {
	return w.count
}

// Flush flushes buffered output to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// ErrNoComponent is returned when an Archive is written to before its first
// component is opened.
var ErrNoComponent = errors.New("trace: archive has no open component")

// Archive is a chunk-addressable ComponentSink backed by a zip archive with
// one member per chunk.
type Archive struct {
	zw      *zip.Writer
	cur     io.Writer
	scratch []byte
	count   uint64
}

// NewArchive creates an archive sink writing zip data to w. Callers open the
// first component before writing entries.
func NewArchive(w io.Writer) *Archive {
	return &Archive{zw: zip.NewWriter(w), scratch: make([]byte, 0, EntrySize)}
}

// OpenNewComponent finishes the current component and starts a new one.
func (a *Archive) OpenNewComponent(name string) error {
	fw, err := a.zw.Create(name)
	if err != nil {
		return fmt.Errorf("trace: open component %q: %w", name, err)
	}
	a.cur = fw
	return nil
}

// WriteEntry encodes and writes one entry to the current component.
func (a *Archive) WriteEntry(e Entry) error {
	if a.cur == nil {
		return ErrNoComponent
	}
	a.scratch = e.Encode(a.scratch[:0])
	if _, err := a.cur.Write(a.scratch); err != nil {
		return fmt.Errorf("trace: write entry %d: %w", a.count, err)
	}
	a.count++
	return nil
}

// Close finalizes the zip archive. The underlying writer is not closed.
func (a *Archive) Close() error {
	return a.zw.Close()
}
