package trace

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"sort"
)

// ErrTruncated is returned when a structured stream's size is not a multiple
// of the entry size.
var ErrTruncated = errors.New("trace: truncated stream")

// Reader decodes structured entries from a byte stream.
type Reader struct {
	r   io.Reader
	buf [EntrySize]byte
	pos int
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next reads the next entry. It returns io.EOF at a clean entry boundary and
// ErrTruncated when the stream ends mid-entry.
func (r *Reader) Next() (Entry, error) {
	n, err := io.ReadFull(r.r, r.buf[:])
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return Entry{}, io.EOF
		}
		return Entry{}, fmt.Errorf("%w: %d trailing bytes at entry %d", ErrTruncated, n, r.pos)
	}
	e, err := DecodeEntry(r.buf[:])
	if err != nil {
		return Entry{}, fmt.Errorf("entry %d: %w", r.pos, err)
	}
	r.pos++
	return e, nil
}

// ReadAll decodes an entire stream, validating that it is a whole number of
// entries.
func ReadAll(r io.Reader) ([]Entry, error) {
	var out []Entry
	rd := NewReader(r)
	for {
		e, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}

// ReadArchive decodes all components of a chunked trace archive in component
// name order and returns the concatenated entries.
func ReadArchive(r io.ReaderAt, size int64) ([]Entry, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("trace: open archive: %w", err)
	}
	files := make([]*zip.File, len(zr.File))
	copy(files, zr.File)
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var out []Entry
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("trace: open component %q: %w", f.Name, err)
		}
		entries, err := ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("trace: component %q: %w", f.Name, err)
		}
		out = append(out, entries...)
	}
	return out, nil
}
