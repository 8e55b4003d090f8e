package raw

import (
	"errors"
	"fmt"
	"io"
)

// ErrTruncated is returned when a stream ends in the middle of an entry.
var ErrTruncated = errors.New("raw: truncated stream")

// Reader decodes raw entries from a byte stream with position tracking.
type Reader struct {
	r   io.Reader
	buf [EntrySize]byte
	pos int // entries consumed so far
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Position returns the number of entries consumed so far.
func (r *Reader) Position() int {
	return r.pos
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

// EncodeAll encodes entries into one contiguous buffer. It is the inverse of
// reading a full stream and exists for tools and tests that synthesize raw
// input.
func EncodeAll(entries []Entry) []byte {
	buf := make([]byte, 0, len(entries)*EntrySize)
	for _, e := range entries {
		buf = e.Encode(buf)
	}
	return buf
}
