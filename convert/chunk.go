package convert

import (
	"go.uber.org/zap"

	"github.com/probelab/retrace/trace"
)

// chunkWriter owns the output stream's tail. Entries accumulate in an
// in-memory buffer that remains truncatable (for rseq rollback) until the
// next chunk boundary or the end of the stream hardens it into the sink. The
// encoding cache is scoped to the current chunk and cleared at boundaries.
type chunkWriter struct {
	sink   trace.Sink
	comp   trace.ComponentSink // non-nil when the sink is chunk-addressable
	target uint64              // instructions per chunk, 0 disables chunking

	buf  []trace.Entry
	encs []encRef

	cache       map[encKey]struct{}
	chunkInstrs uint64
	instrs      uint64 // stream total, rollbacks subtracted
	flushed     uint64 // records already hardened into the sink
	chunkIdx    int

	lastTimestamp uint64
	lastCPU       uint64
}

// encKey identifies a cached instruction encoding within one chunk.
type encKey struct {
	mod  uint16
	addr uint64
}

// encRef remembers where a cached encoding sits in the buffer so truncation
// can evict it again.
type encRef struct {
	idx int
	key encKey
}

func newChunkWriter(sink trace.Sink, target uint64) *chunkWriter {
	w := &chunkWriter{
		sink:   sink,
		target: target,
		cache:  make(map[encKey]struct{}),
	}
	if cs, ok := sink.(trace.ComponentSink); ok {
		w.comp = cs
	}
	return w
}

func (w *chunkWriter) append(entries ...trace.Entry) {
	w.buf = append(w.buf, entries...)
}

// total returns the absolute record count: hardened plus buffered.
func (w *chunkWriter) total() uint64 {
	return w.flushed + uint64(len(w.buf))
}

// checkpoint returns an index into the buffered tail. Valid until the next
// flush, which only happens at points where no truncation can be in flight.
func (w *chunkWriter) checkpoint() int {
	return len(w.buf)
}

func (w *chunkWriter) cached(k encKey) bool {
	_, ok := w.cache[k]
	return ok
}

func (w *chunkWriter) addCached(k encKey, idx int) {
	w.cache[k] = struct{}{}
	w.encs = append(w.encs, encRef{idx: idx, key: k})
}

func (w *chunkWriter) noteInstr() {
	w.chunkInstrs++
	w.instrs++
}

// truncate discards every buffered entry from index from onward, evicting
// the encodings it drops from the cache and uncounting its instructions.
func (w *chunkWriter) truncate(from int) {
	w.removeRange(from, len(w.buf))
}

// removeRange splices [start, end) out of the buffered tail. Cache entries
// for dropped encodings are evicted so a later re-execution re-emits them,
// and dropped instructions no longer count toward the chunk threshold.
func (w *chunkWriter) removeRange(start, end int) {
	if start >= end {
		return
	}
	for _, e := range w.buf[start:end] {
		if e.Type.IsInstr() {
			w.chunkInstrs--
			w.instrs--
		}
	}
	kept := w.encs[:0]
	for _, er := range w.encs {
		switch {
		case er.idx < start:
			kept = append(kept, er)
		case er.idx >= end:
			er.idx -= end - start
			kept = append(kept, er)
		default:
			delete(w.cache, er.key)
		}
	}
	w.encs = kept
	w.buf = append(w.buf[:start], w.buf[end:]...)
}

// boundaryDue reports whether the chunk instruction threshold is reached.
func (w *chunkWriter) boundaryDue() bool {
	return w.target > 0 && w.chunkInstrs >= w.target
}

// boundary closes the current chunk: footer and ordinal markers, flush,
// a fresh component on chunk-addressable sinks, a re-emitted scheduling
// context for the new chunk, and a cleared encoding cache.
func (w *chunkWriter) boundary() error {
	w.append(trace.Marker(trace.MarkerChunkFooter, uint64(w.chunkIdx)))
	w.append(trace.Marker(trace.MarkerRecordOrdinal, w.total()))
	if err := w.flush(); err != nil {
		return err
	}
	w.chunkIdx++
	if w.comp != nil {
		if err := w.comp.OpenNewComponent(trace.ChunkName(w.chunkIdx)); err != nil {
			return err
		}
	}
	w.append(trace.Marker(trace.MarkerTimestamp, w.lastTimestamp))
	w.append(trace.Marker(trace.MarkerCPUID, w.lastCPU))
	w.cache = make(map[encKey]struct{})
	w.encs = w.encs[:0]
	w.chunkInstrs = 0
	Logger().Debug("chunk boundary",
		zap.Int("chunk", w.chunkIdx),
		zap.Uint64("records", w.flushed))
	return nil
}

// flush hardens the buffered tail into the sink. Callers only flush when no
// truncation can still reach the buffered entries.
func (w *chunkWriter) flush() error {
	for _, e := range w.buf {
		if err := w.sink.WriteEntry(e); err != nil {
			return err
		}
	}
	w.flushed += uint64(len(w.buf))
	w.buf = w.buf[:0]
	w.encs = w.encs[:0]
	return nil
}
