// Package convert turns raw per-thread record streams into structured traces.
//
// The converter is a single sequential pass: block entries are expanded into
// per-instruction records through a decode oracle, branches are buffered
// until the following block fixes their continuation, restartable-sequence
// regions keep the output tail revocable until they commit, and the chunk
// manager splits the stream into bounded components with a chunk-scoped
// encoding cache. Each Converter owns its mutable state; the oracle is shared
// read-only, so independent converters run concurrently over different
// threads of the same process.
package convert

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/probelab/retrace/errors"
	"github.com/probelab/retrace/modmap"
	"github.com/probelab/retrace/raw"
	"github.com/probelab/retrace/trace"
)

// DefaultCacheLineSize is used when a stream carries no cache line size
// marker of its own.
const DefaultCacheLineSize = 64

// Config controls a conversion.
type Config struct {
	// ChunkInstrCount splits the output into components of roughly this many
	// instructions. Zero produces a single unbounded component.
	ChunkInstrCount uint64

	// CacheLineSize overrides the preamble value for streams from probes
	// that did not record one. Zero means DefaultCacheLineSize.
	CacheLineSize uint64

	// WorkerCount bounds the goroutines used by ConvertDir. Zero means
	// runtime.NumCPU.
	WorkerCount int

	// AltModuleDir overrides the directory module paths are resolved
	// against, for converting traces recorded on another machine.
	AltModuleDir string
}

// Stats summarizes one converted stream.
type Stats struct {
	RawEntries int    // raw records consumed
	Records    uint64 // structured records written
	Instrs     uint64 // instruction records written, after rollbacks
	Chunks     int
}

// tailState remembers the last instruction of the previous block for
// duplicate-syscall suppression.
type tailState struct {
	addr  uint64
	kind  modmap.Kind
	valid bool
}

// Converter drives one raw stream to one structured stream.
type Converter struct {
	in     *raw.Reader
	peeked *raw.Entry
	cw     *chunkWriter
	oracle modmap.Oracle
	cfg    Config

	pending pendingBranch
	region  rseqRegion

	prevTail  tailState
	schedOnly bool // only scheduling entries since the last block

	preambleDone bool
	tid          uint64
	pid          uint64
}

// New creates a converter reading raw entries from r and writing structured
// entries to sink. Chunk boundaries open new components when sink implements
// trace.ComponentSink.
func New(r io.Reader, sink trace.Sink, oracle modmap.Oracle, cfg Config) *Converter {
	return &Converter{
		in:     raw.NewReader(r),
		cw:     newChunkWriter(sink, cfg.ChunkInstrCount),
		oracle: oracle,
		cfg:    cfg,
	}
}

func (c *Converter) next() (raw.Entry, error) {
	if c.peeked != nil {
		e := *c.peeked
		c.peeked = nil
		return e, nil
	}
	return c.in.Next()
}

// Run converts the whole stream. The input must be a complete raw stream;
// an io.EOF before the footer is reported as a truncation error.
func (c *Converter) Run(ctx context.Context) (Stats, error) {
	if err := c.header(); err != nil {
		return c.stats(), err
	}
	for {
		if err := ctx.Err(); err != nil {
			return c.stats(), err
		}
		e, err := c.next()
		if err == io.EOF {
			return c.stats(), errors.Truncated(c.in.Position(), io.ErrUnexpectedEOF)
		}
		if err != nil {
			return c.stats(), errors.Truncated(c.in.Position(), err)
		}
		done, err := c.dispatch(e)
		if err != nil {
			return c.stats(), err
		}
		if done {
			break
		}
	}
	if _, err := c.next(); err != io.EOF {
		return c.stats(), errors.Malformed(errors.PhaseParse, c.in.Position(),
			"data after footer")
	}
	Logger().Debug("stream converted",
		zap.Uint64("tid", c.tid),
		zap.Int("raw_entries", c.in.Position()),
		zap.Uint64("records", c.cw.total()),
		zap.Uint64("instrs", c.cw.instrs),
		zap.Int("chunks", c.cw.chunkIdx+1))
	return c.stats(), nil
}

func (c *Converter) stats() Stats {
	return Stats{
		RawEntries: c.in.Position(),
		Records:    c.cw.total(),
		Instrs:     c.cw.instrs,
		Chunks:     c.cw.chunkIdx + 1,
	}
}

// dispatch handles one raw entry. It reports true once the footer has been
// processed.
func (c *Converter) dispatch(e raw.Entry) (bool, error) {
	switch e.Type {
	case raw.TypeBlock:
		if err := c.processBlock(e); err != nil {
			return false, err
		}
		c.schedOnly = true
		return false, nil
	case raw.TypeMemRef:
		return false, errors.Malformed(errors.PhaseParse, c.in.Position(),
			"memref outside a block")
	case raw.TypeTimestamp:
		// Scheduling context passes ahead of any held branch.
		c.cw.append(trace.Marker(trace.MarkerTimestamp, e.Value))
		c.cw.lastTimestamp = e.Value
		return false, nil
	case raw.TypeMarker:
		if err := c.marker(e); err != nil {
			return false, err
		}
		if e.Marker != raw.MarkerCPUID {
			c.schedOnly = false
		}
		return false, nil
	case raw.TypeFooter:
		return true, c.finish()
	case raw.TypeHeader, raw.TypeThread, raw.TypePid:
		return false, errors.Malformed(errors.PhaseParse, c.in.Position(),
			"unexpected %s mid-stream", e.Type)
	}
	return false, errors.Malformed(errors.PhaseParse, c.in.Position(),
		"unhandled entry type %s", e.Type)
}

func (c *Converter) marker(e raw.Entry) error {
	switch e.Marker {
	case raw.MarkerCPUID:
		// Scheduling context passes ahead of any held branch.
		c.cw.append(trace.Marker(trace.MarkerCPUID, e.Value))
		c.cw.lastCPU = e.Value
	case raw.MarkerCacheLineSize:
		if err := c.preambleMarkers(e.Value); err != nil {
			return err
		}
	case raw.MarkerFuncID, raw.MarkerFuncRetAddr, raw.MarkerFuncArg:
		m := trace.Marker(funcMarker(e.Marker), e.Value)
		if c.pending.active {
			c.pending.attach(m)
		} else {
			c.cw.append(m)
		}
	case raw.MarkerWindowID:
		c.flushPending()
		c.cw.append(trace.Marker(trace.MarkerWindowID, e.Value))
	case raw.MarkerRseqEntry:
		c.flushPending()
		if err := c.maybeBoundary(); err != nil {
			return err
		}
		if c.region.active {
			return errors.New(errors.PhaseRegion, errors.KindInvariant).
				Record(c.in.Position()).Addr(e.Value).
				Detail("nested region entry").Build()
		}
		c.cw.append(trace.Marker(trace.MarkerRseqEntry, e.Value))
		c.region.open(e.Value, c.cw.checkpoint())
	case raw.MarkerRseqAbort:
		c.handleAbort(e.Value)
	case raw.MarkerKernelEvent:
		c.flushPending()
		if c.region.active {
			// A signal inside the region is a side exit; the resume address
			// is the marker value.
			if err := c.sideExit(e.Value); err != nil {
				return err
			}
		}
		c.cw.append(trace.Marker(trace.MarkerKernelEvent, e.Value))
	case raw.MarkerKernelXfer:
		c.flushPending()
		c.cw.append(trace.Marker(trace.MarkerKernelXfer, e.Value))
	default:
		return errors.Malformed(errors.PhaseParse, c.in.Position(),
			"unhandled marker %s", e.Marker)
	}
	return nil
}

func funcMarker(m raw.MarkerType) trace.MarkerType {
	switch m {
	case raw.MarkerFuncID:
		return trace.MarkerFuncID
	case raw.MarkerFuncRetAddr:
		return trace.MarkerFuncRetAddr
	default:
		return trace.MarkerFuncArg
	}
}

// header consumes the mandatory Header, Thread, Pid opening of the raw
// stream and emits the start of the structured preamble.
func (c *Converter) header() error {
	e, err := c.next()
	if err != nil {
		return errors.Truncated(c.in.Position(), err)
	}
	if e.Type != raw.TypeHeader {
		return errors.Malformed(errors.PhaseParse, c.in.Position(),
			"stream starts with %s, want header", e.Type)
	}
	c.cw.append(trace.Entry{Type: trace.TypeHeader})
	c.cw.append(trace.Marker(trace.MarkerVersion, trace.Version))
	c.cw.append(trace.Marker(trace.MarkerFiletype, e.Value))

	e, err = c.next()
	if err != nil {
		return errors.Truncated(c.in.Position(), err)
	}
	if e.Type != raw.TypeThread {
		return errors.Malformed(errors.PhaseParse, c.in.Position(),
			"want thread after header, got %s", e.Type)
	}
	c.tid = e.Value
	c.cw.append(trace.Entry{Type: trace.TypeThread, Addr: e.Value})

	e, err = c.next()
	if err != nil {
		return errors.Truncated(c.in.Position(), err)
	}
	if e.Type != raw.TypePid {
		return errors.Malformed(errors.PhaseParse, c.in.Position(),
			"want pid after thread, got %s", e.Type)
	}
	c.pid = e.Value
	c.cw.append(trace.Entry{Type: trace.TypePid, Addr: e.Value})
	return nil
}

// preambleMarkers completes the preamble with the cache line size and the
// configured chunk instruction count.
func (c *Converter) preambleMarkers(lineSize uint64) error {
	if c.preambleDone {
		return errors.Malformed(errors.PhaseParse, c.in.Position(),
			"duplicate cache line size marker")
	}
	c.cw.append(trace.Marker(trace.MarkerCacheLineSize, lineSize))
	c.cw.append(trace.Marker(trace.MarkerChunkInstrCount, c.cfg.ChunkInstrCount))
	c.preambleDone = true
	return nil
}

// ensurePreamble backfills preamble markers for streams from probes that
// never recorded a cache line size.
func (c *Converter) ensurePreamble() error {
	if c.preambleDone {
		return nil
	}
	size := c.cfg.CacheLineSize
	if size == 0 {
		size = DefaultCacheLineSize
	}
	return c.preambleMarkers(size)
}

// finish flushes the held branch, validates region state, and closes the
// stream with ThreadExit and Footer.
func (c *Converter) finish() error {
	c.flushPending()
	if c.region.active {
		return errors.Unterminated(c.region.end)
	}
	c.cw.append(trace.Entry{Type: trace.TypeThreadExit, Addr: c.tid})
	c.cw.append(trace.Entry{Type: trace.TypeFooter})
	if err := c.cw.flush(); err != nil {
		return errors.New(errors.PhaseWrite, errors.KindInvariant).
			Cause(err).Detail("final flush").Build()
	}
	return nil
}
