package convert

import (
	"github.com/probelab/retrace/errors"
	"github.com/probelab/retrace/modmap"
	"github.com/probelab/retrace/raw"
	"github.com/probelab/retrace/trace"
)

// kindToType maps an oracle control-flow kind onto the structured instruction
// entry type.
func kindToType(k modmap.Kind) trace.Type {
	switch k {
	case modmap.KindCondJump:
		return trace.TypeInstrCond
	case modmap.KindDirectJump:
		return trace.TypeInstrDirect
	case modmap.KindIndirectJump:
		return trace.TypeInstrIndirect
	case modmap.KindSyscall:
		return trace.TypeInstrSyscall
	}
	return trace.TypeInstr
}

// emitInstr appends one instruction to the chunk buffer: encoding records if
// the address is not in the chunk's encoding cache, the instruction entry,
// then one Read or Write entry per memory operand. It returns the buffer
// range the instruction occupies and records it with the active region.
func (c *Converter) emitInstr(modIdx uint16, offset uint64, in modmap.Instr, mems []uint64) (int, int) {
	start := c.cw.checkpoint()
	key := encKey{mod: modIdx, addr: offset}
	if !c.cw.cached(key) {
		for _, enc := range trace.Encodings(in.Enc) {
			c.cw.addCached(key, c.cw.checkpoint())
			c.cw.append(enc)
		}
	}
	c.cw.append(trace.Entry{
		Type: kindToType(in.Kind),
		Size: uint16(in.Len),
		Addr: in.Addr,
	})
	c.cw.noteInstr()
	for i, op := range in.Mem {
		t := trace.TypeRead
		if op.Write {
			t = trace.TypeWrite
		}
		c.cw.append(trace.Entry{Type: t, Size: op.Size, Addr: mems[i]})
	}
	end := c.cw.checkpoint()
	if c.region.active {
		c.region.record(start, end, modIdx, offset, in)
	}
	return start, end
}

// flushPending emits the held branch with its trailing markers. The encoding
// cache is consulted now, not at hold time, so a branch flushed into a fresh
// chunk re-emits its encoding.
func (c *Converter) flushPending() {
	if !c.pending.active {
		return
	}
	p := &c.pending
	c.emitInstr(p.modIdx, p.offset, p.instr, p.mems)
	for _, m := range p.trailing {
		c.cw.append(m)
	}
	p.clear()
}

// maybeBoundary closes the chunk when the instruction threshold is reached.
// Boundaries are only taken while no branch is held and no region is active,
// so region checkpoints never point past a flush.
func (c *Converter) maybeBoundary() error {
	if c.pending.active || c.region.active || !c.cw.boundaryDue() {
		return nil
	}
	if err := c.cw.boundary(); err != nil {
		return errors.New(errors.PhaseChunk, errors.KindInvariant).
			Record(c.in.Position()).Cause(err).Build()
	}
	return nil
}

// pullMemRefs consumes n memory reference entries that must directly follow
// the current block entry.
func (c *Converter) pullMemRefs(n int) ([]uint64, error) {
	addrs := make([]uint64, n)
	for i := 0; i < n; i++ {
		e, err := c.next()
		if err != nil {
			return nil, errors.Truncated(c.in.Position(), err)
		}
		if e.Type != raw.TypeMemRef {
			return nil, errors.Malformed(errors.PhaseExpand, c.in.Position(),
				"expected memref, got %s", e.Type)
		}
		addrs[i] = e.Value
	}
	return addrs, nil
}

// processBlock expands one block entry into instruction, encoding and memory
// operand records. A held branch from the previous block is resolved first,
// which is also the only point where a due chunk boundary between blocks is
// taken, so a branch never ends a chunk.
func (c *Converter) processBlock(e raw.Entry) error {
	if err := c.ensurePreamble(); err != nil {
		return err
	}
	c.flushPending()
	if err := c.maybeBoundary(); err != nil {
		return err
	}

	if e.Count == 0 {
		return errors.Malformed(errors.PhaseExpand, c.in.Position(), "empty block")
	}
	instrs, err := c.oracle.DecodeBlock(e.ModIdx, e.Value, int(e.Count))
	if err != nil {
		return errors.Unresolved(int(e.ModIdx), e.Value, err)
	}
	start := instrs[0].Addr

	if c.region.active {
		switch {
		case start == c.region.end:
			// Execution reached the commit point. Everything speculative
			// becomes permanent.
			c.region.close()
		case c.region.expectNext != 0 && start != c.region.expectNext:
			if err := c.sideExit(start); err != nil {
				return err
			}
		}
	}

	// A context switch back into the same block re-records a trailing
	// syscall. Drop the duplicate when only scheduling entries intervened.
	if e.Count == 1 && c.schedOnly && c.prevTail.valid &&
		start == c.prevTail.addr && instrs[0].Kind == modmap.KindSyscall {
		return nil
	}

	for i := range instrs {
		in := instrs[i]
		offset := e.Value + (in.Addr - start)
		var mems []uint64
		if len(in.Mem) > 0 {
			mems, err = c.pullMemRefs(len(in.Mem))
			if err != nil {
				return err
			}
		}
		if i == len(instrs)-1 && in.Kind.IsBranch() {
			c.pending.hold(e.ModIdx, offset, in, mems)
			continue
		}
		// The chunk closes before the instruction that would exceed the
		// threshold, so a stream ending exactly at the threshold does not
		// leave a trailing chunk holding only the closing records.
		if err := c.maybeBoundary(); err != nil {
			return err
		}
		c.emitInstr(e.ModIdx, offset, in, mems)
	}

	tail := instrs[len(instrs)-1]
	c.prevTail = tailState{addr: tail.Addr, kind: tail.Kind, valid: true}
	if c.region.active {
		if tail.Kind.IsBranch() {
			c.region.expectNext = 0
		} else {
			c.region.expectNext = tail.Addr + uint64(tail.Len)
		}
	}
	return nil
}

// sideExit handles control flow leaving an active region before its commit
// point. The region tail is scanned backward for the conditional branch that
// left: one whose taken target is the resume address (truncate after it), or
// one whose fallthrough instruction is a direct jump to the resume address
// (truncate after it and synthesize the jump, which the probe never recorded
// because the region tail was unlinked). With no matching branch the whole
// speculative tail is discarded.
func (c *Converter) sideExit(resume uint64) error {
	for i := len(c.region.instrs) - 1; i >= 0; i-- {
		ri := c.region.instrs[i]
		if ri.instr.Kind != modmap.KindCondJump {
			continue
		}
		if ri.instr.Target == resume {
			c.cw.truncate(ri.end)
			c.region.close()
			return nil
		}
		ftOff := ri.offset + uint64(ri.instr.Len)
		ft, err := c.oracle.DecodeBlock(ri.modIdx, ftOff, 1)
		if err == nil && len(ft) == 1 &&
			ft[0].Kind == modmap.KindDirectJump && ft[0].Target == resume {
			c.cw.truncate(ri.end)
			c.region.close()
			c.emitInstr(ri.modIdx, ftOff, ft[0], nil)
			return nil
		}
	}
	c.cw.truncate(c.region.checkpoint)
	c.region.close()
	return nil
}

// handleAbort rolls back the committing store of an aborted restartable
// sequence: its encoding records, the instruction entry, and its memory
// operand entries. Markers emitted after the store stay in place. Streams
// from older probes mark the abort without a region entry; the rollback then
// targets the last instruction in the chunk buffer.
func (c *Converter) handleAbort(value uint64) {
	c.flushPending()
	if c.region.active {
		if ri, ok := c.region.last(); ok {
			c.cw.removeRange(ri.start, ri.end)
			c.region.dropLast()
		}
		c.cw.append(trace.Marker(trace.MarkerRseqAbort, value))
		c.region.close()
		return
	}
	c.rollbackLastInstr()
	c.cw.append(trace.Marker(trace.MarkerRseqAbort, value))
}

// rollbackLastInstr removes the last instruction in the chunk buffer together
// with the encoding records before it and the operand records after it.
func (c *Converter) rollbackLastInstr() {
	buf := c.cw.buf
	i := len(buf) - 1
	for i >= 0 && !buf[i].Type.IsInstr() {
		i--
	}
	if i < 0 {
		return
	}
	start := i
	for start > 0 && buf[start-1].Type == trace.TypeEncoding {
		start--
	}
	end := i + 1
	for end < len(buf) && (buf[end].Type == trace.TypeRead || buf[end].Type == trace.TypeWrite) {
		end++
	}
	c.cw.removeRange(start, end)
}
