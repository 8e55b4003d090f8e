package convert

import (
	"github.com/probelab/retrace/modmap"
)

// regionInstr records one instruction emitted inside an active restartable
// sequence region, with the buffer range it occupies (encodings, the
// instruction entry, and its memory operand entries).
type regionInstr struct {
	start  int
	end    int
	modIdx uint16
	offset uint64
	instr  modmap.Instr
}

// rseqRegion tracks the speculative tail of the output while a restartable
// sequence is in flight. Entries emitted after the entry marker stay
// revocable: a clean commit keeps everything, an abort revokes the trailing
// committing store, and a side exit truncates back to the branch that left
// the region.
type rseqRegion struct {
	active bool
	end    uint64 // region end address from the entry marker

	// checkpoint is the buffer index right after the entry marker. Nothing
	// before it can be revoked.
	checkpoint int

	// expectNext is the address the region's own control flow should continue
	// at, derived from the previous in-region block's tail. Zero when the
	// tail was a branch or no in-region block has completed yet, in which
	// case the next block may legitimately start anywhere.
	expectNext uint64

	instrs []regionInstr
}

func (r *rseqRegion) open(end uint64, checkpoint int) {
	r.active = true
	r.end = end
	r.checkpoint = checkpoint
	r.expectNext = 0
	r.instrs = r.instrs[:0]
}

func (r *rseqRegion) close() {
	r.active = false
	r.expectNext = 0
	r.instrs = r.instrs[:0]
}

func (r *rseqRegion) record(start, end int, modIdx uint16, offset uint64, in modmap.Instr) {
	r.instrs = append(r.instrs, regionInstr{
		start:  start,
		end:    end,
		modIdx: modIdx,
		offset: offset,
		instr:  in,
	})
}

// last returns the most recent in-region instruction, if any.
func (r *rseqRegion) last() (regionInstr, bool) {
	if len(r.instrs) == 0 {
		return regionInstr{}, false
	}
	return r.instrs[len(r.instrs)-1], true
}

// dropLast removes the most recent in-region instruction record.
func (r *rseqRegion) dropLast() {
	r.instrs = r.instrs[:len(r.instrs)-1]
}
