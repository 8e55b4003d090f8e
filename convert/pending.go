package convert

import (
	"github.com/probelab/retrace/modmap"
	"github.com/probelab/retrace/trace"
)

// pendingBranch holds the last instruction of a block when that instruction
// is a branch. Whether the branch needs a synthetic continuation, and where
// its encoding lands relative to a chunk boundary, depends on what the stream
// produces next, so emission is delayed until the following block arrives or
// the stream forces a flush (window marker, kernel transfer, or end of
// stream). Scheduling markers are never delayed; they pass ahead of the hold.
type pendingBranch struct {
	active bool

	modIdx uint16
	offset uint64 // module offset of the branch, for the encoding cache
	instr  modmap.Instr
	mems   []uint64 // operand addresses, consumed at hold time

	// Function markers observed while the branch was held. They describe the
	// call the branch performs and must follow it in the output.
	trailing []trace.Entry
}

func (p *pendingBranch) hold(modIdx uint16, offset uint64, in modmap.Instr, mems []uint64) {
	p.active = true
	p.modIdx = modIdx
	p.offset = offset
	p.instr = in
	p.mems = mems
	p.trailing = p.trailing[:0]
}

func (p *pendingBranch) attach(e trace.Entry) {
	p.trailing = append(p.trailing, e)
}

func (p *pendingBranch) clear() {
	p.active = false
	p.trailing = p.trailing[:0]
}
