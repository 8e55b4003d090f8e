// Package modmap provides the decode oracle consulted by the converter: given
// a module index and offset, it resolves instruction descriptors (length,
// control-flow kind, raw bytes, explicit memory operands) against a read-only
// module map. The map and its oracles are safe for concurrent use by
// independent converter instances.
package modmap

import "fmt"

// Kind is the control-flow classification of an instruction. It is a closed
// set populated by the oracle; the converter maps it onto distinct structured
// entry types.
type Kind uint8

const (
	KindPlain        Kind = iota
	KindCondJump          // conditional branch, has a fallthrough edge
	KindDirectJump        // unconditional direct branch or call
	KindIndirectJump      // register branch, call or return
	KindSyscall           // system call
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindCondJump:
		return "cond_jump"
	case KindDirectJump:
		return "direct_jump"
	case KindIndirectJump:
		return "indirect_jump"
	case KindSyscall:
		return "syscall"
	}
	return fmt.Sprintf("modmap.Kind(%d)", uint8(k))
}

// IsBranch reports whether k transfers control.
func (k Kind) IsBranch() bool {
	return k == KindCondJump || k == KindDirectJump || k == KindIndirectJump
}

// MemOp is one explicit memory operand of an instruction. The operand address
// is not known statically; the probe records it as a separate memory
// reference entry in the raw stream.
type MemOp struct {
	Write bool
	Size  uint16
}

// Instr is one decoded instruction descriptor.
type Instr struct {
	Addr   uint64 // instruction address (module base + offset)
	Target uint64 // taken-edge target for direct branches, else 0
	Len    int
	Kind   Kind
	Enc    []byte // raw instruction bytes
	Mem    []MemOp
}

// Oracle resolves a run of instructions starting at a module offset. It must
// be deterministic for a given module and offset within one conversion, and
// must return exactly count descriptors or an error.
type Oracle interface {
	DecodeBlock(modIdx uint16, offset uint64, count int) ([]Instr, error)
}
