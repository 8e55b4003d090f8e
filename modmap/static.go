package modmap

import "fmt"

// Static is a synthetic Oracle over a hand-built program. It backs converter
// tests and the CLI self-test, standing in for a real module map the same way
// across runs: instructions are laid out contiguously from a base address and
// resolved by module offset.
type Static struct {
	base  uint64
	next  uint64
	atOff map[uint64]Instr
}

// NewStatic creates an empty static program based at base.
func NewStatic(base uint64) *Static {
	return &Static{base: base, next: base, atOff: make(map[uint64]Instr)}
}

// Append places in at the next free address, filling in Addr, and returns the
// instruction's module offset.
func (s *Static) Append(in Instr) uint64 {
	in.Addr = s.next
	off := s.next - s.base
	s.atOff[off] = in
	s.next += uint64(in.Len)
	return off
}

// DecodeBlock implements Oracle.
func (s *Static) DecodeBlock(modIdx uint16, offset uint64, count int) ([]Instr, error) {
	if modIdx != 0 {
		return nil, fmt.Errorf("modmap: static oracle has no module %d", modIdx)
	}
	out := make([]Instr, 0, count)
	for i := 0; i < count; i++ {
		in, ok := s.atOff[offset]
		if !ok {
			return nil, fmt.Errorf("modmap: static oracle: no instruction at offset 0x%x", offset)
		}
		out = append(out, in)
		offset += uint64(in.Len)
	}
	return out, nil
}
