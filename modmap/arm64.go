package modmap

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

// ARM64 instruction decoding. Control-flow classification and branch targets
// come from the fixed 32-bit encodings directly; mnemonic-level detail for
// memory operand detection comes from golang.org/x/arch.

// ARM64Decoder decodes AArch64 instructions.
type ARM64Decoder struct{}

// DecodeOne decodes the instruction at the start of data, which must hold at
// least 4 bytes.
func (ARM64Decoder) DecodeOne(data []byte, addr uint64) (Instr, error) {
	if len(data) < 4 {
		return Instr{}, fmt.Errorf("arm64: short read at 0x%x: %d bytes", addr, len(data))
	}
	raw := binary.LittleEndian.Uint32(data[:4])
	in := Instr{
		Addr: addr,
		Len:  4,
		Enc:  append([]byte(nil), data[:4]...),
	}
	in.Kind, in.Target = classifyARM64(raw, addr)
	if in.Kind == KindPlain {
		in.Mem = arm64MemOps(data[:4])
	}
	return in, nil
}

// classifyARM64 classifies a raw AArch64 word and computes the taken-edge
// target for direct branches.
func classifyARM64(raw uint32, pc uint64) (Kind, uint64) {
	// RET / BR / BLR: 1101011 opc Rn 00000
	if raw&0xFFFFFC1F == 0xD65F0000 || raw&0xFFFFFC1F == 0xD61F0000 ||
		raw&0xFFFFFC1F == 0xD63F0000 {
		return KindIndirectJump, 0
	}
	// SVC #imm16
	if raw&0xFFE0001F == 0xD4000001 {
		return KindSyscall, 0
	}
	// B / BL: x00101 imm26
	if raw&0x7C000000 == 0x14000000 {
		off := int64(signExtend(raw&0x03FFFFFF, 26)) * 4
		return KindDirectJump, uint64(int64(pc) + off)
	}
	// B.cond: 01010100 imm19 0 cond
	if raw&0xFF000010 == 0x54000000 {
		off := int64(signExtend((raw>>5)&0x7FFFF, 19)) * 4
		return KindCondJump, uint64(int64(pc) + off)
	}
	// CBZ / CBNZ: x011010x imm19 Rt
	if raw&0x7E000000 == 0x34000000 {
		off := int64(signExtend((raw>>5)&0x7FFFF, 19)) * 4
		return KindCondJump, uint64(int64(pc) + off)
	}
	// TBZ / TBNZ: x011011x b40 imm14 Rt
	if raw&0x7E000000 == 0x36000000 {
		off := int64(signExtend((raw>>5)&0x3FFF, 14)) * 4
		return KindCondJump, uint64(int64(pc) + off)
	}
	return KindPlain, 0
}

// signExtend sign-extends a value from the given bit width.
func signExtend(val uint32, bits int) int32 {
	sign := uint32(1) << (bits - 1)
	mask := sign - 1
	if val&sign != 0 {
		return int32(val | ^mask)
	}
	return int32(val & mask)
}

// arm64MemOps derives explicit memory operands from the mnemonic. Loads map
// to reads, stores to writes, and pair instructions produce two operands.
// Operand sizes follow the register width of the transfer.
func arm64MemOps(data []byte) []MemOp {
	inst, err := arm64asm.Decode(data)
	if err != nil {
		return nil
	}
	op := inst.Op.String()
	size := arm64OpSize(op, inst)
	switch {
	case strings.HasPrefix(op, "LDP"):
		return []MemOp{{Size: size}, {Size: size}}
	case strings.HasPrefix(op, "STP"):
		return []MemOp{{Write: true, Size: size}, {Write: true, Size: size}}
	case strings.HasPrefix(op, "LD"):
		return []MemOp{{Size: size}}
	case strings.HasPrefix(op, "ST"):
		return []MemOp{{Write: true, Size: size}}
	}
	return nil
}

// arm64OpSize guesses the transfer size from the mnemonic suffix and the
// destination register class. Byte and halfword variants encode the size in
// the mnemonic; otherwise the first register operand decides 4 vs 8 bytes.
func arm64OpSize(op string, inst arm64asm.Inst) uint16 {
	switch {
	case strings.HasSuffix(op, "B") && !strings.HasSuffix(op, "SB"):
		return 1
	case strings.HasSuffix(op, "SB"):
		return 1
	case strings.HasSuffix(op, "H") && !strings.HasSuffix(op, "SH"):
		return 2
	case strings.HasSuffix(op, "SH"):
		return 2
	case strings.HasSuffix(op, "SW"):
		return 4
	}
	if len(inst.Args) > 0 {
		if r, ok := inst.Args[0].(arm64asm.Reg); ok && r >= arm64asm.W0 && r <= arm64asm.WZR {
			return 4
		}
	}
	return 8
}
