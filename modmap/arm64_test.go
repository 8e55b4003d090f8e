package modmap_test

import (
	"encoding/binary"
	"testing"

	"github.com/probelab/retrace/modmap"
)

func word(w uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], w)
	return buf[:]
}

func TestARM64Classify(t *testing.T) {
	const pc = 0x40_0000
	tests := []struct {
		name   string
		raw    uint32
		kind   modmap.Kind
		target uint64
	}{
		{"nop", 0xD503201F, modmap.KindPlain, 0},
		{"add", 0x8B010000, modmap.KindPlain, 0},
		{"ret", 0xD65F03C0, modmap.KindIndirectJump, 0},
		{"br", 0xD61F0020, modmap.KindIndirectJump, 0},
		{"blr", 0xD63F0020, modmap.KindIndirectJump, 0},
		{"svc", 0xD4000001, modmap.KindSyscall, 0},
		{"b forward", 0x14000002, modmap.KindDirectJump, pc + 8},
		{"b backward", 0x17FFFFFF, modmap.KindDirectJump, pc - 4},
		{"bl", 0x94000002, modmap.KindDirectJump, pc + 8},
		{"b.eq", 0x54000080, modmap.KindCondJump, pc + 16},
		{"cbz", 0x34000040, modmap.KindCondJump, pc + 8},
		{"cbnz x", 0xB5000041, modmap.KindCondJump, pc + 8},
		{"tbz", 0x36000040, modmap.KindCondJump, pc + 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := modmap.ARM64Decoder{}.DecodeOne(word(tt.raw), pc)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if in.Kind != tt.kind {
				t.Fatalf("got kind %v, want %v", in.Kind, tt.kind)
			}
			if in.Target != tt.target {
				t.Errorf("got target 0x%x, want 0x%x", in.Target, tt.target)
			}
			if in.Addr != pc || in.Len != 4 {
				t.Errorf("addr 0x%x len %d", in.Addr, in.Len)
			}
			if len(in.Enc) != 4 {
				t.Errorf("encoding has %d bytes", len(in.Enc))
			}
		})
	}
}

func TestARM64MemOps(t *testing.T) {
	tests := []struct {
		name string
		raw  uint32
		want []modmap.MemOp
	}{
		{"nop", 0xD503201F, nil},
		{"ldr x", 0xF9400020, []modmap.MemOp{{Size: 8}}},
		{"ldr w", 0xB9400020, []modmap.MemOp{{Size: 4}}},
		{"ldrb", 0x39400020, []modmap.MemOp{{Size: 1}}},
		{"str x", 0xF9000020, []modmap.MemOp{{Write: true, Size: 8}}},
		{"stp", 0xA90007E0, []modmap.MemOp{{Write: true, Size: 8}, {Write: true, Size: 8}}},
		{"ldp", 0xA94007E0, []modmap.MemOp{{Size: 8}, {Size: 8}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := modmap.ARM64Decoder{}.DecodeOne(word(tt.raw), 0x1000)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(in.Mem) != len(tt.want) {
				t.Fatalf("got %d memops, want %d", len(in.Mem), len(tt.want))
			}
			for i := range in.Mem {
				if in.Mem[i] != tt.want[i] {
					t.Errorf("memop %d: got %+v, want %+v", i, in.Mem[i], tt.want[i])
				}
			}
		})
	}
}

func TestARM64ShortRead(t *testing.T) {
	if _, err := (modmap.ARM64Decoder{}).DecodeOne([]byte{0x1f, 0x20}, 0); err == nil {
		t.Fatal("expected an error for a short read")
	}
}
