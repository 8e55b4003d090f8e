// Package trace defines the self-describing structured trace format produced
// by the converter, along with sequential and chunk-addressable sinks and a
// reader for analysis tools.
//
// A structured stream is a flat sequence of fixed-size Entry records. It opens
// with a mandatory preamble (Header, version and file-type markers, Thread,
// Pid, cache-line-size and chunk-instruction-count markers, in that order) and
// closes with ThreadExit then Footer. Ordering between entries is semantically
// load-bearing: every Instr is preceded by Encoding records for its address
// the first time that address appears in a chunk, and memory operand records
// directly follow their instruction.
package trace

import (
	"encoding/binary"
	"fmt"
)

// EntrySize is the fixed encoded size of every structured entry in bytes.
const EntrySize = 12

// Type discriminates structured entries. Instruction entries use a distinct
// type per control-flow kind so consumers can classify taken edges without
// decoding instruction bytes.
type Type uint16

const (
	TypeInvalid       Type = iota
	TypeHeader             // start of stream
	TypeThread             // thread id
	TypePid                // process id
	TypeMarker             // out-of-band marker, subtype in Size
	TypeEncoding           // instruction bytes, up to 8 per record
	TypeInstr              // plain instruction
	TypeInstrCond          // conditional jump
	TypeInstrDirect        // direct jump
	TypeInstrIndirect      // indirect jump
	TypeInstrSyscall       // system call
	TypeRead               // memory read operand
	TypeWrite              // memory write operand
	TypeThreadExit         // thread termination
	TypeFooter             // end of stream
)

func (t Type) String() string {
	switch t {
	case TypeHeader:
		return "header"
	case TypeThread:
		return "thread"
	case TypePid:
		return "pid"
	case TypeMarker:
		return "marker"
	case TypeEncoding:
		return "encoding"
	case TypeInstr:
		return "instr"
	case TypeInstrCond:
		return "instr_cond_jump"
	case TypeInstrDirect:
		return "instr_direct_jump"
	case TypeInstrIndirect:
		return "instr_indirect_jump"
	case TypeInstrSyscall:
		return "instr_syscall"
	case TypeRead:
		return "read"
	case TypeWrite:
		return "write"
	case TypeThreadExit:
		return "thread_exit"
	case TypeFooter:
		return "footer"
	}
	return fmt.Sprintf("trace.Type(%d)", uint16(t))
}

// IsInstr reports whether t is an instruction entry of any kind.
func (t Type) IsInstr() bool {
	return t >= TypeInstr && t <= TypeInstrSyscall
}

// MarkerType is the marker subtype carried in a marker entry's Size field.
type MarkerType uint16

const (
	MarkerInvalid         MarkerType = iota
	MarkerVersion                    // trace format version
	MarkerFiletype                   // file type flags from the probe
	MarkerCacheLineSize              // cache line size in bytes
	MarkerChunkInstrCount            // configured chunk instruction count, 0 = unbounded
	MarkerTimestamp                  // wall-clock microseconds
	MarkerCPUID                      // cpu the thread was running on
	MarkerFuncID                     // traced function identifier
	MarkerFuncRetAddr                // traced function return address
	MarkerFuncArg                    // traced function argument
	MarkerWindowID                   // tracing window ordinal
	MarkerRseqEntry                  // restartable sequence entered
	MarkerRseqAbort                  // restartable sequence aborted
	MarkerKernelEvent                // kernel-mediated transfer
	MarkerKernelXfer                 // return from kernel-mediated transfer
	MarkerChunkFooter                // end of a chunk
	MarkerRecordOrdinal              // absolute record count at the chunk boundary
)

func (m MarkerType) String() string {
	switch m {
	case MarkerVersion:
		return "version"
	case MarkerFiletype:
		return "filetype"
	case MarkerCacheLineSize:
		return "cache_line_size"
	case MarkerChunkInstrCount:
		return "chunk_instr_count"
	case MarkerTimestamp:
		return "timestamp"
	case MarkerCPUID:
		return "cpu_id"
	case MarkerFuncID:
		return "func_id"
	case MarkerFuncRetAddr:
		return "func_retaddr"
	case MarkerFuncArg:
		return "func_arg"
	case MarkerWindowID:
		return "window_id"
	case MarkerRseqEntry:
		return "rseq_entry"
	case MarkerRseqAbort:
		return "rseq_abort"
	case MarkerKernelEvent:
		return "kernel_event"
	case MarkerKernelXfer:
		return "kernel_xfer"
	case MarkerChunkFooter:
		return "chunk_footer"
	case MarkerRecordOrdinal:
		return "record_ordinal"
	}
	return fmt.Sprintf("trace.MarkerType(%d)", uint16(m))
}

// Version is the structured trace format version emitted in the preamble.
const Version = 1

// Entry is one structured record. Field use depends on Type:
//
//	Marker:      Size = subtype, Addr = value
//	Encoding:    Size = byte count (1..8), Addr = bytes, little-endian
//	Instr*:      Size = instruction length, Addr = instruction address
//	Read/Write:  Size = operand size, Addr = operand address
//	Thread/Pid:  Addr = id
//	others:      zero
type Entry struct {
	Type Type
	Size uint16
	Addr uint64
}

// MarkerType returns the marker subtype of a marker entry, or MarkerInvalid
// for any other entry type.
func (e Entry) MarkerType() MarkerType {
	if e.Type != TypeMarker {
		return MarkerInvalid
	}
	return MarkerType(e.Size)
}

// EncodingBytes returns the instruction bytes carried by an encoding entry.
func (e Entry) EncodingBytes() []byte {
	n := int(e.Size)
	if n > 8 {
		n = 8
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], e.Addr)
	return buf[:n]
}

func (e Entry) String() string {
	switch {
	case e.Type == TypeMarker:
		return fmt.Sprintf("marker:%s value=0x%x", e.MarkerType(), e.Addr)
	case e.Type == TypeEncoding:
		return fmt.Sprintf("encoding % x", e.EncodingBytes())
	case e.Type.IsInstr():
		return fmt.Sprintf("%s addr=0x%x len=%d", e.Type, e.Addr, e.Size)
	case e.Type == TypeRead || e.Type == TypeWrite:
		return fmt.Sprintf("%s addr=0x%x size=%d", e.Type, e.Addr, e.Size)
	case e.Type == TypeThread || e.Type == TypePid:
		return fmt.Sprintf("%s %d", e.Type, e.Addr)
	default:
		return e.Type.String()
	}
}

// Marker builds a marker entry.
func Marker(m MarkerType, value uint64) Entry {
	return Entry{Type: TypeMarker, Size: uint16(m), Addr: value}
}

// Encodings splits raw instruction bytes into encoding entries, 8 bytes per
// record. Variable-length architectures with long instructions produce more
// than one record per instruction.
func Encodings(bytes []byte) []Entry {
	var out []Entry
	for len(bytes) > 0 {
		n := len(bytes)
		if n > 8 {
			n = 8
		}
		var buf [8]byte
		copy(buf[:], bytes[:n])
		out = append(out, Entry{
			Type: TypeEncoding,
			Size: uint16(n),
			Addr: binary.LittleEndian.Uint64(buf[:]),
		})
		bytes = bytes[n:]
	}
	return out
}

// Binary layout, little-endian:
//
//	[0:2]   Type
//	[2:4]   Size
//	[4:12]  Addr

// Encode appends the fixed-size encoding of e to dst and returns the
// extended slice.
func (e Entry) Encode(dst []byte) []byte {
	var buf [EntrySize]byte
	binary.LittleEndian.PutUint16(buf[0:2], uint16(e.Type))
	binary.LittleEndian.PutUint16(buf[2:4], e.Size)
	binary.LittleEndian.PutUint64(buf[4:12], e.Addr)
	return append(dst, buf[:]...)
}

// DecodeEntry decodes one entry from the first EntrySize bytes of data.
func DecodeEntry(data []byte) (Entry, error) {
	if len(data) < EntrySize {
		return Entry{}, fmt.Errorf("trace: short entry: %d bytes", len(data))
	}
	e := Entry{
		Type: Type(binary.LittleEndian.Uint16(data[0:2])),
		Size: binary.LittleEndian.Uint16(data[2:4]),
		Addr: binary.LittleEndian.Uint64(data[4:12]),
	}
	if e.Type == TypeInvalid || e.Type > TypeFooter {
		return Entry{}, fmt.Errorf("trace: unknown entry type %d", uint16(e.Type))
	}
	if e.Type == TypeMarker && (e.MarkerType() == MarkerInvalid || e.MarkerType() > MarkerRecordOrdinal) {
		return Entry{}, fmt.Errorf("trace: unknown marker subtype %d", e.Size)
	}
	return e, nil
}
