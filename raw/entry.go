// Package raw defines the compact per-thread record format produced by the
// runtime instrumentation probe, and a reader for consuming record streams.
//
// Every record is a fixed EntrySize-byte tagged entry. A stream begins with a
// Header followed by ThreadID and ProcessID records, carries Block records
// (each describing a run of sequentially executed instructions) interleaved
// with MemRef, Timestamp and Marker records, and ends with a Footer.
package raw

import (
	"encoding/binary"
	"fmt"
)

// EntrySize is the fixed encoded size of every raw entry in bytes.
const EntrySize = 16

// Type is the record discriminant stored in the first byte of an entry.
type Type uint8

const (
	TypeInvalid   Type = iota
	TypeHeader         // file version and type flags
	TypeThread         // thread id
	TypePid            // process id
	TypeBlock          // run of executed instructions
	TypeMemRef         // memory operand address for the preceding block
	TypeTimestamp      // wall-clock microseconds
	TypeMarker         // out-of-band marker, see MarkerType
	TypeFooter         // end of stream
)

func (t Type) String() string {
	switch t {
	case TypeHeader:
		return "header"
	case TypeThread:
		return "thread"
	case TypePid:
		return "pid"
	case TypeBlock:
		return "block"
	case TypeMemRef:
		return "memref"
	case TypeTimestamp:
		return "timestamp"
	case TypeMarker:
		return "marker"
	case TypeFooter:
		return "footer"
	}
	return fmt.Sprintf("raw.Type(%d)", uint8(t))
}

// MarkerType is the marker subtype stored in the second byte of a marker
// entry. The probe emits scheduling context, call-boundary metadata and
// restartable-sequence region transitions as markers.
type MarkerType uint8

const (
	MarkerInvalid       MarkerType = iota
	MarkerCacheLineSize            // cache line size in bytes
	MarkerCPUID                    // cpu the thread was running on
	MarkerFuncID                   // traced function identifier
	MarkerFuncRetAddr              // traced function return address
	MarkerFuncArg                  // traced function argument
	MarkerWindowID                 // tracing window ordinal
	MarkerRseqEntry                // restartable sequence entered; value = commit address
	MarkerRseqAbort                // restartable sequence aborted; value = handler address
	MarkerKernelEvent              // kernel-mediated transfer (signal delivery, abort)
	MarkerKernelXfer               // return from a kernel-mediated transfer
)

func (m MarkerType) String() string {
	switch m {
	case MarkerCacheLineSize:
		return "cache_line_size"
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
	}
	return fmt.Sprintf("raw.MarkerType(%d)", uint8(m))
}

// Entry is one decoded raw record. Field use depends on Type:
//
//	Header:    Count = format version, Value = file type flags
//	Thread:    Value = thread id
//	Pid:       Value = process id
//	Block:     ModIdx = module index, Count = instruction count, Value = module offset
//	MemRef:    Value = operand address
//	Timestamp: Value = microseconds
//	Marker:    Marker = subtype, Value = marker value
//	Footer:    all zero
type Entry struct {
	Type   Type
	Marker MarkerType
	ModIdx uint16
	Count  uint32
	Value  uint64
}

// Binary layout, little-endian:
//
//	[0]     Type
//	[1]     Marker subtype
//	[2:4]   ModIdx
//	[4:8]   Count
//	[8:16]  Value

// Encode appends the fixed-size encoding of e to dst and returns the
// extended slice.
func (e Entry) Encode(dst []byte) []byte {
	var buf [EntrySize]byte
	buf[0] = byte(e.Type)
	buf[1] = byte(e.Marker)
	binary.LittleEndian.PutUint16(buf[2:4], e.ModIdx)
	binary.LittleEndian.PutUint32(buf[4:8], e.Count)
	binary.LittleEndian.PutUint64(buf[8:16], e.Value)
	return append(dst, buf[:]...)
}

// DecodeEntry decodes one entry from the first EntrySize bytes of data.
// The type and marker subtype are validated; callers get a useful error
// rather than a silently wrong record when the stream is corrupt.
func DecodeEntry(data []byte) (Entry, error) {
	if len(data) < EntrySize {
		return Entry{}, fmt.Errorf("raw: short entry: %d bytes", len(data))
	}
	e := Entry{
		Type:   Type(data[0]),
		Marker: MarkerType(data[1]),
		ModIdx: binary.LittleEndian.Uint16(data[2:4]),
		Count:  binary.LittleEndian.Uint32(data[4:8]),
		Value:  binary.LittleEndian.Uint64(data[8:16]),
	}
	if e.Type == TypeInvalid || e.Type > TypeFooter {
		return Entry{}, fmt.Errorf("raw: unknown entry type %d", data[0])
	}
	if e.Type == TypeMarker && (e.Marker == MarkerInvalid || e.Marker > MarkerKernelXfer) {
		return Entry{}, fmt.Errorf("raw: unknown marker subtype %d", data[1])
	}
	return e, nil
}

// Constructors for building raw streams (tools and tests).

// NewHeader returns a stream header entry.
func NewHeader(version uint32, filetype uint64) Entry {
	return Entry{Type: TypeHeader, Count: version, Value: filetype}
}

// NewThread returns a thread id entry.
func NewThread(tid uint64) Entry { return Entry{Type: TypeThread, Value: tid} }

// NewPid returns a process id entry.
func NewPid(pid uint64) Entry { return Entry{Type: TypePid, Value: pid} }

// NewBlock returns a block entry for count instructions starting at the
// given module offset.
func NewBlock(modIdx uint16, offset uint64, count uint32) Entry {
	return Entry{Type: TypeBlock, ModIdx: modIdx, Count: count, Value: offset}
}

// NewMemRef returns a memory operand address entry.
func NewMemRef(addr uint64) Entry { return Entry{Type: TypeMemRef, Value: addr} }

// NewTimestamp returns a timestamp entry.
func NewTimestamp(usec uint64) Entry { return Entry{Type: TypeTimestamp, Value: usec} }

// NewMarker returns a marker entry.
func NewMarker(m MarkerType, value uint64) Entry {
	return Entry{Type: TypeMarker, Marker: m, Value: value}
}

// NewFooter returns the end-of-stream entry.
func NewFooter() Entry { return Entry{Type: TypeFooter} }
