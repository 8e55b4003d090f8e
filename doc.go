// Package retrace converts compact raw instruction-execution records into
// self-describing structured execution traces.
//
// A lightweight runtime probe records each thread's execution as a stream of
// fixed-size entries: blocks of sequentially executed instructions identified
// by module and offset, memory operand addresses, timestamps and out-of-band
// markers. That format is cheap to write but useless to analyze directly;
// nothing in it says what the instructions are. The converter expands each
// block through a decode oracle over the recorded modules and emits one
// self-contained record per instruction, with its encoding bytes, control-flow
// classification and memory operands inline.
//
// # Architecture Overview
//
// The module is organized into several packages with distinct
// responsibilities:
//
//	retrace/
//	├── raw/       Raw entry format: fixed-size tagged records and a Reader
//	├── trace/     Structured entry format: codec, markers, sequential and
//	│              chunk-archived sinks, Reader
//	├── modmap/    Module map and decode oracles (ARM64, synthetic Static)
//	├── convert/   The converter: block expansion, branch buffering,
//	│              restartable-sequence rollback, chunked output
//	├── errors/    Structured error types for diagnosing broken streams
//	└── cmd/       retrace CLI: convert, info, view
//
// # Quick Start
//
// Convert a raw directory:
//
//	results, err := convert.ConvertDir(ctx, rawDir, outDir, convert.Config{
//	    ChunkInstrCount: 10_000_000,
//	})
//
// Or drive a single stream by hand:
//
//	oracle, err := modmap.Load(rawDir, "", modmap.ARM64Decoder{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	c := convert.New(in, trace.NewWriter(out), oracle, convert.Config{})
//	stats, err := c.Run(ctx)
//
// # Ordering Guarantees
//
// The structured output upholds invariants that downstream consumers rely on:
// every instruction is preceded by its encoding records the first time its
// address appears in a chunk, memory operand records directly follow their
// instruction, chunk boundaries fall only between fully committed entries,
// and entries rolled back by an
// aborted restartable sequence are absent as if never emitted.
//
// # Thread Safety
//
// A Converter is single-threaded by design; one conversion is one sequential
// pass. Module maps and oracles are read-only and shared safely across the
// converters that ConvertDir runs concurrently.
package retrace
