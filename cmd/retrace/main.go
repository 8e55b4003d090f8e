package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"

	"github.com/probelab/retrace/convert"
	"github.com/probelab/retrace/trace"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "convert":
		err = cmdConvert(os.Args[2:])
	case "info":
		err = cmdInfo(os.Args[2:])
	case "view":
		err = cmdView(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: retrace convert -in <rawdir> -out <dir> [-chunk N] [-workers N] [-modules <dir>] [-v]")
	fmt.Fprintln(os.Stderr, "       retrace info -trace <file>")
	fmt.Fprintln(os.Stderr, "       retrace view -trace <file> [-i]  (-i for interactive mode)")
}

func cmdConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	var (
		inDir   = fs.String("in", "", "Raw trace directory (modules.list + *.raw)")
		outDir  = fs.String("out", "", "Output directory for structured traces")
		chunk   = fs.Uint64("chunk", 0, "Instructions per chunk (0 = single unbounded component)")
		workers = fs.Int("workers", 0, "Concurrent stream conversions (0 = NumCPU)")
		modules = fs.String("modules", "", "Override directory for module files")
		verbose = fs.Bool("v", false, "Verbose logging")
	)
	fs.Parse(args)

	if *inDir == "" || *outDir == "" {
		return fmt.Errorf("convert requires -in and -out")
	}
	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		defer logger.Sync()
		convert.SetLogger(logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results, err := convert.ConvertDir(ctx, *inDir, *outDir, convert.Config{
		ChunkInstrCount: *chunk,
		WorkerCount:     *workers,
		AltModuleDir:    *modules,
	})
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", r.Input, r.Err)
			continue
		}
		fmt.Printf("%s -> %s: %d instrs, %d records, %d chunks\n",
			r.Input, r.Output, r.Stats.Instrs, r.Stats.Records, r.Stats.Chunks)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d streams failed", failed, len(results))
	}
	return nil
}

// readTrace loads a structured trace, flat or chunk-archived.
func readTrace(path string) ([]trace.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.HasSuffix(path, ".zip") {
		st, err := f.Stat()
		if err != nil {
			return nil, err
		}
		return trace.ReadArchive(f, st.Size())
	}
	return trace.ReadAll(f)
}

func cmdInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	tracePath := fs.String("trace", "", "Structured trace file (.trace or .trace.zip)")
	fs.Parse(args)
	if *tracePath == "" {
		return fmt.Errorf("info requires -trace")
	}

	entries, err := readTrace(*tracePath)
	if err != nil {
		return err
	}

	var (
		instrs, reads, writes, encodings, markers int
		chunks                                    = 1
		tid, pid, version, filetype               uint64
		firstTS, lastTS                           uint64
	)
	for _, e := range entries {
		switch {
		case e.Type.IsInstr():
			instrs++
		case e.Type == trace.TypeRead:
			reads++
		case e.Type == trace.TypeWrite:
			writes++
		case e.Type == trace.TypeEncoding:
			encodings++
		case e.Type == trace.TypeThread:
			tid = e.Addr
		case e.Type == trace.TypePid:
			pid = e.Addr
		case e.Type == trace.TypeMarker:
			markers++
			switch e.MarkerType() {
			case trace.MarkerVersion:
				version = e.Addr
			case trace.MarkerFiletype:
				filetype = e.Addr
			case trace.MarkerChunkFooter:
				chunks++
			case trace.MarkerTimestamp:
				if firstTS == 0 {
					firstTS = e.Addr
				}
				lastTS = e.Addr
			}
		}
	}

	fmt.Printf("Trace: %s\n", *tracePath)
	fmt.Printf("Version: %d  Filetype: 0x%x\n", version, filetype)
	fmt.Printf("Thread: %d  Pid: %d\n", tid, pid)
	fmt.Printf("Records: %d\n", len(entries))
	fmt.Printf("Instructions: %d\n", instrs)
	fmt.Printf("Memory refs: %d reads, %d writes\n", reads, writes)
	fmt.Printf("Encodings: %d  Markers: %d  Chunks: %d\n", encodings, markers, chunks)
	if firstTS != 0 {
		fmt.Printf("Timestamps: %d .. %d (%d us)\n", firstTS, lastTS, lastTS-firstTS)
	}
	return nil
}

func cmdView(args []string) error {
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	var (
		tracePath   = fs.String("trace", "", "Structured trace file (.trace or .trace.zip)")
		interactive = fs.Bool("i", false, "Interactive mode with TUI")
	)
	fs.Parse(args)
	if *tracePath == "" {
		return fmt.Errorf("view requires -trace")
	}

	entries, err := readTrace(*tracePath)
	if err != nil {
		return err
	}

	if *interactive {
		return runInteractive(*tracePath, entries)
	}
	for i, e := range entries {
		fmt.Printf("%8d  %s\n", i, e)
	}
	return nil
}
