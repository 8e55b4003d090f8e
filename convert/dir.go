package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/probelab/retrace/modmap"
	"github.com/probelab/retrace/trace"
)

// RawSuffix is the file name suffix of per-thread raw streams in a raw
// directory.
const RawSuffix = ".raw"

// StreamResult is the outcome of converting one raw stream. Failures are
// per-stream; one broken thread file does not stop the others.
type StreamResult struct {
	Input  string
	Output string
	Stats  Stats
	Err    error
}

// ConvertDir converts every raw stream in inDir into outDir. The module map
// is loaded once from inDir's module list and shared read-only across a
// bounded pool of workers, one converter instance per stream. Results come
// back ordered by input name. The returned error covers setup only;
// per-stream failures are reported in the results.
func ConvertDir(ctx context.Context, inDir, outDir string, cfg Config) ([]StreamResult, error) {
	oracle, err := modmap.Load(inDir, cfg.AltModuleDir, modmap.ARM64Decoder{})
	if err != nil {
		return nil, err
	}
	return ConvertDirWithOracle(ctx, inDir, outDir, oracle, cfg)
}

// ConvertDirWithOracle is ConvertDir with a caller-supplied oracle. Tools
// and tests substitute a synthetic oracle for the module map.
func ConvertDirWithOracle(ctx context.Context, inDir, outDir string, oracle modmap.Oracle, cfg Config) ([]StreamResult, error) {
	names, err := rawStreams(inDir)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("convert: no %s streams in %s", RawSuffix, inDir)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}

	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(names) {
		workers = len(names)
	}
	Logger().Info("converting raw directory",
		zap.String("in", inDir),
		zap.String("out", outDir),
		zap.Int("streams", len(names)),
		zap.Int("workers", workers))

	results := make([]StreamResult, len(names))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = convertStream(ctx, filepath.Join(inDir, names[i]), outDir, oracle, cfg)
			}
		}()
	}
feed:
	for i := range names {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// convertStream converts one raw file. Chunked conversions produce a zip
// archive with one component per chunk; unchunked ones a flat trace file.
func convertStream(ctx context.Context, inPath, outDir string, oracle modmap.Oracle, cfg Config) StreamResult {
	res := StreamResult{Input: inPath}
	stem := strings.TrimSuffix(filepath.Base(inPath), RawSuffix)
	if cfg.ChunkInstrCount > 0 {
		res.Output = filepath.Join(outDir, stem+".trace.zip")
	} else {
		res.Output = filepath.Join(outDir, stem+".trace")
	}

	in, err := os.Open(inPath)
	if err != nil {
		res.Err = err
		return res
	}
	defer in.Close()

	out, err := os.Create(res.Output)
	if err != nil {
		res.Err = err
		return res
	}

	var sink trace.Sink
	var closeSink func() error
	if cfg.ChunkInstrCount > 0 {
		a := trace.NewArchive(out)
		if err := a.OpenNewComponent(trace.ChunkName(0)); err != nil {
			res.Err = err
			out.Close()
			return res
		}
		sink = a
		closeSink = a.Close
	} else {
		w := trace.NewWriter(out)
		sink = w
		closeSink = w.Flush
	}

	res.Stats, res.Err = New(in, sink, oracle, cfg).Run(ctx)
	if err := closeSink(); err != nil && res.Err == nil {
		res.Err = err
	}
	if err := out.Close(); err != nil && res.Err == nil {
		res.Err = err
	}
	if res.Err != nil {
		// Do not leave a half-written trace behind.
		os.Remove(res.Output)
		Logger().Warn("stream failed",
			zap.String("input", inPath),
			zap.Error(res.Err))
	}
	return res
}

func rawStreams(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), RawSuffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
