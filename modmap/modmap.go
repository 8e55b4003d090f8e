package modmap

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ListFile is the module list file name expected inside a raw trace
// directory. Each non-comment line is "index base-hex filename".
const ListFile = "modules.list"

// Decoder decodes one instruction from raw bytes at a given address.
type Decoder interface {
	DecodeOne(data []byte, addr uint64) (Instr, error)
}

// Module is one mapped binary image.
type Module struct {
	Path string
	Base uint64
	Data []byte
}

// Map is a read-only module map implementing Oracle. It may be shared across
// concurrently running converter instances.
type Map struct {
	mods map[uint16]Module
	dec  Decoder
}

// NewMap builds a map over preloaded modules.
func NewMap(mods map[uint16]Module, dec Decoder) *Map {
	return &Map{mods: mods, dec: dec}
}

// Load reads the module list in dir and maps each referenced module file.
// When altDir is non-empty, module files are resolved there instead of at
// their recorded paths.
func Load(dir, altDir string, dec Decoder) (*Map, error) {
	f, err := os.Open(filepath.Join(dir, ListFile))
	if err != nil {
		return nil, fmt.Errorf("modmap: %w", err)
	}
	defer f.Close()

	mods := make(map[uint16]Module)
	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 3 {
			return nil, fmt.Errorf("modmap: %s:%d: want \"index base path\", got %q", ListFile, line, text)
		}
		idx, err := strconv.ParseUint(fields[0], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("modmap: %s:%d: bad index: %w", ListFile, line, err)
		}
		base, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("modmap: %s:%d: bad base: %w", ListFile, line, err)
		}
		path := fields[2]
		if altDir != "" {
			path = filepath.Join(altDir, filepath.Base(path))
		} else if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("modmap: module %d: %w", idx, err)
		}
		mods[uint16(idx)] = Module{Path: path, Base: base, Data: data}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("modmap: read %s: %w", ListFile, err)
	}
	return &Map{mods: mods, dec: dec}, nil
}

// DecodeBlock implements Oracle by decoding count instructions starting at
// the module offset.
func (m *Map) DecodeBlock(modIdx uint16, offset uint64, count int) ([]Instr, error) {
	mod, ok := m.mods[modIdx]
	if !ok {
		return nil, fmt.Errorf("modmap: unknown module %d", modIdx)
	}
	out := make([]Instr, 0, count)
	for i := 0; i < count; i++ {
		if offset >= uint64(len(mod.Data)) {
			return nil, fmt.Errorf("modmap: module %d: offset 0x%x beyond image (%d bytes)",
				modIdx, offset, len(mod.Data))
		}
		in, err := m.dec.DecodeOne(mod.Data[offset:], mod.Base+offset)
		if err != nil {
			return nil, fmt.Errorf("modmap: module %d: %w", modIdx, err)
		}
		out = append(out, in)
		offset += uint64(in.Len)
	}
	return out, nil
}
