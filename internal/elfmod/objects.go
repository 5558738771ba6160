package elfmod

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ObjectInfo describes one object loaded into the process: its load bias, its
// name (empty for the main executable) and its program headers.
type ObjectInfo struct {
	Addr  uint64
	Name  string
	Phdrs []ProgramHeader
}

// ObjectFunc is called once per loaded object. A non-nil error stops the
// iteration and is returned from IterateObjects.
type ObjectFunc func(info *ObjectInfo) error

// IterateObjects calls fn for every object mapped into the process described by
// maps, in address order. Regions backed by exe are reported as the main
// executable.
func IterateObjects(maps MapsReader, exe string, fn ObjectFunc) error {
	lines, err := maps.ReadLines()
	if err != nil {
		return err
	}

	var (
		order []string
		first = map[string]MapRegion{}
	)
	for _, line := range lines {
		if line == "" {
			continue
		}
		r, err := parseMapEntry(line)
		if err != nil {
			slog.Warn("Failed to parse map entry", "line", line, "error", err)
			continue
		}
		if !isObjectPath(r.Path) {
			continue
		}
		if prev, ok := first[r.Path]; ok && prev.Start <= r.Start {
			continue
		} else if !ok {
			order = append(order, r.Path)
		}
		first[r.Path] = r
	}

	pageSize := uint64(os.Getpagesize())
	for _, path := range order {
		r := first[path]
		phdrs, err := readProgramHeaders(path)
		if err != nil {
			slog.Debug("Program headers not available", "path", path, "error", err)
		}
		info := &ObjectInfo{
			Addr:  loadBias(r.Start, r.Offset, phdrs, pageSize),
			Name:  path,
			Phdrs: phdrs,
		}
		if path == exe {
			info.Name = ""
		}
		if err := fn(info); err != nil {
			return err
		}
	}
	return nil
}

// isObjectPath filters out anonymous mappings and kernel pseudo regions that
// are not objects. The vDSO is kept: it is a loaded object even though it has
// no backing file.
func isObjectPath(path string) bool {
	if path == "" {
		return false
	}
	if strings.HasPrefix(path, "[") {
		return path == "[vdso]"
	}
	return true
}

// loadBias computes the difference between runtime and link-time addresses
// from the lowest mapping of an object.
func loadBias(start, mapOff uint64, phdrs []ProgramHeader, pageSize uint64) uint64 {
	for _, p := range phdrs {
		if p.Type != PTLoad {
			continue
		}
		pageOff := p.Offset &^ (pageSize - 1)
		if pageOff <= mapOff && mapOff < p.Offset+p.Filesz {
			return start - (p.Vaddr - p.Offset + mapOff)
		}
	}
	return start - mapOff
}

func readProgramHeaders(path string) ([]ProgramHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadProgramHeaders(f)
}

// ReadProgramHeaders reads the program header table of the image in r.
func ReadProgramHeaders(r io.ReaderAt) ([]ProgramHeader, error) {
	l := Native
	hdr, err := l.ReadHeader(io.NewSectionReader(r, 0, int64(l.HeaderSize())))
	if err != nil {
		return nil, err
	}
	if err := checkIdent(hdr.Ident); err != nil {
		return nil, err
	}
	phdrs := make([]ProgramHeader, 0, hdr.Phnum)
	for i := 0; i < int(hdr.Phnum); i++ {
		off := int64(hdr.Phoff) + int64(i)*int64(l.ProgramHeaderSize())
		p, err := l.ReadProgramHeader(io.NewSectionReader(r, off, int64(l.ProgramHeaderSize())))
		if err != nil {
			return nil, err
		}
		phdrs = append(phdrs, p)
	}
	return phdrs, nil
}
