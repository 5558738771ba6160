package pemod

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/VladMinzatu/selfsym/internal/binread"
)

// Module is one PE image opened from disk.
type Module struct {
	file      *os.File
	header    FileHeader
	base      uint64
	baseFixed bool
	symtab    *binread.Section
	strtab    *binread.Section
}

func Open(path string) (*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := Load(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return m, nil
}

// Load parses the image in f and takes ownership of f.
func Load(f *os.File) (*Module, error) {
	peOff, err := binread.ReadU32(io.NewSectionReader(f, peHeaderPointerOffset, 4))
	if err != nil {
		return nil, fmt.Errorf("reading PE header offset of %s: %w", f.Name(), err)
	}
	hr := io.NewSectionReader(f, int64(peOff), 4+FileHeaderSize)
	sig, err := binread.ReadU32(hr)
	if err != nil {
		return nil, fmt.Errorf("reading PE signature of %s: %w", f.Name(), err)
	}
	if sig != peSignature {
		return nil, fmt.Errorf("%w: %s: bad PE signature %#x", binread.ErrParse, f.Name(), sig)
	}
	hdr, err := ReadFileHeader(hr)
	if err != nil {
		return nil, fmt.Errorf("reading COFF header of %s: %w", f.Name(), err)
	}
	if hdr.Machine != MachineAMD64 {
		return nil, fmt.Errorf("%w: %s: unsupported machine %#x", binread.ErrParse, f.Name(), hdr.Machine)
	}

	m := &Module{file: f, header: hdr}
	if err := m.mapSymbols(); err != nil {
		m.symtab.Close()
		m.strtab.Close()
		return nil, fmt.Errorf("%s: %w", f.Name(), err)
	}
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		funcs := 0
		if err := m.Functions(func(Symbol) bool { funcs++; return true }); err != nil {
			m.symtab.Close()
			m.strtab.Close()
			return nil, err
		}
		slog.Debug("Loaded PE module", "path", f.Name(), "sections", hdr.NumberOfSections, "symbols", hdr.NumberOfSymbols, "functions", funcs)
	}
	return m, nil
}

func (m *Module) mapSymbols() error {
	var (
		symOff  = int64(m.header.PointerToSymbolTable)
		symSize = int64(m.header.NumberOfSymbols) * SymbolSize
		err     error
	)
	if symOff == 0 || symSize == 0 {
		// images linked without a COFF symbol table
		m.symtab, _ = binread.NewSection(m.file, 0, 0)
		m.strtab, _ = binread.NewSection(m.file, 0, 0)
		return nil
	}
	if m.symtab, err = binread.NewSection(m.file, symOff, symSize); err != nil {
		return err
	}

	// the string table follows the symbol table and starts with its own size
	strOff := symOff + symSize
	strSize, err := binread.ReadU32(io.NewSectionReader(m.file, strOff, 4))
	if err != nil {
		return fmt.Errorf("reading string table size: %w", err)
	}
	m.strtab, err = binread.NewSection(m.file, strOff, int64(strSize))
	return err
}

// Header returns the COFF file header.
func (m *Module) Header() FileHeader { return m.header }

// Symbols calls fn for every primary symbol record in file order until fn
// returns false. Auxiliary records are skipped.
func (m *Module) Symbols(fn func(Symbol) bool) error {
	m.symtab.SeekAt(0)
	for {
		sym, err := ReadSymbol(m.symtab)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading symbol table of %s: %w", m.Path(), err)
		}
		if !fn(sym) {
			return nil
		}
		m.symtab.SeekAt(m.symtab.Pos() + int(sym.NumberOfAuxSymbols)*SymbolSize)
	}
}

// Functions calls fn for every symbol typed as a function until fn returns
// false.
func (m *Module) Functions(fn func(Symbol) bool) error {
	return m.Symbols(func(sym Symbol) bool {
		if !sym.IsFunction() {
			return true
		}
		return fn(sym)
	})
}

// SymbolName returns the short name stored inline or the long name from the
// string table.
func (m *Module) SymbolName(sym Symbol) ([]byte, error) {
	off, long := sym.longName()
	if !long {
		name := sym.Name[:]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		return name, nil
	}
	name, err := m.strtab.CStringAt(int(off))
	if err != nil {
		return nil, fmt.Errorf("symbol name at %#x in %s: %w", off, m.Path(), err)
	}
	return name, nil
}

// SymbolAt never finds a symbol: COFF records carry no size, so no address
// range can be attributed to them.
func (m *Module) SymbolAt(addr uint64) ([]byte, bool, error) {
	return nil, false, nil
}

func (m *Module) Path() string { return m.file.Name() }

func (m *Module) BaseAddress() uint64 { return m.base }

func (m *Module) SetBaseAddress(addr uint64) {
	m.base = addr
	m.baseFixed = true
}

// FixBaseAddress sets the base address unless it was already set.
func (m *Module) FixBaseAddress(addr uint64) bool {
	if m.baseFixed {
		return false
	}
	m.SetBaseAddress(addr)
	return true
}

func (m *Module) Close() error {
	m.symtab.Close()
	m.strtab.Close()
	return m.file.Close()
}
