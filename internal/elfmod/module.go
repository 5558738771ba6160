package elfmod

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/VladMinzatu/selfsym/internal/binread"
)

// Names of the debug sections a module keeps handles to.
const (
	DebugInfo   = ".debug_info"
	DebugLine   = ".debug_line"
	DebugAbbrev = ".debug_abbrev"
	DebugRanges = ".debug_ranges"
	DebugStr    = ".debug_str"
)

var debugSections = []string{DebugInfo, DebugLine, DebugAbbrev, DebugRanges, DebugStr}

var nativeData = func() uint8 {
	if binread.ByteOrder.Uint16([]byte{1, 0}) == 1 {
		return dataLSB
	}
	return dataMSB
}()

// Module is one ELF image opened from disk.
type Module struct {
	file      *os.File
	layout    Layout
	base      uint64
	baseFixed bool
	fullSyms  bool
	symtab    *binread.Section
	strtab    *binread.Section
	debug     map[string]*binread.Section
}

// Open opens and loads the ELF image at path.
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

// Load parses the image in f and takes ownership of f. The base address of the
// returned module is 0 until SetBaseAddress or FixBaseAddress is called.
func Load(f *os.File) (*Module, error) {
	l := Native
	hdr, err := l.ReadHeader(io.NewSectionReader(f, 0, int64(l.HeaderSize())))
	if err != nil {
		return nil, fmt.Errorf("reading ELF header of %s: %w", f.Name(), err)
	}
	if err := checkIdent(hdr.Ident); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name(), err)
	}
	if hdr.Shnum > 0 && int(hdr.Shentsize) != l.SectionHeaderSize() {
		return nil, fmt.Errorf("%w: %s: section header size %d, want %d", binread.ErrParse, f.Name(), hdr.Shentsize, l.SectionHeaderSize())
	}

	// all headers are read up front because the symbol table refers to its
	// string table by index
	shdrs := make([]SectionHeader, 0, hdr.Shnum)
	for i := 0; i < int(hdr.Shnum); i++ {
		off := int64(hdr.Shoff) + int64(i)*int64(l.SectionHeaderSize())
		sh, err := l.ReadSectionHeader(io.NewSectionReader(f, off, int64(l.SectionHeaderSize())))
		if err != nil {
			return nil, fmt.Errorf("reading section header %d of %s: %w", i, f.Name(), err)
		}
		shdrs = append(shdrs, sh)
	}

	if int(hdr.Shstrndx) >= len(shdrs) {
		return nil, fmt.Errorf("%w: %s: section name table index %d out of range (%d sections)", binread.ErrParse, f.Name(), hdr.Shstrndx, len(shdrs))
	}
	shstrHdr := shdrs[hdr.Shstrndx]
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if size := uint64(fi.Size()); shstrHdr.Size > size || shstrHdr.Offset > size-shstrHdr.Size {
		return nil, fmt.Errorf("%w: %s: section name table at %#x of size %#x beyond end of file", binread.ErrParse, f.Name(), shstrHdr.Offset, shstrHdr.Size)
	}
	shstr := make([]byte, shstrHdr.Size)
	if err := binread.FillExact(io.NewSectionReader(f, int64(shstrHdr.Offset), int64(shstrHdr.Size)), shstr); err != nil {
		return nil, fmt.Errorf("reading section name table of %s: %w", f.Name(), err)
	}

	m := &Module{file: f, layout: l, debug: map[string]*binread.Section{}}
	if err := m.mapSections(shdrs, shstr); err != nil {
		m.closeSections()
		return nil, fmt.Errorf("%s: %w", f.Name(), err)
	}
	slog.Debug("Loaded ELF module", "path", f.Name(), "sections", len(shdrs), "debug_sections", len(m.debug))
	return m, nil
}

func checkIdent(id Ident) error {
	if id.Magic != magic {
		return fmt.Errorf("%w: bad magic %x", binread.ErrParse, id.Magic)
	}
	if Class(id.Class) != NativeClass {
		return fmt.Errorf("%w: ELF class %d, want %d", binread.ErrParse, id.Class, NativeClass)
	}
	if id.Data != nativeData {
		return fmt.Errorf("%w: ELF data encoding %d, want %d", binread.ErrParse, id.Data, nativeData)
	}
	return nil
}

func (m *Module) mapSections(shdrs []SectionHeader, shstr []byte) error {
	symIdx := -1
	for i, sh := range shdrs {
		if sh.Type == SHTSymtab {
			symIdx = i
			break
		}
	}
	if symIdx < 0 {
		// stripped images still carry the dynamic symbol table
		for i, sh := range shdrs {
			if sh.Type == SHTDynsym {
				symIdx = i
				break
			}
		}
	}
	if symIdx < 0 {
		return fmt.Errorf("%w: no symbol table", binread.ErrParse)
	}

	sym := shdrs[symIdx]
	m.fullSyms = sym.Type == SHTSymtab
	if int(sym.Link) >= len(shdrs) {
		return fmt.Errorf("%w: symbol table links to section %d of %d", binread.ErrParse, sym.Link, len(shdrs))
	}
	var err error
	if m.symtab, err = m.section(sym); err != nil {
		return err
	}
	if m.strtab, err = m.section(shdrs[sym.Link]); err != nil {
		return err
	}

	for i, sh := range shdrs {
		if i == symIdx {
			continue
		}
		name := sectionName(shstr, sh.Name)
		for _, want := range debugSections {
			if name != want {
				continue
			}
			s, err := m.section(sh)
			if err != nil {
				return err
			}
			if old := m.debug[want]; old != nil {
				old.Close()
			}
			m.debug[want] = s
		}
	}
	return nil
}

func (m *Module) section(sh SectionHeader) (*binread.Section, error) {
	return binread.NewSection(m.file, int64(sh.Offset), int64(sh.Size))
}

func sectionName(shstr []byte, off uint32) string {
	if int(off) >= len(shstr) {
		return ""
	}
	b := shstr[off:]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// Path returns the name of the backing file.
func (m *Module) Path() string { return m.file.Name() }

// BaseAddress returns the runtime load bias of the module.
func (m *Module) BaseAddress() uint64 { return m.base }

// SetBaseAddress records the load bias reported for the module.
func (m *Module) SetBaseAddress(addr uint64) {
	m.base = addr
	m.baseFixed = true
}

// FixBaseAddress sets the load bias unless it was already set, and reports
// whether it did.
func (m *Module) FixBaseAddress(addr uint64) bool {
	if m.baseFixed {
		return false
	}
	m.SetBaseAddress(addr)
	return true
}

// HasFullSymbolTable reports whether symbols come from .symtab rather than the
// dynamic symbol table, which only lists exported entries.
func (m *Module) HasFullSymbolTable() bool { return m.fullSyms }

// DebugSection returns the named debug section, or nil if the image has none.
func (m *Module) DebugSection(name string) *binread.Section {
	return m.debug[name]
}

// Close unmaps every section and closes the backing file.
func (m *Module) Close() error {
	m.closeSections()
	return m.file.Close()
}

func (m *Module) closeSections() {
	m.symtab.Close()
	m.strtab.Close()
	for _, s := range m.debug {
		s.Close()
	}
}
