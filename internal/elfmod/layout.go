// Package elfmod loads ELF images of the running process straight from their
// files and answers "which symbol covers this address" for them.
package elfmod

import (
	"io"

	"github.com/VladMinzatu/selfsym/internal/binread"
)

// Class is the word width of an image, as stored in EI_CLASS.
type Class uint8

const (
	Class32 Class = 1
	Class64 Class = 2
)

// NativeClass is the word width of the build target. It is a constant so the
// record layouts are fixed at build time.
const NativeClass = Class32 + Class(^uint(0)>>63)

func (c Class) WordSize() int {
	if c == Class32 {
		return 4
	}
	return 8
}

const (
	dataLSB = 1
	dataMSB = 2
)

var magic = [4]byte{0x7f, 'E', 'L', 'F'}

// section header types
const (
	SHTSymtab = 2
	SHTDynsym = 11
)

// symbol types, the low nibble of Sym.Info
const (
	STTObject = 1
	STTFunc   = 2
)

// PTLoad is the program header type of a loadable segment.
const PTLoad = 1

// Ident is e_ident.
type Ident struct {
	Magic   [4]byte
	Class   uint8
	Data    uint8
	Version uint8
	Pad     [9]byte
}

// Header is the ELF file header. Entry, Phoff and Shoff are word sized.
type Header struct {
	Ident     Ident
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

// SectionHeader is one entry of the section header table. Flags, Addr, Offset,
// Size, Addralign and Entsize are word sized.
type SectionHeader struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	Addralign uint64
	Entsize   uint64
}

// ProgramHeader is one entry of the program header table.
type ProgramHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// Sym is one symbol table entry.
type Sym struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

// Kind returns the symbol type.
func (s Sym) Kind() uint8 { return s.Info & 0xf }

// Resolvable reports whether addresses can be attributed to the symbol: it has
// to be a function or object and cover a non-empty range.
func (s Sym) Resolvable() bool {
	k := s.Kind()
	return (k == STTFunc || k == STTObject) && s.Size != 0
}

// Layout describes the packed on-disk records for one word width. Records are
// decoded field by field in file order, never by overlaying Go structs.
type Layout struct {
	Class Class
}

// Native is the layout of the build target.
var Native = Layout{Class: NativeClass}

func (l Layout) word() int { return l.Class.WordSize() }

func (l Layout) HeaderSize() int {
	return 16 + 2 + 2 + 4 + 3*l.word() + 4 + 6*2
}

func (l Layout) SectionHeaderSize() int {
	return 4*4 + 6*l.word()
}

func (l Layout) ProgramHeaderSize() int {
	if l.Class == Class32 {
		return 8 * 4
	}
	return 2*4 + 6*8
}

func (l Layout) SymSize() int {
	if l.Class == Class32 {
		return 16
	}
	return 24
}

func (l Layout) ReadHeader(r io.Reader) (Header, error) {
	var h Header
	f := binread.NewFields(r)
	f.Bytes(h.Ident.Magic[:])
	h.Ident.Class = f.U8()
	h.Ident.Data = f.U8()
	h.Ident.Version = f.U8()
	f.Bytes(h.Ident.Pad[:])
	h.Type = f.U16()
	h.Machine = f.U16()
	h.Version = f.U32()
	h.Entry = f.Word(l.word())
	h.Phoff = f.Word(l.word())
	h.Shoff = f.Word(l.word())
	h.Flags = f.U32()
	h.Ehsize = f.U16()
	h.Phentsize = f.U16()
	h.Phnum = f.U16()
	h.Shentsize = f.U16()
	h.Shnum = f.U16()
	h.Shstrndx = f.U16()
	return h, f.Err()
}

func (l Layout) EncodeHeader(h Header) []byte {
	var e binread.Encoder
	e.Bytes(h.Ident.Magic[:])
	e.U8(h.Ident.Class)
	e.U8(h.Ident.Data)
	e.U8(h.Ident.Version)
	e.Bytes(h.Ident.Pad[:])
	e.U16(h.Type)
	e.U16(h.Machine)
	e.U32(h.Version)
	e.Word(h.Entry, l.word())
	e.Word(h.Phoff, l.word())
	e.Word(h.Shoff, l.word())
	e.U32(h.Flags)
	e.U16(h.Ehsize)
	e.U16(h.Phentsize)
	e.U16(h.Phnum)
	e.U16(h.Shentsize)
	e.U16(h.Shnum)
	e.U16(h.Shstrndx)
	return e.Out()
}

func (l Layout) ReadSectionHeader(r io.Reader) (SectionHeader, error) {
	var s SectionHeader
	f := binread.NewFields(r)
	s.Name = f.U32()
	s.Type = f.U32()
	s.Flags = f.Word(l.word())
	s.Addr = f.Word(l.word())
	s.Offset = f.Word(l.word())
	s.Size = f.Word(l.word())
	s.Link = f.U32()
	s.Info = f.U32()
	s.Addralign = f.Word(l.word())
	s.Entsize = f.Word(l.word())
	return s, f.Err()
}

func (l Layout) EncodeSectionHeader(s SectionHeader) []byte {
	var e binread.Encoder
	e.U32(s.Name)
	e.U32(s.Type)
	e.Word(s.Flags, l.word())
	e.Word(s.Addr, l.word())
	e.Word(s.Offset, l.word())
	e.Word(s.Size, l.word())
	e.U32(s.Link)
	e.U32(s.Info)
	e.Word(s.Addralign, l.word())
	e.Word(s.Entsize, l.word())
	return e.Out()
}

func (l Layout) ReadProgramHeader(r io.Reader) (ProgramHeader, error) {
	var p ProgramHeader
	f := binread.NewFields(r)
	if l.Class == Class32 {
		p.Type = f.U32()
		p.Offset = f.Word(4)
		p.Vaddr = f.Word(4)
		p.Paddr = f.Word(4)
		p.Filesz = f.Word(4)
		p.Memsz = f.Word(4)
		p.Flags = f.U32()
		p.Align = f.Word(4)
		return p, f.Err()
	}
	p.Type = f.U32()
	p.Flags = f.U32()
	p.Offset = f.Word(8)
	p.Vaddr = f.Word(8)
	p.Paddr = f.Word(8)
	p.Filesz = f.Word(8)
	p.Memsz = f.Word(8)
	p.Align = f.Word(8)
	return p, f.Err()
}

func (l Layout) EncodeProgramHeader(p ProgramHeader) []byte {
	var e binread.Encoder
	if l.Class == Class32 {
		e.U32(p.Type)
		e.Word(p.Offset, 4)
		e.Word(p.Vaddr, 4)
		e.Word(p.Paddr, 4)
		e.Word(p.Filesz, 4)
		e.Word(p.Memsz, 4)
		e.U32(p.Flags)
		e.Word(p.Align, 4)
		return e.Out()
	}
	e.U32(p.Type)
	e.U32(p.Flags)
	e.Word(p.Offset, 8)
	e.Word(p.Vaddr, 8)
	e.Word(p.Paddr, 8)
	e.Word(p.Filesz, 8)
	e.Word(p.Memsz, 8)
	e.Word(p.Align, 8)
	return e.Out()
}

func (l Layout) ReadSym(r io.Reader) (Sym, error) {
	var s Sym
	f := binread.NewFields(r)
	if l.Class == Class32 {
		s.Name = f.U32()
		s.Value = f.Word(4)
		s.Size = f.Word(4)
		s.Info = f.U8()
		s.Other = f.U8()
		s.Shndx = f.U16()
		return s, f.Err()
	}
	s.Name = f.U32()
	s.Info = f.U8()
	s.Other = f.U8()
	s.Shndx = f.U16()
	s.Value = f.Word(8)
	s.Size = f.Word(8)
	return s, f.Err()
}

func (l Layout) EncodeSym(s Sym) []byte {
	var e binread.Encoder
	if l.Class == Class32 {
		e.U32(s.Name)
		e.Word(s.Value, 4)
		e.Word(s.Size, 4)
		e.U8(s.Info)
		e.U8(s.Other)
		e.U16(s.Shndx)
		return e.Out()
	}
	e.U32(s.Name)
	e.U8(s.Info)
	e.U8(s.Other)
	e.U16(s.Shndx)
	e.Word(s.Value, 8)
	e.Word(s.Size, 8)
	return e.Out()
}
