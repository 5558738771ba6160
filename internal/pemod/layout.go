// Package pemod reads COFF symbol tables of PE images loaded into the process.
package pemod

import (
	"io"

	"github.com/VladMinzatu/selfsym/internal/binread"
)

const (
	peHeaderPointerOffset = 0x3c
	peSignature           = 0x00004550 // "PE\0\0"
	// MachineAMD64 is the only machine type accepted.
	MachineAMD64 = 0x8664

	FileHeaderSize = 20
	SymbolSize     = 18
)

// TypeFunction is the complex type bits of a function symbol.
const TypeFunction = 0x20

// FileHeader is the COFF file header following the PE signature.
type FileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

// Symbol is one 18 byte COFF symbol table record.
type Symbol struct {
	// Name is either the name itself, NUL padded, or four zero bytes followed by
	// a string table offset.
	Name               [8]byte
	Value              uint32
	SectionNumber      int16
	Type               uint16
	StorageClass       uint8
	NumberOfAuxSymbols uint8
}

// IsFunction reports whether the symbol's complex type marks a function.
func (s Symbol) IsFunction() bool { return s.Type&0xf0 == TypeFunction }

// longName returns the string table offset of a long name.
func (s Symbol) longName() (uint32, bool) {
	if s.Name[0]|s.Name[1]|s.Name[2]|s.Name[3] != 0 {
		return 0, false
	}
	return binread.ByteOrder.Uint32(s.Name[4:]), true
}

func ReadFileHeader(r io.Reader) (FileHeader, error) {
	var h FileHeader
	f := binread.NewFields(r)
	h.Machine = f.U16()
	h.NumberOfSections = f.U16()
	h.TimeDateStamp = f.U32()
	h.PointerToSymbolTable = f.U32()
	h.NumberOfSymbols = f.U32()
	h.SizeOfOptionalHeader = f.U16()
	h.Characteristics = f.U16()
	return h, f.Err()
}

func EncodeFileHeader(h FileHeader) []byte {
	var e binread.Encoder
	e.U16(h.Machine)
	e.U16(h.NumberOfSections)
	e.U32(h.TimeDateStamp)
	e.U32(h.PointerToSymbolTable)
	e.U32(h.NumberOfSymbols)
	e.U16(h.SizeOfOptionalHeader)
	e.U16(h.Characteristics)
	return e.Out()
}

func ReadSymbol(r io.Reader) (Symbol, error) {
	var s Symbol
	f := binread.NewFields(r)
	f.Bytes(s.Name[:])
	s.Value = f.U32()
	s.SectionNumber = int16(f.U16())
	s.Type = f.U16()
	s.StorageClass = f.U8()
	s.NumberOfAuxSymbols = f.U8()
	return s, f.Err()
}

func EncodeSymbol(s Symbol) []byte {
	var e binread.Encoder
	e.Bytes(s.Name[:])
	e.U32(s.Value)
	e.U16(uint16(s.SectionNumber))
	e.U16(s.Type)
	e.U8(s.StorageClass)
	e.U8(s.NumberOfAuxSymbols)
	return e.Out()
}
