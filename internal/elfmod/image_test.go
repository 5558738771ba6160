package elfmod

import (
	"os"
	"path/filepath"
	"testing"
)

type testSection struct {
	name string
	typ  uint32
	link uint32
	data []byte
}

type testImage struct {
	ident    *Ident
	phdrs    []ProgramHeader
	sections []testSection  // index i ends up at section index i+1
	shstrndx int            // -1 selects the generated name table
	shstrHdr *SectionHeader // replaces the generated name table header
}

func nativeIdent() Ident {
	return Ident{Magic: magic, Class: uint8(NativeClass), Data: nativeData, Version: 1}
}

// writeImage lays out header, program headers, section data and finally the
// section header table, the same order linkers use.
func writeImage(t *testing.T, img testImage) string {
	t.Helper()
	l := Native

	shstr := []byte{0}
	nameOff := func(name string) uint32 {
		off := uint32(len(shstr))
		shstr = append(shstr, name...)
		shstr = append(shstr, 0)
		return off
	}

	body := make([]byte, l.HeaderSize())
	phoff := uint64(0)
	if len(img.phdrs) > 0 {
		phoff = uint64(len(body))
		for _, p := range img.phdrs {
			body = append(body, l.EncodeProgramHeader(p)...)
		}
	}

	shdrs := []SectionHeader{{}}
	for _, s := range img.sections {
		shdrs = append(shdrs, SectionHeader{
			Name:   nameOff(s.name),
			Type:   s.typ,
			Link:   s.link,
			Offset: uint64(len(body)),
			Size:   uint64(len(s.data)),
		})
		body = append(body, s.data...)
	}
	shstrName := nameOff(".shstrtab")
	shstrSh := SectionHeader{Name: shstrName, Type: 3, Offset: uint64(len(body)), Size: uint64(len(shstr))}
	if img.shstrHdr != nil {
		shstrSh = *img.shstrHdr
	}
	shdrs = append(shdrs, shstrSh)
	body = append(body, shstr...)

	shstrndx := img.shstrndx
	if shstrndx < 0 {
		shstrndx = len(shdrs) - 1
	}
	shoff := uint64(len(body))
	for _, sh := range shdrs {
		body = append(body, l.EncodeSectionHeader(sh)...)
	}

	ident := nativeIdent()
	if img.ident != nil {
		ident = *img.ident
	}
	hdr := Header{
		Ident:     ident,
		Type:      3,
		Version:   1,
		Phoff:     phoff,
		Shoff:     shoff,
		Ehsize:    uint16(l.HeaderSize()),
		Phentsize: uint16(l.ProgramHeaderSize()),
		Phnum:     uint16(len(img.phdrs)),
		Shentsize: uint16(l.SectionHeaderSize()),
		Shnum:     uint16(len(shdrs)),
		Shstrndx:  uint16(shstrndx),
	}
	copy(body, l.EncodeHeader(hdr))

	path := filepath.Join(t.TempDir(), "image.elf")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return path
}

func symtabData(syms ...Sym) []byte {
	var b []byte
	for _, s := range syms {
		b = append(b, Native.EncodeSym(s)...)
	}
	return b
}

// symImage returns an image whose .symtab (section 1) links to .strtab
// (section 2).
func symImage(strtab string, syms ...Sym) testImage {
	return testImage{
		shstrndx: -1,
		sections: []testSection{
			{name: ".symtab", typ: SHTSymtab, link: 2, data: symtabData(append([]Sym{{}}, syms...)...)},
			{name: ".strtab", typ: 3, data: []byte(strtab)},
		},
	}
}

func openImage(t *testing.T, path string) *Module {
	t.Helper()
	m, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}
