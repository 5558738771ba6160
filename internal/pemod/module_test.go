package pemod

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/VladMinzatu/selfsym/internal/binread"
)

type testPE struct {
	machine   uint16
	signature uint32
	syms      []Symbol
	strtab    []byte // without the size prefix
	truncate  int    // bytes dropped from the end
}

func shortName(s string) [8]byte {
	var n [8]byte
	copy(n[:], s)
	return n
}

func longName(off uint32) [8]byte {
	var n [8]byte
	binread.ByteOrder.PutUint32(n[4:], off)
	return n
}

func writePE(t *testing.T, img testPE) string {
	t.Helper()
	if img.machine == 0 {
		img.machine = MachineAMD64
	}
	if img.signature == 0 {
		img.signature = peSignature
	}

	const peOff = 0x40
	body := make([]byte, peOff)
	copy(body, "MZ")
	binread.ByteOrder.PutUint32(body[peHeaderPointerOffset:], peOff)
	body = binread.ByteOrder.AppendUint32(body, img.signature)

	symOff := uint32(len(body) + FileHeaderSize)
	if len(img.syms) == 0 {
		symOff = 0
	}
	body = append(body, EncodeFileHeader(FileHeader{
		Machine:              img.machine,
		NumberOfSections:     1,
		PointerToSymbolTable: symOff,
		NumberOfSymbols:      uint32(len(img.syms)),
	})...)
	for _, s := range img.syms {
		body = append(body, EncodeSymbol(s)...)
	}
	if len(img.syms) > 0 {
		body = binread.ByteOrder.AppendUint32(body, uint32(4+len(img.strtab)))
		body = append(body, img.strtab...)
	}
	body = body[:len(body)-img.truncate]

	path := filepath.Join(t.TempDir(), "image.exe")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}
	return path
}

func openPE(t *testing.T, img testPE) *Module {
	t.Helper()
	m, err := Open(writePE(t, img))
	if err != nil {
		t.Fatalf("unexpected error opening image: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func collectNames(t *testing.T, m *Module) []string {
	t.Helper()
	var names []string
	err := m.Symbols(func(s Symbol) bool {
		name, err := m.SymbolName(s)
		if err != nil {
			t.Fatalf("unexpected error reading name: %v", err)
		}
		names = append(names, string(name))
		return true
	})
	if err != nil {
		t.Fatalf("unexpected error iterating symbols: %v", err)
	}
	return names
}

func TestLoad(t *testing.T) {
	// string table offsets include the 4 byte size prefix
	strtab := []byte("a_rather_long_symbol\x00")
	m := openPE(t, testPE{
		syms: []Symbol{
			{Name: shortName("main"), Value: 0x1000, SectionNumber: 1, Type: TypeFunction, StorageClass: 2},
			{Name: shortName(".text"), SectionNumber: 1, StorageClass: 3, NumberOfAuxSymbols: 1},
			{Name: shortName("AUXDATA")}, // aux record, never reported
			{Name: longName(4), Value: 0x1100, SectionNumber: 1, Type: TypeFunction, StorageClass: 2},
			{Name: shortName("exactly8"), Value: 0x1200, SectionNumber: 2, StorageClass: 2},
		},
		strtab: strtab,
	})

	if m.Header().Machine != MachineAMD64 {
		t.Errorf("unexpected machine %#x", m.Header().Machine)
	}
	got := collectNames(t, m)
	want := []string{"main", ".text", "a_rather_long_symbol", "exactly8"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("symbol %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestFunctions(t *testing.T) {
	m := openPE(t, testPE{
		syms: []Symbol{
			{Name: shortName("main"), Value: 0x1000, SectionNumber: 1, Type: TypeFunction, StorageClass: 2},
			{Name: shortName(".text"), SectionNumber: 1, StorageClass: 3, NumberOfAuxSymbols: 1},
			{Name: shortName("AUX"), Type: TypeFunction}, // aux record, never reported
			{Name: shortName("data"), Value: 0x2000, SectionNumber: 2, StorageClass: 2},
			{Name: shortName("helper"), Value: 0x1100, SectionNumber: 1, Type: TypeFunction | 0x4, StorageClass: 3},
		},
	})

	var got []string
	err := m.Functions(func(s Symbol) bool {
		name, err := m.SymbolName(s)
		if err != nil {
			t.Fatalf("unexpected error reading name: %v", err)
		}
		got = append(got, string(name))
		return true
	})
	if err != nil {
		t.Fatalf("unexpected error iterating functions: %v", err)
	}
	want := []string{"main", "helper"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestSymbols_StopsEarly(t *testing.T) {
	m := openPE(t, testPE{
		syms: []Symbol{{Name: shortName("a")}, {Name: shortName("b")}},
	})
	n := 0
	if err := m.Symbols(func(Symbol) bool { n++; return false }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 callback, got %d", n)
	}
}

func TestSymbols_AuxPastEnd(t *testing.T) {
	m := openPE(t, testPE{
		syms: []Symbol{{Name: shortName("file"), NumberOfAuxSymbols: 5}},
	})
	if got := collectNames(t, m); len(got) != 1 || got[0] != "file" {
		t.Errorf("expected [file], got %v", got)
	}
}

func TestSymbolName_OutOfRange(t *testing.T) {
	m := openPE(t, testPE{
		syms:   []Symbol{{Name: longName(100)}},
		strtab: []byte("x\x00"),
	})
	var sym Symbol
	m.Symbols(func(s Symbol) bool { sym = s; return false })
	if _, err := m.SymbolName(sym); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected ErrUnexpectedEOF, got %v", err)
	}
}

func TestSymbolAt_NeverResolves(t *testing.T) {
	m := openPE(t, testPE{
		syms: []Symbol{{Name: shortName("main"), Value: 0x1000, SectionNumber: 1, Type: TypeFunction}},
	})
	m.SetBaseAddress(0x140000000)
	for _, addr := range []uint64{0, 0x140001000, 0x140001001} {
		name, found, err := m.SymbolAt(addr)
		if err != nil || found || name != nil {
			t.Errorf("SymbolAt(%#x) = %q, %v, %v; expected not found", addr, name, found, err)
		}
	}
}

func TestLoad_NoSymbolTable(t *testing.T) {
	m := openPE(t, testPE{})
	if got := collectNames(t, m); len(got) != 0 {
		t.Errorf("expected no symbols, got %v", got)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		img     testPE
		wantErr error
	}{
		{"bad signature", testPE{signature: 0x00004d5a}, binread.ErrParse},
		{"unsupported machine", testPE{machine: 0x14c}, binread.ErrParse},
		{"arm64", testPE{machine: 0xaa64}, binread.ErrParse},
		{"truncated string table", testPE{syms: []Symbol{{Name: shortName("a")}}, strtab: []byte("abc\x00"), truncate: 2}, binread.ErrMapping},
		{"missing string table size", testPE{syms: []Symbol{{Name: shortName("a")}}, truncate: 4}, io.EOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(writePE(t, tt.img))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_ShortFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.exe")
	if err := os.WriteFile(path, []byte("MZ"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Error("expected an error for a file without a PE header pointer")
	}
}

func TestBaseAddress(t *testing.T) {
	m := openPE(t, testPE{})
	if !m.FixBaseAddress(0x140000000) {
		t.Error("expected first FixBaseAddress to apply")
	}
	if m.FixBaseAddress(0x150000000) {
		t.Error("expected second FixBaseAddress to be ignored")
	}
	if m.BaseAddress() != 0x140000000 {
		t.Errorf("unexpected base %#x", m.BaseAddress())
	}
}
