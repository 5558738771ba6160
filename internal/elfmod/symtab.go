package elfmod

import (
	"errors"
	"fmt"
	"io"
)

// Symbols calls fn for every entry of the symbol table in file order until fn
// returns false.
func (m *Module) Symbols(fn func(Sym) bool) error {
	m.symtab.SeekAt(0)
	for {
		sym, err := m.layout.ReadSym(m.symtab)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			// a trailing partial record ends the table like a clean end does
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading symbol table of %s: %w", m.Path(), err)
		}
		if !fn(sym) {
			return nil
		}
	}
}

// SymbolName returns the name of sym from the string table. The bytes point
// into the mapping and are only valid until Close.
func (m *Module) SymbolName(sym Sym) ([]byte, error) {
	name, err := m.strtab.CStringAt(int(sym.Name))
	if err != nil {
		return nil, fmt.Errorf("symbol name at %#x in %s: %w", sym.Name, m.Path(), err)
	}
	return name, nil
}

// SymbolAt returns the name of the first function or object symbol, in file
// order, whose [value+base, value+base+size) range contains addr.
func (m *Module) SymbolAt(addr uint64) ([]byte, bool, error) {
	var (
		match Sym
		found bool
	)
	err := m.Symbols(func(sym Sym) bool {
		if !sym.Resolvable() {
			return true
		}
		start := sym.Value + m.base
		end := start + sym.Size
		if start <= addr && addr < end {
			match, found = sym, true
			return false
		}
		return true
	})
	if err != nil || !found {
		return nil, false, err
	}
	name, err := m.SymbolName(match)
	if err != nil {
		return nil, false, err
	}
	return name, true, nil
}
