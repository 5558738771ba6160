//go:build windows

package pemod

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/VladMinzatu/selfsym/internal/binread"
)

// LoadModules loads the main executable and every module listed by a snapshot
// of the calling process.
func LoadModules() ([]*Module, error) {
	mainPath, err := moduleFileName(0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", binread.ErrModuleEnumeration, err)
	}
	entries, err := snapshotModules()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", binread.ErrModuleEnumeration, err)
	}
	return collectModules(mainPath, entries, Open)
}

func moduleFileName(h windows.Handle) (string, error) {
	buf := make([]uint16, windows.MAX_PATH)
	n, err := windows.GetModuleFileName(h, &buf[0], uint32(len(buf)))
	if err != nil {
		return "", fmt.Errorf("GetModuleFileName: %w", err)
	}
	return windows.UTF16ToString(buf[:n]), nil
}

func snapshotModules() ([]moduleEntry, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE, 0)
	if err != nil {
		return nil, fmt.Errorf("CreateToolhelp32Snapshot: %w", err)
	}
	defer windows.CloseHandle(snap)

	var (
		me      windows.ModuleEntry32
		entries []moduleEntry
	)
	me.Size = uint32(unsafe.Sizeof(me))
	for err = windows.Module32First(snap, &me); err == nil; err = windows.Module32Next(snap, &me) {
		entries = append(entries, moduleEntry{
			Path: windows.UTF16ToString(me.ExePath[:]),
			Base: uint64(me.ModBaseAddr),
		})
	}
	if !errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return entries, fmt.Errorf("Module32Next: %w", err)
	}
	return entries, nil
}
