//go:build windows

package binread

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

func granularity() int64 {
	// dwAllocationGranularity on every supported Windows release
	return 64 * 1024
}

func mapFile(f *os.File, offset int64, length int) ([]byte, func() error, error) {
	h, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, windows.PAGE_READONLY, 0, 0, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("CreateFileMapping: %w", err)
	}
	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ, uint32(uint64(offset)>>32), uint32(offset), uintptr(length))
	if err != nil {
		windows.CloseHandle(h)
		return nil, nil, fmt.Errorf("MapViewOfFile: %w", err)
	}
	unmap := func() error {
		err := windows.UnmapViewOfFile(addr)
		if cerr := windows.CloseHandle(h); err == nil {
			err = cerr
		}
		return err
	}
	// addr is a view mapped by the OS outside the Go heap; the GC never moves it.
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length), unmap, nil
}
