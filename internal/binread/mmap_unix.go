//go:build unix

package binread

import (
	"os"

	"golang.org/x/sys/unix"
)

func granularity() int64 {
	return int64(unix.Getpagesize())
}

func mapFile(f *os.File, offset int64, length int) ([]byte, func() error, error) {
	data, err := unix.Mmap(int(f.Fd()), offset, length, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	return data, func() error { return unix.Munmap(data) }, nil
}
