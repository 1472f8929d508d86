//go:build unix

package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mapRegion maps byteSize bytes of path starting at offset. The offset must
// be a multiple of the page size.
func mapRegion(path string, offset, byteSize uint64) ([]byte, func() error, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if uint64(info.Size()) < offset+byteSize {
		return nil, nil, fmt.Errorf("object is %d bytes, need %d", info.Size(), offset+byteSize)
	}
	if offset%uint64(unix.Getpagesize()) != 0 {
		return nil, nil, fmt.Errorf("offset %d is not page aligned", offset)
	}

	data, err := unix.Mmap(int(f.Fd()), int64(offset), int(byteSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap: %w", err)
	}
	return data, func() error { return unix.Munmap(data) }, nil
}
