//go:build unix

package shmchan

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// createSegment creates or recycles the backing file, sized and zeroed.
func createSegment(path string, size int) (*os.File, []byte, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create segment file %s: %w", path, err)
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	// Shrinking to zero first discards any stale content.
	if err := file.Truncate(0); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to reset segment file: %w", err)
	}
	if err := file.Truncate(int64(size)); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to resize segment file: %w", err)
	}

	mem, err := mmapFile(file, size)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to mmap segment: %w", err)
	}
	return file, mem, nil
}

// openSegment maps an existing file. It returns errSegmentNotReady when the
// file is still smaller than minSize.
func openSegment(path string, minSize int) (*os.File, []byte, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to stat segment file: %w", err)
	}
	if info.Size() < int64(minSize) {
		file.Close()
		return nil, nil, errSegmentNotReady
	}

	mem, err := mmapFile(file, int(info.Size()))
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to mmap segment: %w", err)
	}
	return file, mem, nil
}

func mmapFile(file *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func munmap(mem []byte) error {
	return unix.Munmap(mem)
}
