//go:build linux

package msr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// File is a Device backed by one cpu's msr driver node.
type File struct {
	mu   sync.RWMutex
	path string
	file *os.File
}

// Open opens the msr node for cpu using pathTemplate (DefaultPathTemplate when empty).
// It requires CAP_SYS_RAWIO.
func Open(cpu int, pathTemplate string) (*File, error) {
	if pathTemplate == "" {
		pathTemplate = DefaultPathTemplate
	}
	path := fmt.Sprintf(pathTemplate, cpu)
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermission, path)
		}
		return nil, fmt.Errorf("msr: open %s: %w", path, err)
	}
	return &File{path: path, file: file}, nil
}

// Path returns the opened node path.
func (f *File) Path() string {
	return f.path
}

func (f *File) Read(index uint32) (uint64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.file == nil {
		return 0, ErrClosed
	}
	var buf [8]byte
	n, err := unix.Pread(int(f.file.Fd()), buf[:], int64(index))
	if err != nil {
		return 0, translateErrno("read", index, err)
	}
	if n != len(buf) {
		return 0, fmt.Errorf("%w: read 0x%x got %d bytes", ErrShortTransfer, index, n)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func (f *File) Write(index uint32, value uint64) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.file == nil {
		return ErrClosed
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], value)
	n, err := unix.Pwrite(int(f.file.Fd()), buf[:], int64(index))
	if err != nil {
		return translateErrno("write", index, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: write 0x%x wrote %d bytes", ErrShortTransfer, index, n)
	}
	return nil
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// The msr driver answers EIO when rdmsr/wrmsr raises #GP for the index.
func translateErrno(op string, index uint32, err error) error {
	var errno unix.Errno
	if errors.As(err, &errno) && errno == unix.EIO {
		return fmt.Errorf("%w: %s 0x%x: %v", ErrHardwareFault, op, index, err)
	}
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		return fmt.Errorf("%w: %s 0x%x", ErrPermission, op, index)
	}
	return fmt.Errorf("msr: %s 0x%x: %w", op, index, err)
}
