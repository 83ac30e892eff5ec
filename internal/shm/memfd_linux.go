//go:build linux

package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const seals = unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE | unix.F_SEAL_SEAL

// Seal copies snapshot into a new memfd and seals it against any change.
func Seal(snapshot []byte) (*os.File, error) {
	if len(snapshot) != Size {
		return nil, fmt.Errorf("%w: got %d want %d", ErrSize, len(snapshot), Size)
	}
	fd, err := unix.MemfdCreate("voltshift-report", unix.MFD_CLOEXEC|unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, fmt.Errorf("shm: memfd_create: %w", err)
	}
	f := os.NewFile(uintptr(fd), "voltshift-report")
	if _, err := f.WriteAt(snapshot, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: fill memfd: %w", err)
	}
	if _, err := unix.FcntlInt(f.Fd(), unix.F_ADD_SEALS, seals); err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: seal memfd: %w", err)
	}
	return f, nil
}

// Map maps f read-only. The file can be closed once Map returns.
func Map(f *os.File) (*Region, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("shm: stat: %w", err)
	}
	if st.Size() != Size {
		return nil, fmt.Errorf("%w: got %d want %d", ErrSize, st.Size(), Size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, Size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap: %w", err)
	}
	return &Region{data: data, release: unix.Munmap}, nil
}

// Sealed reports whether f carries the full seal set.
func Sealed(f *os.File) bool {
	got, err := unix.FcntlInt(f.Fd(), unix.F_GET_SEALS, 0)
	return err == nil && got&seals == seals
}
