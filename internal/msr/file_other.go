//go:build !linux

package msr

// File is unavailable outside Linux.
type File struct{}

func Open(cpu int, pathTemplate string) (*File, error) {
	return nil, ErrUnsupported
}

func (f *File) Path() string {
	return ""
}

func (f *File) Read(index uint32) (uint64, error) {
	return 0, ErrUnsupported
}

func (f *File) Write(index uint32, value uint64) error {
	return ErrUnsupported
}

func (f *File) Close() error {
	return nil
}
