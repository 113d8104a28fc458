//go:build linux

package fs

import "golang.org/x/sys/unix"

type fder interface {
	Fd() uintptr
}

// Datasync flushes file data (and the metadata needed to read it back) to stable
// storage. Files that do not expose a descriptor fall back to Sync.
func Datasync(f File) error {
	if fd, ok := f.(fder); ok {
		for {
			err := unix.Fdatasync(int(fd.Fd()))
			if err != unix.EINTR {
				return err
			}
		}
	}
	return f.Sync()
}
