//go:build linux || darwin

package raftlog

import (
	"os"
	"syscall"
)

// openNoFollow opens path for read/write, creating it if needed, and
// refuses to follow a symlink at path.
func openNoFollow(path string) (*os.File, error) {
	fd, err := syscall.Open(path, syscall.O_RDWR|syscall.O_CREAT|syscall.O_NOFOLLOW, filePerm)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}
