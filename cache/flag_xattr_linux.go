//go:build linux
// +build linux

package cache

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

const uploadedXattr = "user.vdisk.uploaded"

// XattrFlag keeps the bit in an extended attribute, independent of the
// file's access-control bits. The attribute is present iff the chunk is
// uploaded.
type XattrFlag struct{}

func (XattrFlag) Uploaded(f *os.File) (bool, error) {
	var buf [1]byte
	_, err := unix.Fgetxattr(int(f.Fd()), uploadedXattr, buf[:])
	if err == nil {
		return true, nil
	}
	if errors.Is(err, unix.ENODATA) {
		return false, nil
	}
	return false, &os.PathError{Op: "getxattr", Path: f.Name(), Err: err}
}

func (XattrFlag) SetUploaded(f *os.File, uploaded bool) error {
	var err error
	if uploaded {
		err = unix.Fsetxattr(int(f.Fd()), uploadedXattr, []byte{1}, 0)
	} else {
		err = unix.Fremovexattr(int(f.Fd()), uploadedXattr)
		if errors.Is(err, unix.ENODATA) {
			err = nil
		}
	}
	if err != nil {
		return &os.PathError{Op: "setxattr", Path: f.Name(), Err: err}
	}
	return nil
}
