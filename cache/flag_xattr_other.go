//go:build !linux
// +build !linux

package cache

import (
	"errors"
	"os"
)

var errXattrUnsupported = errors.New("xattr flag store is only supported on linux")

type XattrFlag struct{}

func (XattrFlag) Uploaded(f *os.File) (bool, error) {
	return false, errXattrUnsupported
}

func (XattrFlag) SetUploaded(f *os.File, uploaded bool) error {
	return errXattrUnsupported
}
