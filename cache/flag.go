package cache

import "os"

// FlagStore persists the "uploaded" bit of a chunk file. It must not touch
// the file content.
type FlagStore interface {
	Uploaded(f *os.File) (bool, error)
	SetUploaded(f *os.File, uploaded bool) error
}

// ModeFlag keeps the bit in the sticky bit of the file mode, next to the
// ordinary permission bits.
type ModeFlag struct{}

func (ModeFlag) Uploaded(f *os.File) (bool, error) {
	fi, err := f.Stat()
	if err != nil {
		return false, err
	}
	return fi.Mode()&os.ModeSticky != 0, nil
}

func (ModeFlag) SetUploaded(f *os.File, uploaded bool) error {
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	mode := fi.Mode().Perm()
	if uploaded {
		mode |= os.ModeSticky
	}
	return f.Chmod(mode)
}
