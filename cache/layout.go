// Package cache keeps the locally modified chunks of a virtual disk image.
//
// A chunk is either clean (served from the base image) or modified (served
// from a file under the cache root). Modified chunks live at
// <root>/<dir_num>/<index>, where dir_num groups core.CHUNKS_PER_DIR
// contiguous indexes. Every chunk file is exactly one chunk long.
//
// Whether a modified chunk has been mirrored to the chunk pool is persisted
// as a one-bit flag on the chunk file itself (see FlagStore), so the whole
// state can be rebuilt from the directory tree when the image is opened.
package cache

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/orcastor/vdisk/core"
)

func DirNum(i uint64) uint64 {
	return i / core.CHUNKS_PER_DIR * core.CHUNKS_PER_DIR
}

func ChunkDir(root string, i uint64) string {
	return filepath.Join(root, strconv.FormatUint(DirNum(i), 10))
}

func ChunkFile(root string, i uint64) string {
	return filepath.Join(root, strconv.FormatUint(DirNum(i), 10), strconv.FormatUint(i, 10))
}

// parseIndex accepts only the canonical decimal form: no sign, no leading
// zeros, not empty. canonical is false for numbers written any other way.
func parseIndex(name string) (n uint64, numeric, canonical bool) {
	n, err := strconv.ParseUint(name, 10, 64)
	if err != nil {
		return 0, false, false
	}
	return n, true, strconv.FormatUint(n, 10) == name
}

// WalkChunks calls fn for every chunk file under root in ascending index
// order. Entries that are not canonical numbers are skipped. A non-nil error
// from fn stops the walk and is returned.
func WalkChunks(root string, fn func(i uint64) error) error {
	dirs, err := sortedNumeric(root, true)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		files, err := sortedNumeric(filepath.Join(root, strconv.FormatUint(d, 10)), false)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		for _, i := range files {
			if DirNum(i) != d {
				continue
			}
			if err := fn(i); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedNumeric(dir string, dirs bool) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, core.NewIOError("read directory", dir, err)
	}
	out := make([]uint64, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() != dirs {
			continue
		}
		if n, _, ok := parseIndex(e.Name()); ok {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out, nil
}
