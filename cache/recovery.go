package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/orcastor/vdisk/core"
)

// recover seeds the bitmaps and counters from the chunk files under root.
// Anything that could not have been produced by this image fails the mount
// with ERR_INVALID_CACHE.
func (img *Image) recover() error {
	entries, err := os.ReadDir(img.root)
	if err != nil {
		return core.NewIOError("open", img.root, err)
	}
	total := img.TotalChunks()
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dirNum, numeric, canonical := parseIndex(e.Name())
		if !numeric {
			continue
		}
		path := filepath.Join(img.root, e.Name())
		if !canonical {
			return fmt.Errorf("%w: invalid modified cache directory %s", core.ERR_INVALID_CACHE, path)
		}
		if err := img.recoverDir(path, dirNum, total); err != nil {
			return err
		}
	}
	core.DebugLog("[Cache] recovered image %s: modified=%d pending=%d",
		img.name, img.stats.ChunksModified.Value(), img.stats.ChunksModifiedNotUploaded.Value())
	return nil
}

func (img *Image) recoverDir(path string, dirNum, total uint64) error {
	entries, err := os.ReadDir(path)
	if err != nil {
		return core.NewIOError("open", path, err)
	}
	for _, e := range entries {
		i, numeric, canonical := parseIndex(e.Name())
		if numeric && i > total {
			return fmt.Errorf("%w: found modified cache entry that should have been deleted %s/%d",
				core.ERR_INVALID_CACHE, path, i)
		}
		if !canonical || e.IsDir() || DirNum(i) != dirNum {
			return fmt.Errorf("%w: invalid modified cache entry %s/%s",
				core.ERR_INVALID_CACHE, path, e.Name())
		}
		if err := img.recoverChunk(filepath.Join(path, e.Name()), i); err != nil {
			return err
		}
	}
	return nil
}

func (img *Image) recoverChunk(path string, i uint64) error {
	f, err := os.Open(path)
	if err != nil {
		return core.NewIOError("open", path, err)
	}
	defer f.Close()

	uploaded, err := img.flags.Uploaded(f)
	if err != nil {
		return core.NewIOError("read upload flag of", path, err)
	}
	img.modified.Set(i)
	img.stats.ChunksModifiedNotUploaded.Increment(1)
	if uploaded {
		img.uploaded.Set(i)
	}
	return nil
}
