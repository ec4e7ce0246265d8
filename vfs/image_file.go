package vfs

import (
	"errors"
	"io"
	"strconv"
	"sync"

	"github.com/orcastor/vdisk/cache"
	"golang.org/x/sync/singleflight"
)

const copyUpStripes = 64

// ImageFile is the disk image as the filesystem sees it: a flat file whose
// chunks come either from the base image or from the modified cache.
type ImageFile struct {
	img  *cache.Image
	base BaseImage

	// readers and writers share it, a resize holds it exclusively
	mu   sync.RWMutex
	size int64

	// serializes copy-up and writes of one chunk
	stripes [copyUpStripes]sync.Mutex
	fetches singleflight.Group
}

func NewImageFile(img *cache.Image, base BaseImage, size int64) *ImageFile {
	if base == nil {
		base = ZeroBase{}
	}
	return &ImageFile{img: img, base: base, size: size}
}

func (f *ImageFile) Image() *cache.Image { return f.img }

func (f *ImageFile) Size() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.size
}

// ReadAt follows io.ReaderAt: a read that hits the end of the image returns
// the bytes before it together with io.EOF.
func (f *ImageFile) ReadAt(p []byte, off int64) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if off >= f.size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > f.size {
		want = f.size - off
	}

	cs := f.img.ChunkSize()
	var done int64
	for done < want {
		pos := off + done
		i, co := uint64(pos/cs), pos%cs
		n := cs - co
		if n > want-done {
			n = want - done
		}
		dst := p[done : done+n]
		if f.img.IsModified(i) {
			if err := f.img.Read(f.size, i, co, dst); err != nil {
				return int(done), err
			}
		} else if err := f.readBase(i, co, dst); err != nil {
			return int(done), err
		}
		done += n
	}
	if want < int64(len(p)) {
		return int(done), io.EOF
	}
	return int(done), nil
}

// readBase fills dst from the base image. Bytes the base does not hold read
// as zero.
func (f *ImageFile) readBase(i uint64, co int64, dst []byte) error {
	limit := f.img.BaseLength(i) - co
	if limit < 0 {
		limit = 0
	}
	if limit > int64(len(dst)) {
		limit = int64(len(dst))
	}
	start := int64(i)*f.img.ChunkSize() + co
	n, err := f.base.ReadAt(dst[:limit], start)
	if err != nil && err != io.EOF {
		return err
	}
	for k := n; k < len(dst); k++ {
		dst[k] = 0
	}
	return nil
}

// fetchBase returns the whole base content of chunk i. Concurrent fetches
// of the same chunk share one read.
func (f *ImageFile) fetchBase(i uint64) ([]byte, error) {
	v, err, _ := f.fetches.Do(strconv.FormatUint(i, 10), func() (interface{}, error) {
		buf := make([]byte, f.img.BaseLength(i))
		if err := f.readBase(i, 0, buf); err != nil {
			return nil, err
		}
		return buf, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// WriteAt writes p at off, growing the image first when p ends past it.
func (f *ImageFile) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	for {
		f.mu.RLock()
		if end <= f.size {
			break
		}
		f.mu.RUnlock()
		if err := f.grow(end); err != nil {
			return 0, err
		}
	}
	defer f.mu.RUnlock()

	cs := f.img.ChunkSize()
	var done int64
	for done < int64(len(p)) {
		pos := off + done
		i, co := uint64(pos/cs), pos%cs
		n := cs - co
		if n > int64(len(p))-done {
			n = int64(len(p)) - done
		}
		if err := f.writeChunk(i, co, p[done:done+n]); err != nil {
			return int(done), err
		}
		done += n
	}
	return int(done), nil
}

func (f *ImageFile) grow(end int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if end <= f.size {
		return nil
	}
	DebugLog("[ImageFile] grow %s: %d -> %d", f.img.Name(), f.size, end)
	if err := f.img.Resize(f.size, end); err != nil {
		return err
	}
	f.size = end
	return nil
}

// writeChunk must be called with f.mu read-locked.
func (f *ImageFile) writeChunk(i uint64, co int64, data []byte) error {
	whole := co == 0 && int64(len(data)) == f.img.BaseLength(i)

	var base []byte
	if !whole && !f.img.IsModified(i) {
		var err error
		if base, err = f.fetchBase(i); err != nil {
			return err
		}
	}

	mu := &f.stripes[i%copyUpStripes]
	mu.Lock()
	defer mu.Unlock()

	if !whole && !f.img.IsModified(i) {
		if base == nil {
			var err error
			if base, err = f.fetchBase(i); err != nil {
				return err
			}
		}
		if err := f.img.Write(f.size, i, 0, base); err != nil {
			return err
		}
	}
	return f.img.Write(f.size, i, co, data)
}

// Truncate resizes the image. A cut through a clean chunk first copies that
// chunk into the cache so that a later grow cannot expose base bytes.
func (f *ImageFile) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if size == f.size {
		return nil
	}
	DebugLog("[ImageFile] truncate %s: %d -> %d", f.img.Name(), f.size, size)
	if size < f.size && size%f.img.ChunkSize() != 0 {
		b := uint64(size / f.img.ChunkSize())
		if !f.img.IsModified(b) {
			base, err := f.fetchBase(b)
			if err != nil {
				return err
			}
			if err := f.img.Write(f.size, b, 0, base); err != nil {
				return err
			}
		}
	}
	if err := f.img.Resize(f.size, size); err != nil {
		var te *cache.TailError
		if errors.As(err, &te) {
			f.size = size
		}
		return err
	}
	f.size = size
	return nil
}

// Sync is a no-op: every write already reached its chunk file.
func (f *ImageFile) Sync() error {
	return nil
}
