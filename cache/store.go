package cache

import (
	"fmt"
	"os"

	"github.com/orcastor/vdisk/core"
)

// BaseLength is how many bytes of chunk i the base image holds, which is
// also the only length a write to a clean chunk may have.
func (img *Image) BaseLength(i uint64) int64 {
	n := img.initialSize - img.chunkStart(i)
	switch {
	case n > img.chunkSize:
		return img.chunkSize
	case n < 0:
		return 0
	}
	return n
}

func (img *Image) requireBounds(imageSize int64, i uint64, offset int64, length int) {
	core.Require(offset >= 0 && offset < img.chunkSize,
		"chunk %d: offset %d outside chunk size %d", i, offset, img.chunkSize)
	core.Require(offset+int64(length) <= img.chunkSize,
		"chunk %d: %d bytes at %d cross the chunk end", i, length, offset)
	core.Require(img.chunkStart(i)+offset+int64(length) <= imageSize,
		"chunk %d: %d bytes at %d beyond image size %d", i, length, offset, imageSize)
}

// Read fills buf from modified chunk i starting at offset. The chunk must be
// modified and the range must lie inside both the chunk and imageSize.
func (img *Image) Read(imageSize int64, i uint64, offset int64, buf []byte) error {
	core.Require(img.modified.Test(i), "chunk %d is not modified", i)
	img.requireBounds(imageSize, i, offset, len(buf))

	path := img.file(i)
	f, err := os.Open(path)
	if err != nil {
		return core.NewIOError("open to read modified", path, err)
	}
	defer f.Close()

	if _, err := f.ReadAt(buf, offset); err != nil {
		return core.NewIOError("read modified", path, err)
	}
	return nil
}

// Write stores data into chunk i at offset. A chunk that is not modified yet
// may only be written as a whole (offset 0, every byte the base holds).
// Writing to a chunk whose upload has started or finished re-queues it.
func (img *Image) Write(imageSize int64, i uint64, offset int64, data []byte) error {
	dirty := img.modified.Test(i)
	core.Require(dirty || (offset == 0 && int64(len(data)) == img.BaseLength(i)),
		"chunk %d: partial write of %d bytes at %d to an unmodified chunk", i, len(data), offset)
	img.requireBounds(imageSize, i, offset, len(data))

	if err := img.ensureDir(i); err != nil {
		return err
	}
	path := img.file(i)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return core.NewIOError("open to write modified", path, err)
	}
	defer f.Close()

	if !dirty {
		if err := f.Truncate(img.chunkSize); err != nil {
			return core.NewIOError("truncate", path, err)
		}
	}
	if _, err := f.WriteAt(data, offset); err != nil {
		return core.NewIOError("write modified", path, err)
	}
	return img.markWritten(f, i)
}

// markWritten records that chunk i (open as f) just got new content.
func (img *Image) markWritten(f *os.File, i uint64) error {
	mu := img.lockFor(i)
	mu.Lock()
	defer mu.Unlock()

	if img.modified.Set(i) {
		img.stats.ChunksModifiedNotUploaded.Increment(1)
		img.signalPending()
		return nil
	}

	uploaded, err := img.flags.Uploaded(f)
	if err != nil {
		return core.NewIOError("read upload flag of", f.Name(), err)
	}
	if !uploaded {
		return nil
	}
	if err := img.flags.SetUploaded(f, false); err != nil {
		return core.NewIOError("clear upload flag of", f.Name(), err)
	}
	// While the transfer is still in flight the chunk was never added to
	// the uploaded map and is still counted as pending.
	img.uploaded.Clear(i)
	img.signalPending()
	return nil
}

// Resize moves the logical image size from currentSize to newSize. The
// caller must hold off all reads and writes while it runs.
//
// Growing creates zero-filled modified chunks for every newly addressable
// index. Shrinking re-frames the new last chunk so that bytes past newSize
// read as zero after a later grow, and deletes every modified chunk that
// lies wholly beyond newSize. A non-aligned shrink requires the new last
// chunk to be modified already.
func (img *Image) Resize(currentSize, newSize int64) error {
	core.Require(currentSize >= 0 && newSize >= 0, "negative size %d -> %d", currentSize, newSize)
	switch {
	case newSize > currentSize:
		return img.grow(currentSize, newSize)
	case newSize < currentSize:
		return img.shrink(newSize)
	}
	return nil
}

func (img *Image) grow(currentSize, newSize int64) error {
	for i := img.chunks(currentSize); i < img.chunks(newSize); i++ {
		if err := img.zeroChunk(i); err != nil {
			return err
		}
	}
	return nil
}

func (img *Image) zeroChunk(i uint64) error {
	if err := img.ensureDir(i); err != nil {
		return err
	}
	path := img.file(i)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return core.NewIOError("create modified", path, err)
	}
	defer f.Close()

	if err := f.Truncate(img.chunkSize); err != nil {
		return core.NewIOError("truncate", path, err)
	}
	return img.markWritten(f, i)
}

func (img *Image) shrink(newSize int64) error {
	b := uint64(newSize / img.chunkSize)
	if tail := newSize % img.chunkSize; tail != 0 {
		core.Require(img.modified.Test(b),
			"shrink to %d leaves unmodified chunk %d partially visible", newSize, b)
		if err := img.reframe(b, tail); err != nil {
			return err
		}
	}

	for _, i := range img.modified.From(img.chunks(newSize)) {
		if err := img.deleteChunk(i); err != nil {
			return &TailError{Size: newSize, Err: err}
		}
	}
	return nil
}

// TailError is returned by a shrink that re-framed the new last chunk but
// could not delete every chunk past it. The image already has the new size:
// the chunks left behind lie beyond it and a later grow overwrites them.
type TailError struct {
	Size int64
	Err  error
}

func (e *TailError) Error() string {
	return fmt.Sprintf("shrink to %d left chunks behind: %v", e.Size, e.Err)
}

func (e *TailError) Unwrap() error { return e.Err }

// reframe zeroes chunk i from length to the chunk end.
func (img *Image) reframe(i uint64, length int64) error {
	path := img.file(i)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return core.NewIOError("open to truncate modified", path, err)
	}
	defer f.Close()

	if err := f.Truncate(length); err != nil {
		return core.NewIOError("truncate", path, err)
	}
	if err := f.Truncate(img.chunkSize); err != nil {
		return core.NewIOError("extend", path, err)
	}
	return img.markWritten(f, i)
}

func (img *Image) deleteChunk(i uint64) error {
	mu := img.lockFor(i)
	mu.Lock()
	defer mu.Unlock()

	path := img.file(i)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return core.NewIOError("delete modified", path, err)
	}
	img.uploaded.Clear(i)
	if img.modified.Clear(i) {
		img.stats.ChunksModifiedNotUploaded.Decrement(1)
	}
	return nil
}
