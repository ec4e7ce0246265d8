package cache

import (
	"io"
	"os"

	"github.com/orcastor/vdisk/core"
)

// BeginUpload claims modified chunk i for transfer. It persists the uploaded
// flag first and only then reads the content, so a write that lands while the
// transfer is in flight always sees the flag and re-queues the chunk.
//
// ok is false when the chunk is not modified or its flag is already set.
func (img *Image) BeginUpload(i uint64) (data []byte, ok bool, err error) {
	path := img.file(i)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, core.NewIOError("open to upload", path, err)
	}
	defer f.Close()

	if claimed, err := img.claim(f, i); err != nil || !claimed {
		return nil, false, err
	}

	data = make([]byte, img.chunkSize)
	n, err := f.ReadAt(data, 0)
	if err != nil && err != io.EOF {
		return nil, false, core.NewIOError("read modified", path, err)
	}
	return data[:n], true, nil
}

func (img *Image) claim(f *os.File, i uint64) (bool, error) {
	mu := img.lockFor(i)
	mu.Lock()
	defer mu.Unlock()

	if !img.modified.Test(i) {
		return false, nil
	}
	uploaded, err := img.flags.Uploaded(f)
	if err != nil {
		return false, core.NewIOError("read upload flag of", f.Name(), err)
	}
	if uploaded {
		return false, nil
	}
	if err := img.flags.SetUploaded(f, true); err != nil {
		return false, core.NewIOError("set upload flag of", f.Name(), err)
	}
	return true, nil
}

// FinishUpload completes a transfer started by BeginUpload. The chunk only
// counts as uploaded if no write or delete revoked the claim meanwhile.
func (img *Image) FinishUpload(i uint64) error {
	mu := img.lockFor(i)
	mu.Lock()
	defer mu.Unlock()

	if !img.modified.Test(i) {
		return nil
	}
	still, err := img.flagOf(i)
	if err != nil || !still {
		return err
	}
	img.uploaded.Set(i)
	return nil
}

// AbortUpload drops the claim of a failed transfer so the next pass retries.
func (img *Image) AbortUpload(i uint64) error {
	mu := img.lockFor(i)
	mu.Lock()
	defer mu.Unlock()

	if !img.modified.Test(i) {
		return nil
	}
	path := img.file(i)
	f, err := os.Open(path)
	if err != nil {
		return core.NewIOError("open", path, err)
	}
	defer f.Close()

	if err := img.flags.SetUploaded(f, false); err != nil {
		return core.NewIOError("clear upload flag of", path, err)
	}
	img.signalPending()
	return nil
}

func (img *Image) flagOf(i uint64) (bool, error) {
	path := img.file(i)
	f, err := os.Open(path)
	if err != nil {
		return false, core.NewIOError("open", path, err)
	}
	defer f.Close()

	v, err := img.flags.Uploaded(f)
	if err != nil {
		return false, core.NewIOError("read upload flag of", path, err)
	}
	return v, nil
}
