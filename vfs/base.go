package vfs

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/orcastor/vdisk/core"
)

// BaseImage is the immutable source of every chunk that was never written.
type BaseImage interface {
	io.ReaderAt
	Size() int64
}

// FileBase reads the base image from a local file.
type FileBase struct {
	f    *os.File
	size int64
}

func OpenFileBase(path string) (*FileBase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.NewIOError("open base image", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, core.NewIOError("stat base image", path, err)
	}
	return &FileBase{f: f, size: fi.Size()}, nil
}

func (fb *FileBase) ReadAt(p []byte, off int64) (int, error) { return fb.f.ReadAt(p, off) }
func (fb *FileBase) Size() int64                             { return fb.size }
func (fb *FileBase) Close() error                            { return fb.f.Close() }

// ZeroBase is an image without a base: every clean byte reads as zero.
type ZeroBase struct{}

func (ZeroBase) ReadAt(p []byte, off int64) (int, error) { return 0, io.EOF }
func (ZeroBase) Size() int64                             { return 0 }

// HTTPBase reads the base image with HTTP range requests.
type HTTPBase struct {
	url    string
	size   int64
	client *http.Client
}

func NewHTTPBase(url string) (*HTTPBase, error) {
	hb := &HTTPBase{url: url, client: &http.Client{Timeout: 60 * time.Second}}
	resp, err := hb.client.Head(url)
	if err != nil {
		return nil, core.NewIOError("stat base image", url, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, core.NewIOError("stat base image", url, fmt.Errorf("unexpected status %s", resp.Status))
	}
	if hb.size, err = strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err != nil {
		return nil, core.NewIOError("stat base image", url, fmt.Errorf("no content length"))
	}
	return hb, nil
}

func (hb *HTTPBase) Size() int64 { return hb.size }

func (hb *HTTPBase) ReadAt(p []byte, off int64) (int, error) {
	if off >= hb.size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > hb.size {
		want = hb.size - off
	}
	if want == 0 {
		return 0, nil
	}

	req, err := http.NewRequest(http.MethodGet, hb.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+want-1))
	resp, err := hb.client.Do(req)
	if err != nil {
		return 0, core.NewIOError("read base image", hb.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return 0, core.NewIOError("read base image", hb.url, fmt.Errorf("unexpected status %s", resp.Status))
	}

	n, err := io.ReadFull(resp.Body, p[:want])
	if err != nil {
		return n, core.NewIOError("read base image", hb.url, err)
	}
	if want < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}
