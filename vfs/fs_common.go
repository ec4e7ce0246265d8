// Package vfs exposes one disk image through FUSE, dispatching every access
// to the base image or the modified chunk cache.
package vfs

import (
	"fmt"
	"strconv"

	"github.com/orcastor/vdisk/core"
)

// SetDebugEnabled sets the debug mode (can be called from cmd/main.go)
func SetDebugEnabled(enabled bool) {
	core.SetDebugEnabled(enabled)
}

func DebugLog(format string, args ...interface{}) {
	core.DebugLog(format, args...)
}

// ImageFS is the filesystem tree of one mounted image:
//
//	/image
//	/stats/chunk_size
//	/stats/chunks_modified
//	/stats/chunks_modified_not_uploaded
type ImageFS struct {
	file *ImageFile
}

func NewImageFS(file *ImageFile) *ImageFS {
	return &ImageFS{file: file}
}

func (ifs *ImageFS) File() *ImageFile { return ifs.file }

const (
	STAT_CHUNK_SIZE      = "chunk_size"
	STAT_CHUNKS_MODIFIED = "chunks_modified"
	STAT_CHUNKS_PENDING  = "chunks_modified_not_uploaded"
)

var statNames = []string{STAT_CHUNK_SIZE, STAT_CHUNKS_MODIFIED, STAT_CHUNKS_PENDING}

// StatContent renders one stats file, newline terminated.
func (ifs *ImageFS) StatContent(name string) ([]byte, error) {
	img := ifs.file.Image()
	var v int64
	switch name {
	case STAT_CHUNK_SIZE:
		v = img.ChunkSize()
	case STAT_CHUNKS_MODIFIED:
		v = img.Stats().ChunksModified.Value()
	case STAT_CHUNKS_PENDING:
		v = img.Stats().ChunksModifiedNotUploaded.Value()
	default:
		return nil, fmt.Errorf("unknown stat %q", name)
	}
	return []byte(strconv.FormatInt(v, 10) + "\n"), nil
}
