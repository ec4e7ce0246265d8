package core

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
)

// ChunkPool is the remote store dirty chunks are mirrored to.
type ChunkPool interface {
	PutChunk(c Ctx, image string, idx uint64, data []byte) error
	GetChunk(c Ctx, image string, idx uint64) ([]byte, error)
}

const frameHdrSize = 8

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func codec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

// EncodeChunk frames a raw chunk as <xxh3 big-endian><zstd payload>.
func EncodeChunk(data []byte) ([]byte, error) {
	enc, _, err := codec()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, frameHdrSize, frameHdrSize+len(data)/2)
	binary.BigEndian.PutUint64(buf, xxh3.Hash(data))
	return enc.EncodeAll(data, buf), nil
}

// DecodeChunk reverses EncodeChunk and verifies the checksum.
func DecodeChunk(frame []byte) ([]byte, error) {
	if len(frame) < frameHdrSize {
		return nil, fmt.Errorf("%w: short frame (%d bytes)", ERR_CHECKSUM, len(frame))
	}
	_, dec, err := codec()
	if err != nil {
		return nil, err
	}
	data, err := dec.DecodeAll(frame[frameHdrSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ERR_CHECKSUM, err)
	}
	if want := binary.BigEndian.Uint64(frame); xxh3.Hash(data) != want {
		return nil, ERR_CHECKSUM
	}
	return data, nil
}

// NewFrame joins a checksum and a zstd payload received separately.
func NewFrame(checksum uint64, payload []byte) []byte {
	frame := make([]byte, frameHdrSize+len(payload))
	binary.BigEndian.PutUint64(frame, checksum)
	copy(frame[frameHdrSize:], payload)
	return frame
}

// FramePayload returns the zstd payload of a frame.
func FramePayload(frame []byte) []byte {
	if len(frame) < frameHdrSize {
		return nil
	}
	return frame[frameHdrSize:]
}

// FrameChecksum returns the checksum recorded in a frame header.
func FrameChecksum(frame []byte) uint64 {
	if len(frame) < frameHdrSize {
		return 0
	}
	return binary.BigEndian.Uint64(frame)
}

// ValidImageName reports whether name can be used as one path element of
// the pool: not empty, not "." or "..", no path separators.
func ValidImageName(name string) bool {
	switch name {
	case "", ".", "..":
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// DefaultPoolAdapter is a chunk pool kept in a local directory.
type DefaultPoolAdapter struct {
	dataPath string
}

func NewDefaultPoolAdapter(dataPath string) *DefaultPoolAdapter {
	return &DefaultPoolAdapter{dataPath: dataPath}
}

// path/<image>/<3 hex digits of name hash>/<idx>
func toPoolPath(path, image string, idx uint64) string {
	name := strconv.FormatUint(idx, 10)
	hash := fmt.Sprintf("%X", md5.Sum([]byte(image+"/"+name)))
	return filepath.Join(path, image, hash[21:24], name)
}

func (dpa *DefaultPoolAdapter) PutChunk(c Ctx, image string, idx uint64, data []byte) error {
	frame, err := EncodeChunk(data)
	if err != nil {
		return err
	}
	return dpa.PutFrame(c, image, idx, frame)
}

// PutFrame stores an already encoded chunk frame.
func (dpa *DefaultPoolAdapter) PutFrame(c Ctx, image string, idx uint64, frame []byte) error {
	if !ValidImageName(image) {
		return fmt.Errorf("%w: %q", ERR_INVALID_IMAGE, image)
	}
	path := toPoolPath(dpa.dataPath, image, idx)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return NewIOError("create", filepath.Dir(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return NewIOError("create", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(frame); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return NewIOError("write", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return NewIOError("rename", path, err)
	}
	return nil
}

func (dpa *DefaultPoolAdapter) GetChunk(c Ctx, image string, idx uint64) ([]byte, error) {
	frame, err := dpa.GetFrame(c, image, idx)
	if err != nil {
		return nil, err
	}
	return DecodeChunk(frame)
}

// GetFrame returns the stored frame without decoding it.
func (dpa *DefaultPoolAdapter) GetFrame(c Ctx, image string, idx uint64) ([]byte, error) {
	if !ValidImageName(image) {
		return nil, fmt.Errorf("%w: %q", ERR_INVALID_IMAGE, image)
	}
	path := toPoolPath(dpa.dataPath, image, idx)
	frame, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ERR_CHUNK_NOT_FOUND
		}
		return nil, NewIOError("read", path, err)
	}
	return frame, nil
}
