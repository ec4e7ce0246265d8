package cache

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/orca-zhang/ecache"
	"github.com/orcastor/vdisk/core"
)

const lockStripes = 64

// Image is the per-mount context of one disk image: its geometry, the
// modified/uploaded bitmaps and the counters that track them.
type Image struct {
	name        string
	root        string
	chunkSize   int64
	initialSize int64

	flags    FlagStore
	stats    *core.Stats
	modified *core.BitSet
	uploaded *core.BitSet

	// shard directories known to exist
	dirs *ecache.Cache

	// serializes bitmap/flag/counter transitions of one chunk
	locks [lockStripes]sync.Mutex

	pending chan struct{}
}

type Option func(*Image)

// WithFlagStore overrides the flag store selected by the config.
func WithFlagStore(fs FlagStore) Option {
	return func(img *Image) { img.flags = fs }
}

// Open prepares the cache root and rebuilds the image state from it.
func Open(cfg *core.Config, opts ...Option) (*Image, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.CacheRoot, 0o700); err != nil {
		return nil, core.NewIOError("create", cfg.CacheRoot, err)
	}

	img := &Image{
		name:        cfg.ImageName,
		root:        cfg.CacheRoot,
		chunkSize:   cfg.ChunkSize,
		initialSize: cfg.InitialSize,
		flags:       ModeFlag{},
		stats:       core.NewStats(cfg.ImageName),
		dirs:        ecache.NewLRUCache(16, 64, time.Minute),
		pending:     make(chan struct{}, 1),
	}
	if cfg.FlagStore == core.FLAG_STORE_XATTR {
		img.flags = XattrFlag{}
	}
	for _, opt := range opts {
		opt(img)
	}
	img.modified = core.NewBitSet(func(delta int64) {
		img.stats.ChunksModified.Add(delta)
	})
	img.uploaded = core.NewBitSet(func(delta int64) {
		img.stats.ChunksModifiedNotUploaded.Add(-delta)
	})

	if err := img.recover(); err != nil {
		img.Close()
		return nil, err
	}
	return img, nil
}

// Close releases the bitmaps. The image must not be used afterwards.
func (img *Image) Close() {
	img.modified.Free()
	img.uploaded.Free()
}

func (img *Image) Name() string        { return img.name }
func (img *Image) Root() string        { return img.root }
func (img *Image) ChunkSize() int64    { return img.chunkSize }
func (img *Image) InitialSize() int64  { return img.initialSize }
func (img *Image) Stats() *core.Stats  { return img.stats }
func (img *Image) TotalChunks() uint64 { return img.chunks(img.initialSize) }

func (img *Image) IsModified(i uint64) bool { return img.modified.Test(i) }
func (img *Image) IsUploaded(i uint64) bool { return img.uploaded.Test(i) }

// Pending fires (at most once until drained) whenever a chunk becomes
// pending upload.
func (img *Image) Pending() <-chan struct{} { return img.pending }

func (img *Image) signalPending() {
	select {
	case img.pending <- struct{}{}:
	default:
	}
}

func (img *Image) lockFor(i uint64) *sync.Mutex {
	return &img.locks[i%lockStripes]
}

// chunks returns how many chunks are needed to hold size bytes.
func (img *Image) chunks(size int64) uint64 {
	return uint64((size + img.chunkSize - 1) / img.chunkSize)
}

func (img *Image) chunkStart(i uint64) int64 {
	return int64(i) * img.chunkSize
}

func (img *Image) file(i uint64) string {
	return ChunkFile(img.root, i)
}

func (img *Image) ensureDir(i uint64) error {
	key := strconv.FormatUint(DirNum(i), 10)
	if _, ok := img.dirs.Get(key); ok {
		return nil
	}
	dir := ChunkDir(img.root, i)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return core.NewIOError("create", dir, err)
	}
	img.dirs.Put(key, true)
	return nil
}
