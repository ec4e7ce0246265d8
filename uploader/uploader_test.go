package uploader

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/orcastor/vdisk/cache"
	"github.com/orcastor/vdisk/core"
	. "github.com/smartystreets/goconvey/convey"
)

type memPool struct {
	mu     sync.Mutex
	chunks map[uint64][]byte
	fail   map[uint64]bool
	// called while the transfer of a chunk is in flight
	during func(idx uint64)
}

func newMemPool() *memPool {
	return &memPool{chunks: map[uint64][]byte{}, fail: map[uint64]bool{}}
}

func (p *memPool) PutChunk(c core.Ctx, image string, idx uint64, data []byte) error {
	if p.during != nil {
		p.during(idx)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[idx] {
		return errors.New("pool unavailable")
	}
	p.chunks[idx] = append([]byte(nil), data...)
	return nil
}

func (p *memPool) GetChunk(c core.Ctx, image string, idx uint64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if data, ok := p.chunks[idx]; ok {
		return data, nil
	}
	return nil, core.ERR_CHUNK_NOT_FOUND
}

const (
	testChunkSize = 4096
	testImageSize = 64 * testChunkSize
)

func setup(t *testing.T) (*cache.Image, *core.Config) {
	cfg := &core.Config{
		ImageName:   "uploader",
		ChunkSize:   testChunkSize,
		InitialSize: testImageSize,
		CacheRoot:   t.TempDir(),
	}
	cfg.SetDefaults()
	img, err := cache.Open(cfg)
	if err != nil {
		t.Fatalf("open image: %v", err)
	}
	t.Cleanup(img.Close)
	return img, cfg
}

func dirty(img *cache.Image, i uint64, b byte) {
	So(img.Write(testImageSize, i, 0, bytes.Repeat([]byte{b}, testChunkSize)), ShouldBeNil)
}

func TestRunOnce(t *testing.T) {
	Convey("checkin pass", t, func() {
		img, cfg := setup(t)
		pool := newMemPool()
		dirty(img, 1, 1)
		dirty(img, 17, 2)
		dirty(img, 40, 3)
		stats := img.Stats()
		So(stats.ChunksModifiedNotUploaded.Value(), ShouldEqual, 3)

		Convey("uploads every pending chunk", func() {
			res, err := New(img, pool, cfg).RunOnce(context.TODO())
			So(err, ShouldBeNil)
			So(res.Scanned, ShouldEqual, 3)
			So(res.Uploaded, ShouldEqual, 3)
			So(res.Bytes, ShouldEqual, 3*testChunkSize)
			So(stats.ChunksModifiedNotUploaded.Value(), ShouldEqual, 0)
			So(stats.ChunksModified.Value(), ShouldEqual, 3)
			So(img.IsUploaded(40), ShouldBeTrue)
			So(pool.chunks[40], ShouldResemble, bytes.Repeat([]byte{3}, testChunkSize))

			Convey("and skips them on the next pass", func() {
				res, err := New(img, pool, cfg).RunOnce(context.TODO())
				So(err, ShouldBeNil)
				So(res.Uploaded, ShouldEqual, 0)
				So(res.Skipped, ShouldEqual, 3)
			})
		})

		Convey("a failed transfer still counts as uploaded by default", func() {
			pool.fail[40] = true
			res, err := New(img, pool, cfg).RunOnce(context.TODO())
			So(err, ShouldBeNil)
			So(res.Failed, ShouldEqual, 1)
			So(res.Uploaded, ShouldEqual, 2)
			So(img.IsUploaded(40), ShouldBeTrue)
			So(stats.ChunksModifiedNotUploaded.Value(), ShouldEqual, 0)
		})

		Convey("a failed transfer is retried with requeue_failed", func() {
			cfg.RequeueFailed = true
			pool.fail[40] = true
			s := New(img, pool, cfg)
			res, err := s.RunOnce(context.TODO())
			So(err, ShouldBeNil)
			So(res.Failed, ShouldEqual, 1)
			So(img.IsUploaded(40), ShouldBeFalse)
			So(stats.ChunksModifiedNotUploaded.Value(), ShouldEqual, 1)

			delete(pool.fail, 40)
			res, err = s.RunOnce(context.TODO())
			So(err, ShouldBeNil)
			So(res.Uploaded, ShouldEqual, 1)
			So(stats.ChunksModifiedNotUploaded.Value(), ShouldEqual, 0)
		})

		Convey("a write racing the transfer is uploaded again", func() {
			pool.during = func(idx uint64) {
				if idx == 40 {
					pool.during = nil
					So(img.Write(testImageSize, 40, 0, []byte("new")), ShouldBeNil)
				}
			}
			_, err := New(img, pool, cfg).RunOnce(context.TODO())
			So(err, ShouldBeNil)
			So(img.IsUploaded(40), ShouldBeFalse)
			So(stats.ChunksModifiedNotUploaded.Value(), ShouldEqual, 1)

			res, err := New(img, pool, cfg).RunOnce(context.TODO())
			So(err, ShouldBeNil)
			So(res.Uploaded, ShouldEqual, 1)
			So(string(pool.chunks[40][:3]), ShouldEqual, "new")
		})

		Convey("stops on cancellation", func() {
			ctx, cancel := context.WithCancel(context.TODO())
			cancel()
			_, err := New(img, pool, cfg).RunOnce(ctx)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(stats.ChunksModifiedNotUploaded.Value(), ShouldEqual, 3)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("continuous mode", t, func() {
		img, cfg := setup(t)
		cfg.RescanIntervalSec = 3600
		pool := newMemPool()
		s := New(img, pool, cfg)

		ctx, cancel := context.WithCancel(context.TODO())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()

		// the pending signal wakes the loop long before the rescan interval
		dirty(img, 7, 7)
		deadline := time.Now().Add(5 * time.Second)
		for !img.IsUploaded(7) && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		So(img.IsUploaded(7), ShouldBeTrue)

		cancel()
		So(<-done, ShouldBeNil)
	})
}

func TestThrottle(t *testing.T) {
	Convey("rate cap", t, func() {
		img, cfg := setup(t)
		cfg.UploadRate = 4 * testChunkSize
		s := New(img, newMemPool(), cfg)
		So(s.limiter, ShouldNotBeNil)

		start := time.Now()
		for i := 0; i < 3; i++ {
			So(s.throttle(context.TODO(), testChunkSize), ShouldBeNil)
		}
		// the burst covers the first chunk, the next two wait a quarter second each
		So(time.Since(start), ShouldBeGreaterThanOrEqualTo, 400*time.Millisecond)

		Convey("unlimited without a rate", func() {
			cfg.UploadRate = 0
			So(New(img, newMemPool(), cfg).limiter, ShouldBeNil)
		})
	})
}

func TestUploadWindow(t *testing.T) {
	Convey("upload window", t, func() {
		img, cfg := setup(t)
		cfg.UploadWindow = "* 1 * * *"
		cfg.RescanIntervalSec = 3600
		pool := newMemPool()
		s := New(img, pool, cfg)
		s.now = func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local) }

		dirty(img, 3, 3)
		ctx, cancel := context.WithCancel(context.TODO())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()
		time.Sleep(100 * time.Millisecond)
		cancel()
		So(<-done, ShouldBeNil)
		So(img.IsUploaded(3), ShouldBeFalse)
	})
}
