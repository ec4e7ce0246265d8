package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/orcastor/vdisk/core"
	. "github.com/smartystreets/goconvey/convey"
)

func testConfig(t *testing.T, chunkSize, initialSize int64) *core.Config {
	cfg := &core.Config{
		ImageName:   t.Name(),
		ChunkSize:   chunkSize,
		InitialSize: initialSize,
		CacheRoot:   t.TempDir(),
	}
	cfg.SetDefaults()
	return cfg
}

func openTestImage(t *testing.T, chunkSize, initialSize int64) *Image {
	img, err := Open(testConfig(t, chunkSize, initialSize))
	if err != nil {
		t.Fatalf("open image: %v", err)
	}
	t.Cleanup(img.Close)
	return img
}

// precondition runs fn and returns what it panicked with.
func precondition(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err, _ = r.(error)
		}
	}()
	fn()
	return nil
}

func pending(img *Image) int64  { return img.Stats().ChunksModifiedNotUploaded.Value() }
func modified(img *Image) int64 { return img.Stats().ChunksModified.Value() }

func TestWrite(t *testing.T) {
	Convey("write to a clean image", t, func() {
		img := openTestImage(t, 4096, 10000)
		So(img.TotalChunks(), ShouldEqual, 3)

		Convey("full chunk write creates a padded chunk file", func() {
			data := bytes.Repeat([]byte{0xab}, 4096)
			So(img.Write(10000, 0, 0, data), ShouldBeNil)

			fi, err := os.Stat(ChunkFile(img.Root(), 0))
			So(err, ShouldBeNil)
			So(fi.Size(), ShouldEqual, 4096)
			So(img.IsModified(0), ShouldBeTrue)
			So(modified(img), ShouldEqual, 1)
			So(pending(img), ShouldEqual, 1)
		})

		Convey("last partial chunk is full at its base length", func() {
			data := bytes.Repeat([]byte{1}, 10000-2*4096)
			So(img.Write(10000, 2, 0, data), ShouldBeNil)

			fi, err := os.Stat(ChunkFile(img.Root(), 2))
			So(err, ShouldBeNil)
			So(fi.Size(), ShouldEqual, 4096)
		})

		Convey("partial write to a clean chunk is a precondition violation", func() {
			err := precondition(func() { img.Write(10000, 0, 0, make([]byte, 100)) })
			So(errors.Is(err, core.ERR_PRECONDITION), ShouldBeTrue)
			So(img.IsModified(0), ShouldBeFalse)
		})

		Convey("partial write once the chunk is modified", func() {
			So(img.Write(10000, 0, 0, make([]byte, 4096)), ShouldBeNil)
			So(img.Write(10000, 0, 0, []byte("hello")), ShouldBeNil)
			So(img.Write(10000, 0, 100, []byte("world")), ShouldBeNil)
			So(modified(img), ShouldEqual, 1)
			So(pending(img), ShouldEqual, 1)

			buf := make([]byte, 5)
			So(img.Read(10000, 0, 100, buf), ShouldBeNil)
			So(string(buf), ShouldEqual, "world")
			So(img.Read(10000, 0, 0, buf), ShouldBeNil)
			So(string(buf), ShouldEqual, "hello")
		})

		Convey("out of bounds access is a precondition violation", func() {
			So(img.Write(10000, 1, 0, make([]byte, 4096)), ShouldBeNil)

			err := precondition(func() { img.Write(10000, 1, 4000, make([]byte, 200)) })
			So(errors.Is(err, core.ERR_PRECONDITION), ShouldBeTrue)
			err = precondition(func() { img.Read(10000, 1, 4096, make([]byte, 1)) })
			So(errors.Is(err, core.ERR_PRECONDITION), ShouldBeTrue)
			err = precondition(func() { img.Read(5000, 1, 1000, make([]byte, 100)) })
			So(errors.Is(err, core.ERR_PRECONDITION), ShouldBeTrue)
			err = precondition(func() { img.Read(10000, 0, 0, make([]byte, 1)) })
			So(errors.Is(err, core.ERR_PRECONDITION), ShouldBeTrue)
		})
	})
}

func TestRoundTrip(t *testing.T) {
	Convey("write then read returns the data", t, func() {
		img := openTestImage(t, 4096, 1<<20)
		So(img.Write(1<<20, 5, 0, make([]byte, 4096)), ShouldBeNil)
		for _, l := range []int{1, 100, 4095, 4096} {
			data := bytes.Repeat([]byte{byte(l)}, l)
			So(img.Write(1<<20, 5, 0, data), ShouldBeNil)
			buf := make([]byte, l)
			So(img.Read(1<<20, 5, 0, buf), ShouldBeNil)
			So(buf, ShouldResemble, data)
		}
	})
}

func TestResize(t *testing.T) {
	Convey("resize", t, func() {
		img := openTestImage(t, 4096, 10000)

		Convey("non-aligned shrink onto a clean chunk is a precondition violation", func() {
			err := precondition(func() { img.Resize(10000, 5000) })
			So(errors.Is(err, core.ERR_PRECONDITION), ShouldBeTrue)
		})

		Convey("shrink deletes modified chunks past the boundary", func() {
			So(img.Write(10000, 1, 0, bytes.Repeat([]byte{7}, 4096)), ShouldBeNil)
			So(img.Write(10000, 2, 0, bytes.Repeat([]byte{7}, 10000-8192)), ShouldBeNil)
			So(modified(img), ShouldEqual, 2)
			So(pending(img), ShouldEqual, 2)

			So(img.Resize(10000, 5000), ShouldBeNil)

			_, err := os.Stat(ChunkFile(img.Root(), 2))
			So(os.IsNotExist(err), ShouldBeTrue)
			So(img.IsModified(2), ShouldBeFalse)
			So(img.IsModified(1), ShouldBeTrue)
			So(modified(img), ShouldEqual, 1)
			So(pending(img), ShouldEqual, 1)

			Convey("and re-frames the boundary chunk", func() {
				So(img.Resize(5000, 10000), ShouldBeNil)
				buf := make([]byte, 4096)
				So(img.Read(10000, 1, 0, buf), ShouldBeNil)
				So(buf[:5000-4096], ShouldResemble, bytes.Repeat([]byte{7}, 5000-4096))
				So(buf[5000-4096:], ShouldResemble, make([]byte, 4096-(5000-4096)))
			})
		})

		Convey("a tail chunk that cannot be deleted is reported", func() {
			So(img.Write(10000, 1, 0, bytes.Repeat([]byte{7}, 4096)), ShouldBeNil)
			So(img.Write(10000, 2, 0, bytes.Repeat([]byte{7}, 10000-8192)), ShouldBeNil)

			// a non-empty directory in place of the chunk file makes the delete fail
			path := ChunkFile(img.Root(), 2)
			So(os.Remove(path), ShouldBeNil)
			So(os.MkdirAll(filepath.Join(path, "x"), 0o700), ShouldBeNil)

			err := img.Resize(10000, 5000)
			var te *TailError
			So(errors.As(err, &te), ShouldBeTrue)
			So(te.Size, ShouldEqual, 5000)
			So(errors.Is(err, core.ERR_IO), ShouldBeTrue)
			So(img.IsModified(2), ShouldBeTrue)
			So(modified(img), ShouldEqual, 2)

			Convey("and a later grow overwrites what was left", func() {
				So(os.RemoveAll(path), ShouldBeNil)
				So(img.Resize(5000, 10000), ShouldBeNil)
				buf := make([]byte, 10000-8192)
				So(img.Read(10000, 2, 0, buf), ShouldBeNil)
				So(buf, ShouldResemble, make([]byte, len(buf)))
				So(modified(img), ShouldEqual, 2)
				So(pending(img), ShouldEqual, 2)
			})
		})

		Convey("aligned shrink deletes the chunk at the new end", func() {
			So(img.Write(10000, 1, 0, make([]byte, 4096)), ShouldBeNil)
			So(img.Resize(10000, 4096), ShouldBeNil)
			So(img.IsModified(1), ShouldBeFalse)
			So(modified(img), ShouldEqual, 0)
			So(pending(img), ShouldEqual, 0)
		})

		Convey("shrink deletes uploaded chunks consistently", func() {
			So(img.Write(10000, 2, 0, make([]byte, 10000-8192)), ShouldBeNil)
			_, ok, err := img.BeginUpload(2)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(img.FinishUpload(2), ShouldBeNil)
			So(pending(img), ShouldEqual, 0)

			So(img.Resize(10000, 8192), ShouldBeNil)
			So(img.IsModified(2), ShouldBeFalse)
			So(img.IsUploaded(2), ShouldBeFalse)
			So(modified(img), ShouldEqual, 0)
			So(pending(img), ShouldEqual, 0)
		})

		Convey("grow creates zero-filled pending chunks", func() {
			So(img.Resize(10000, 20000), ShouldBeNil)
			// chunks 3 and 4 are new, 0..2 still come from the base
			So(img.IsModified(2), ShouldBeFalse)
			So(img.IsModified(3), ShouldBeTrue)
			So(img.IsModified(4), ShouldBeTrue)
			So(modified(img), ShouldEqual, 2)
			So(pending(img), ShouldEqual, 2)

			buf := make([]byte, 4096)
			So(img.Read(20000, 4, 0, buf[:20000-4*4096]), ShouldBeNil)
			So(buf, ShouldResemble, make([]byte, 4096))

			select {
			case <-img.Pending():
			default:
				So("no pending signal", ShouldBeEmpty)
			}
		})
	})
}
