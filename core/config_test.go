package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoadConfig(t *testing.T) {
	Convey("load config", t, func() {
		Convey("defaults", func() {
			cfg, err := LoadConfig("")
			So(err, ShouldBeNil)
			So(cfg.ChunkSize, ShouldEqual, DefaultChunkSize)
			So(cfg.RescanInterval(), ShouldEqual, DefaultRescanInterval*time.Second)
			So(cfg.FlagStore, ShouldEqual, FLAG_STORE_MODE)
			So(cfg.ImageName, ShouldEqual, "disk")
			So(cfg.UploadEnabled(), ShouldBeFalse)
		})

		Convey("bad json", func() {
			path := filepath.Join(t.TempDir(), "vdisk.json")
			So(os.WriteFile(path, []byte(`{`), 0o644), ShouldBeNil)
			_, err := LoadConfig(path)
			So(errors.Is(err, ERR_INVALID_CONFIG), ShouldBeTrue)
		})

		Convey("yaml file", func() {
			path := filepath.Join(t.TempDir(), "vdisk.yaml")
			So(os.WriteFile(path, []byte("image_name: xp\nchunk_size: 4096\nupload_window: \"* 0-6 * * *\"\nrequeue_failed: true\n"), 0o644), ShouldBeNil)
			cfg, err := LoadConfig(path)
			So(err, ShouldBeNil)
			So(cfg.ImageName, ShouldEqual, "xp")
			So(cfg.ChunkSize, ShouldEqual, 4096)
			So(cfg.UploadWindow, ShouldEqual, "* 0-6 * * *")
			So(cfg.RequeueFailed, ShouldBeTrue)
		})

		Convey("file then environment", func() {
			path := filepath.Join(t.TempDir(), "vdisk.json")
			So(os.WriteFile(path, []byte(`{"image_name":"win10","chunk_size":65536,"cache_root":"/tmp/c","upload_rate":100}`), 0o644), ShouldBeNil)
			t.Setenv(ENV_UPLOAD_RATE, "2048")
			t.Setenv(ENV_POOL_PATH, "/tmp/pool")

			cfg, err := LoadConfig(path)
			So(err, ShouldBeNil)
			So(cfg.ImageName, ShouldEqual, "win10")
			So(cfg.ChunkSize, ShouldEqual, 65536)
			So(cfg.CacheRoot, ShouldEqual, "/tmp/c")
			So(cfg.UploadRate, ShouldEqual, 2048)
			So(cfg.UploadEnabled(), ShouldBeTrue)
		})
	})
}

func TestLoadConfigBadEnv(t *testing.T) {
	Convey("bad environment value", t, func() {
		t.Setenv(ENV_CHUNK_SIZE, "lots")
		_, err := LoadConfig("")
		So(errors.Is(err, ERR_INVALID_CONFIG), ShouldBeTrue)
	})
}

func TestValidate(t *testing.T) {
	Convey("validate", t, func() {
		valid := func() *Config {
			cfg := &Config{CacheRoot: "/tmp/c", InitialSize: 1 << 20}
			cfg.SetDefaults()
			return cfg
		}
		So(valid().Validate(), ShouldBeNil)

		cases := []func(*Config){
			func(c *Config) { c.ChunkSize = 3000 },
			func(c *Config) { c.ChunkSize = -4096 },
			func(c *Config) { c.InitialSize = -1 },
			func(c *Config) { c.CacheRoot = "" },
			func(c *Config) { c.UploadRate = -1 },
			func(c *Config) { c.BasePath, c.BaseURL = "a", "http://b" },
			func(c *Config) { c.PoolPath, c.PoolURL = "a", "http://b" },
			func(c *Config) { c.FlagStore = "db" },
			func(c *Config) { c.ImageName = ".." },
			func(c *Config) { c.UploadWindow = "nightly" },
		}
		for _, mutate := range cases {
			cfg := valid()
			mutate(cfg)
			So(errors.Is(cfg.Validate(), ERR_INVALID_CONFIG), ShouldBeTrue)
		}
	})
}
