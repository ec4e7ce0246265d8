//go:build !windows
// +build !windows

package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/orcastor/vdisk/cache"
	"github.com/orcastor/vdisk/core"
	"github.com/orcastor/vdisk/uploader"
	"github.com/orcastor/vdisk/vfs"
)

func runMount(cfg *core.Config, base vfs.BaseImage) error {
	if *mountPoint == "" {
		return fmt.Errorf("%w: -mountpoint is required", core.ERR_INVALID_CONFIG)
	}
	if c, ok := base.(io.Closer); ok {
		defer c.Close()
	}

	img, err := cache.Open(cfg)
	if err != nil {
		return err
	}
	defer img.Close()

	ifs := vfs.NewImageFS(vfs.NewImageFile(img, base, cfg.InitialSize))
	pool := openPool(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	var syncer *uploader.Synchronizer
	if pool != nil {
		syncer = uploader.New(img, pool, cfg)
		if !cfg.Checkin {
			wg.Add(1)
			go func() {
				defer wg.Done()
				syncer.Run(ctx)
			}()
		}
	}

	server, err := vfs.Mount(ifs, &vfs.MountOptions{
		MountPoint: *mountPoint,
		Foreground: *foreground,
		AllowOther: *allowOther,
		Debug:      cfg.Debug || *debug,
	})
	if err != nil {
		cancel()
		wg.Wait()
		return fmt.Errorf("failed to mount: %w", err)
	}
	fmt.Printf("Mounted %s at %s\n", img.Name(), *mountPoint)

	err = vfs.Serve(server, *foreground)
	cancel()
	wg.Wait()
	if err != nil {
		return err
	}

	if syncer != nil && cfg.Checkin {
		sctx, scancel := signalContext()
		defer scancel()
		res, err := syncer.RunOnce(sctx)
		printResult(res)
		return err
	}
	return nil
}
