//go:build !windows
// +build !windows

package vfs

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
)

// MountOptions mount options
type MountOptions struct {
	// Mount point path
	MountPoint string
	// FUSE mount options
	FuseOptions []string
	// Run in foreground (false means background)
	Foreground bool
	// Allow other users to access
	AllowOther bool
	// Enable debug mode (verbose output with timestamps)
	Debug bool
}

// Mount mounts the image filesystem
func Mount(ifs *ImageFS, opts *MountOptions) (*fuse.Server, error) {
	if opts == nil {
		return nil, fmt.Errorf("mount options cannot be nil")
	}

	mountPoint, err := filepath.Abs(opts.MountPoint)
	if err != nil {
		return nil, fmt.Errorf("invalid mount point: %w", err)
	}

	info, err := os.Stat(mountPoint)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat mount point: %w", err)
		}
		if err := os.MkdirAll(mountPoint, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create mount point: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("mount point is not a directory: %s", mountPoint)
	}

	if opts.Debug {
		SetDebugEnabled(true)
	}

	fuseOpts := &fuse.MountOptions{
		Options: []string{
			"default_permissions",
		},
		FsName: "vdisk",
		Name:   "vdisk",
	}
	if opts.AllowOther {
		fuseOpts.Options = append(fuseOpts.Options, "allow_other")
	}
	fuseOpts.Options = append(fuseOpts.Options, opts.FuseOptions...)

	// fs.Mount already serves in a goroutine, the caller only waits
	return ifs.Mount(mountPoint, fuseOpts)
}

// Serve blocks until the filesystem is unmounted. In the foreground it
// unmounts on SIGINT/SIGTERM itself.
func Serve(server *fuse.Server, foreground bool) error {
	if !foreground {
		server.Wait()
		return nil
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	fmt.Printf("\nReceived signal: %v, unmounting...\n", sig)
	if err := server.Unmount(); err != nil {
		return fmt.Errorf("failed to unmount: %w", err)
	}
	return nil
}
