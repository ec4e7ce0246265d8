//go:build !windows
// +build !windows

package vfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Mount mounts the image tree at mountPoint (Linux/Unix only)
func (ifs *ImageFS) Mount(mountPoint string, opts *fuse.MountOptions) (*fuse.Server, error) {
	if opts == nil {
		opts = &fuse.MountOptions{
			Options: []string{
				"default_permissions",
			},
		}
	}
	server, err := fs.Mount(mountPoint, &rootNode{ifs: ifs}, &fs.Options{
		MountOptions: *opts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mount: %w", err)
	}
	return server, nil
}

type rootNode struct {
	fs.Inode
	ifs *ImageFS
}

var _ = (fs.NodeOnAdder)((*rootNode)(nil))

func (r *rootNode) OnAdd(ctx context.Context) {
	image := r.NewPersistentInode(ctx, &imageNode{file: r.ifs.File()}, fs.StableAttr{Mode: syscall.S_IFREG})
	r.AddChild("image", image, false)

	stats := r.NewPersistentInode(ctx, &fs.Inode{}, fs.StableAttr{Mode: syscall.S_IFDIR})
	r.AddChild("stats", stats, false)
	for _, name := range statNames {
		n := stats.NewPersistentInode(ctx, &statNode{ifs: r.ifs, name: name}, fs.StableAttr{Mode: syscall.S_IFREG})
		stats.AddChild(name, n, false)
	}
}

// imageNode is the disk image itself.
type imageNode struct {
	fs.Inode
	file *ImageFile
}

var (
	_ = (fs.NodeGetattrer)((*imageNode)(nil))
	_ = (fs.NodeSetattrer)((*imageNode)(nil))
	_ = (fs.NodeOpener)((*imageNode)(nil))
	_ = (fs.NodeReader)((*imageNode)(nil))
	_ = (fs.NodeWriter)((*imageNode)(nil))
	_ = (fs.NodeFsyncer)((*imageNode)(nil))
)

func (n *imageNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | 0o600
	out.Size = uint64(n.file.Size())
	out.Nlink = 1
	return 0
}

func (n *imageNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if in.Valid&fuse.FATTR_SIZE != 0 {
		if err := n.file.Truncate(int64(in.Size)); err != nil {
			return toErrno(err)
		}
	}
	return n.Getattr(ctx, f, out)
}

func (n *imageNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, 0, 0
}

func (n *imageNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	nRead, err := n.file.ReadAt(dest, off)
	if err != nil && err != io.EOF {
		DebugLog("[VFS Read] off=%d, size=%d: %v", off, len(dest), err)
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:nRead]), 0
}

func (n *imageNode) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	written, err := n.file.WriteAt(data, off)
	if err != nil {
		DebugLog("[VFS Write] off=%d, size=%d: %v", off, len(data), err)
		return uint32(written), toErrno(err)
	}
	return uint32(written), 0
}

func (n *imageNode) Fsync(ctx context.Context, f fs.FileHandle, flags uint32) syscall.Errno {
	return toErrno(n.file.Sync())
}

// statNode is a read-only counter file under /stats.
type statNode struct {
	fs.Inode
	ifs  *ImageFS
	name string
}

var (
	_ = (fs.NodeGetattrer)((*statNode)(nil))
	_ = (fs.NodeOpener)((*statNode)(nil))
	_ = (fs.NodeReader)((*statNode)(nil))
)

func (n *statNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	content, err := n.ifs.StatContent(n.name)
	if err != nil {
		return syscall.ENOENT
	}
	out.Mode = syscall.S_IFREG | 0o444
	out.Size = uint64(len(content))
	out.Nlink = 1
	return 0
}

func (n *statNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EACCES
	}
	// the content changes without the size being refreshed
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *statNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	content, err := n.ifs.StatContent(n.name)
	if err != nil {
		return nil, syscall.ENOENT
	}
	if off >= int64(len(content)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	return fuse.ReadResultData(content[off:end]), 0
}

func toErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EIO
}
