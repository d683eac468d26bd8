package fuse

import (
	"context"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"ircfs/fuse/diag"
)

// FS is the root inode of the ircfs filesystem. Every node below it
// delegates to the shared Projection by path, so the kernel never sees
// state that the store does not currently hold.
type FS struct {
	fs.Inode
	proj *Projection
	Diag *diag.Tracker // tracks in-flight FUSE I/O operations
}

// NewFS creates the root node over proj.
func NewFS(proj *Projection) *FS {
	return &FS{proj: proj, Diag: proj.diag}
}

var _ = (fs.NodeLookuper)((*FS)(nil))
var _ = (fs.NodeReaddirer)((*FS)(nil))
var _ = (fs.NodeGetattrer)((*FS)(nil))
var _ = (fs.NodeMkdirer)((*FS)(nil))
var _ = (fs.NodeRmdirer)((*FS)(nil))

func (f *FS) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	path := "/" + name
	if errno := f.proj.Getattr(path, &out.Attr); errno != 0 {
		return nil, errno
	}
	if out.Attr.Mode&syscall.S_IFMT == syscall.S_IFDIR {
		return f.NewInode(ctx, &ChannelNode{proj: f.proj, name: name}, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
	}
	return f.NewInode(ctx, &FileNode{proj: f.proj, path: path}, fs.StableAttr{Mode: fuse.S_IFREG}), 0
}

func (f *FS) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, errno := f.proj.List("/")
	if errno != 0 {
		return nil, errno
	}
	return fs.NewListDirStream(entries), 0
}

func (f *FS) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return f.proj.Getattr("/", &out.Attr)
}

func (f *FS) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	path := "/" + name
	if errno := f.proj.Mkdir(path); errno != 0 {
		return nil, errno
	}
	if errno := f.proj.Getattr(path, &out.Attr); errno != 0 {
		return nil, errno
	}
	return f.NewInode(ctx, &ChannelNode{proj: f.proj, name: name}, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
}

func (f *FS) Rmdir(ctx context.Context, name string) syscall.Errno {
	return f.proj.Rmdir("/" + name)
}

// --- ChannelNode: /#chan directory ---

type ChannelNode struct {
	fs.Inode
	proj *Projection
	name string
}

var _ = (fs.NodeLookuper)((*ChannelNode)(nil))
var _ = (fs.NodeReaddirer)((*ChannelNode)(nil))
var _ = (fs.NodeGetattrer)((*ChannelNode)(nil))
var _ = (fs.NodeMkdirer)((*ChannelNode)(nil))

func (c *ChannelNode) path() string {
	return "/" + c.name
}

func (c *ChannelNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	path := c.path() + "/" + name
	if errno := c.proj.Getattr(path, &out.Attr); errno != 0 {
		return nil, errno
	}
	return c.NewInode(ctx, &FileNode{proj: c.proj, path: path}, fs.StableAttr{Mode: fuse.S_IFREG}), 0
}

func (c *ChannelNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, errno := c.proj.List(c.path())
	if errno != 0 {
		return nil, errno
	}
	return fs.NewListDirStream(entries), 0
}

// Mkdir always fails: channels hold no subdirectories.
func (c *ChannelNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, c.proj.Mkdir(c.path() + "/" + name)
}

func (c *ChannelNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return c.proj.Getattr(c.path(), &out.Attr)
}

// --- FileNode: channel files and private conversation files ---

// FileNode serves messages, topic, users and private conversation
// files. Content changes underneath open handles, so every open uses
// direct I/O and bypasses the page cache.
type FileNode struct {
	fs.Inode
	proj *Projection
	path string
}

var _ = (fs.NodeOpener)((*FileNode)(nil))
var _ = (fs.NodeReader)((*FileNode)(nil))
var _ = (fs.NodeWriter)((*FileNode)(nil))
var _ = (fs.NodeGetattrer)((*FileNode)(nil))
var _ = (fs.NodeSetattrer)((*FileNode)(nil))

func (n *FileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	return nil, fuse.FOPEN_DIRECT_IO, 0
}

func (n *FileNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, errno := n.proj.Read(n.path, dest, off)
	if errno != 0 {
		return nil, errno
	}
	return fuse.ReadResultData(data), 0
}

func (n *FileNode) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	return n.proj.Write(n.path, data)
}

func (n *FileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	return n.proj.Getattr(n.path, &out.Attr)
}

func (n *FileNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	// Accept truncate (from shell > redirect) on writable files
	if _, ok := in.GetSize(); ok {
		if errno := n.proj.Truncate(n.path); errno != 0 {
			return errno
		}
	}
	return n.Getattr(ctx, f, out)
}

// --- helpers ---

// setTimestamps sets Atime, Mtime, and Ctime on an Attr to the given time.
func setTimestamps(attr *fuse.Attr, t time.Time) {
	sec := uint64(t.Unix())
	nsec := uint32(t.Nanosecond())
	attr.Atime = sec
	attr.Atimensec = nsec
	attr.Mtime = sec
	attr.Mtimensec = nsec
	attr.Ctime = sec
	attr.Ctimensec = nsec
}

func readAt(data, dest []byte, off int64) []byte {
	if off >= int64(len(data)) {
		return []byte{}
	}
	end := int64(len(data))
	if int64(len(dest)) < end-off {
		end = off + int64(len(dest))
	}
	return data[off:end]
}
