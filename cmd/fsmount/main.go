//go:build fuse

// Command fsmount exposes a filesys disk image as a real mountpoint via
// FUSE, for interactive poking with ordinary shell tools. It is a thin
// bridge: every FUSE callback resolves a full path against the image's
// root directory, rather than caching per-node state, since the
// underlying filesys package already does its own inode caching.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"path"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/go-pintos/filesys"
)

func main() {
	debug := flag.Bool("debug", false, "print FUSE debug traffic")
	flag.Parse()
	if flag.NArg() != 2 {
		log.Fatal("usage: fsmount [-debug] <image-path> <mountpoint>")
	}
	imagePath, mountPoint := flag.Arg(0), flag.Arg(1)

	dev, err := filesys.OpenFileBlockDevice(imagePath, 0, false)
	if err != nil {
		log.Fatalf("open image: %v", err)
	}
	fsys, err := filesys.Open(dev)
	if err != nil {
		log.Fatalf("mount image: %v", err)
	}

	root := &fsNode{fsys: fsys, path: "/", isDir: true}
	opts := &fs.Options{MountOptions: fuse.MountOptions{Debug: *debug}}
	server, err := fs.Mount(mountPoint, root, opts)
	if err != nil {
		log.Fatalf("fuse mount: %v", err)
	}

	log.Printf("mounted %s on %s", imagePath, mountPoint)
	server.Wait()

	if err := fsys.Done(); err != nil {
		log.Printf("flush on unmount: %v", err)
	}
	dev.Close()
}

// fsNode is the FUSE node for one path within the image. rootDir is kept
// open for the node's entire lifetime; every operation below resolves its
// own path-relative handle against it and closes that handle before
// returning, since filesys serialises directory-mutating calls on its own
// internal lock and holding handles open longer than one call buys nothing.
type fsNode struct {
	fs.Inode

	fsys  *filesys.FileSystem
	path  string
	isDir bool

	mu      sync.Mutex
	rootDir *filesys.Dir
}

func (n *fsNode) root() (*filesys.Dir, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.rootDir == nil {
		d, err := n.fsys.RootDir()
		if err != nil {
			return nil, err
		}
		n.rootDir = d
	}
	return n.rootDir, nil
}

func childPath(parent, name string) string {
	return path.Join(parent, name)
}

var _ = (fs.NodeLookuper)((*fsNode)(nil))
var _ = (fs.NodeGetattrer)((*fsNode)(nil))
var _ = (fs.NodeReaddirer)((*fsNode)(nil))
var _ = (fs.NodeOpener)((*fsNode)(nil))
var _ = (fs.NodeCreater)((*fsNode)(nil))
var _ = (fs.NodeMkdirer)((*fsNode)(nil))
var _ = (fs.NodeUnlinker)((*fsNode)(nil))
var _ = (fs.NodeRmdirer)((*fsNode)(nil))

func (n *fsNode) statPath(p string) (isDir bool, size int64, errno syscall.Errno) {
	root, err := n.root()
	if err != nil {
		return false, 0, syscall.EIO
	}
	if d, err := n.fsys.OpenDirPath(root, p); err == nil {
		d.Close()
		return true, 0, 0
	} else if err != filesys.ErrNotADirectory {
		return false, 0, toErrno(err)
	}
	f, err := n.fsys.OpenPath(root, p)
	if err != nil {
		return false, 0, toErrno(err)
	}
	size = int64(f.Length())
	f.Close()
	return false, size, 0
}

func (n *fsNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	cp := childPath(n.path, name)
	isDir, size, errno := n.statPath(cp)
	if errno != 0 {
		return nil, errno
	}

	child := &fsNode{fsys: n.fsys, path: cp, isDir: isDir}
	mode := uint32(syscall.S_IFREG)
	if isDir {
		mode = syscall.S_IFDIR
	}
	out.Size = uint64(size)
	out.Mode = mode | 0644
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: mode})
	return inode, 0
}

func (n *fsNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	_, size, errno := n.statPath(n.path)
	if errno != 0 {
		return errno
	}
	out.Size = uint64(size)
	if n.isDir {
		out.Mode = syscall.S_IFDIR | 0755
	} else {
		out.Mode = syscall.S_IFREG | 0644
	}
	return 0
}

type dirStream struct {
	entries []fuse.DirEntry
	pos     int
}

func (s *dirStream) HasNext() bool { return s.pos < len(s.entries) }
func (s *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	e := s.entries[s.pos]
	s.pos++
	return e, 0
}
func (s *dirStream) Close() {}

func (n *fsNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	root, err := n.root()
	if err != nil {
		return nil, syscall.EIO
	}
	d, err := n.fsys.OpenDirPath(root, n.path)
	if err != nil {
		return nil, toErrno(err)
	}
	defer d.Close()

	var entries []fuse.DirEntry
	for {
		name, ok, err := d.Readdir()
		if err != nil {
			return nil, toErrno(err)
		}
		if !ok {
			break
		}
		if name == "." || name == ".." {
			continue
		}
		isDir, _, errno := n.statPath(childPath(n.path, name))
		if errno != 0 {
			continue
		}
		mode := uint32(syscall.S_IFREG)
		if isDir {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: mode})
	}
	return &dirStream{entries: entries}, 0
}

type fileHandle struct {
	f *filesys.File
}

var _ = (fs.FileReader)((*fileHandle)(nil))
var _ = (fs.FileWriter)((*fileHandle)(nil))
var _ = (fs.FileReleaser)((*fileHandle)(nil))

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.f.ReadAt(dest, int(off))
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.f.WriteAt(data, int(off))
	if err != nil {
		return uint32(n), toErrno(err)
	}
	return uint32(n), 0
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	h.f.Close()
	return 0
}

func (n *fsNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	root, err := n.root()
	if err != nil {
		return nil, 0, syscall.EIO
	}
	f, err := n.fsys.OpenPath(root, n.path)
	if err != nil {
		return nil, 0, toErrno(err)
	}
	return &fileHandle{f: f}, 0, 0
}

func (n *fsNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	root, err := n.root()
	if err != nil {
		return nil, nil, 0, syscall.EIO
	}
	cp := childPath(n.path, name)
	if err := n.fsys.Create(root, cp, 0); err != nil {
		return nil, nil, 0, toErrno(err)
	}
	f, err := n.fsys.OpenPath(root, cp)
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}

	child := &fsNode{fsys: n.fsys, path: cp}
	out.Mode = syscall.S_IFREG | 0644
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFREG})
	return inode, &fileHandle{f: f}, 0, 0
}

func (n *fsNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	root, err := n.root()
	if err != nil {
		return nil, syscall.EIO
	}
	cp := childPath(n.path, name)
	if err := n.fsys.CreateDir(root, cp); err != nil {
		return nil, toErrno(err)
	}

	child := &fsNode{fsys: n.fsys, path: cp, isDir: true}
	out.Mode = syscall.S_IFDIR | 0755
	inode := n.NewInode(ctx, child, fs.StableAttr{Mode: syscall.S_IFDIR})
	return inode, 0
}

func (n *fsNode) Unlink(ctx context.Context, name string) syscall.Errno {
	root, err := n.root()
	if err != nil {
		return syscall.EIO
	}
	return toErrno(n.fsys.Remove(root, childPath(n.path, name)))
}

func (n *fsNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.Unlink(ctx, name)
}

func toErrno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, filesys.ErrNoSuchPath):
		return syscall.ENOENT
	case errors.Is(err, filesys.ErrNameExists):
		return syscall.EEXIST
	case errors.Is(err, filesys.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, filesys.ErrDirectoryNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, filesys.ErrNameTooLong):
		return syscall.ENAMETOOLONG
	case errors.Is(err, filesys.ErrNoSpace):
		return syscall.ENOSPC
	case errors.Is(err, filesys.ErrWriteDenied):
		return syscall.EACCES
	default:
		fmt.Println("fsmount: unexpected error:", err)
		return syscall.EIO
	}
}
