package filesys

import (
	"fmt"
	"sync"
)

// FileSystem is the façade described in the design: a coarse-grained lock
// (file_sys_lock, here FileSystem.mu) wraps every directory-mutating
// operation so that multi-step directory updates never interleave, while
// data I/O against an already-open File goes straight to the buffer cache
// without touching this lock at all.
type FileSystem struct {
	dev     BlockDevice
	cache   *Cache
	freeMap *FreeMap
	inodes  *openInodes

	mu sync.Mutex // file_sys_lock
}

// Option configures a FileSystem at Format or Open time.
type Option func(*fsConfig)

type fsConfig struct {
	cacheSlots int
}

// WithCacheSize overrides the buffer cache's slot count (default
// DefaultCacheSlots).
func WithCacheSize(slots int) Option {
	return func(c *fsConfig) { c.cacheSlots = slots }
}

func buildConfig(opts []Option) *fsConfig {
	c := &fsConfig{cacheSlots: DefaultCacheSlots}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Format lays out a brand-new filesystem across dev: a free-sector map
// rooted at sector 0 and an empty root directory at sector 1, per the
// design's fixed on-disk layout (§6). dev must have at least enough
// sectors for the free-map's own bitmap (one bit per sector) plus the two
// header sectors and the root directory's initial data.
func Format(dev BlockDevice, opts ...Option) (*FileSystem, error) {
	cfg := buildConfig(opts)
	cache := NewCache(dev, cfg.cacheSlots)

	sectorCount := dev.SectorCount()
	if sectorCount < 4 {
		return nil, fmt.Errorf("device too small to format: %d sectors", sectorCount)
	}

	bitmapBytes := int((sectorCount + 7) / 8)
	bitmapSectors := (bitmapBytes + SectorSize - 1) / SectorSize
	if bitmapSectors > DirectN {
		return nil, fmt.Errorf("device too large for a direct-only free map: need %d sectors", bitmapSectors)
	}

	const dataStart = uint32(2)

	fmDisk := &onDiskInode{Magic: InodeMagic, Length: int32(bitmapBytes)}
	for i := 0; i < bitmapSectors; i++ {
		sector := dataStart + uint32(i)
		if err := cache.ZeroFill(sector, 0, SectorSize); err != nil {
			return nil, err
		}
		fmDisk.Direct[i] = sector
	}
	fmBuf := fmDisk.marshal()
	if err := cache.Write(FreeMapSector, fmBuf, 0, SectorSize, 0); err != nil {
		return nil, err
	}

	rootDisk := &onDiskInode{Magic: InodeMagic, IsDir: 1}
	rootBuf := rootDisk.marshal()
	if err := cache.Write(RootSector, rootBuf, 0, SectorSize, 0); err != nil {
		return nil, err
	}

	fsys := &FileSystem{dev: dev, cache: cache}
	fsys.inodes = newOpenInodes(fsys)

	fmIno := &Inode{fs: fsys, sector: FreeMapSector, disk: *fmDisk, openCnt: 1}
	fsys.inodes.table[FreeMapSector] = fmIno
	fsys.freeMap = &FreeMap{fs: fsys, ino: fmIno, totalBits: sectorCount}

	// Mark the header and bitmap-data sectors allocated. This, and only
	// this, is done by hand rather than through FreeMap.Allocate: at this
	// point in bootstrapping the free map is its own first client.
	for s := uint32(0); s < dataStart+uint32(bitmapSectors); s++ {
		if err := fsys.freeMap.setBit(s, true); err != nil {
			return nil, err
		}
	}

	root, err := fsys.OpenDir(RootSector)
	if err != nil {
		return nil, err
	}
	if err := fsys.createDirInode(RootSector, DefaultDirCapacity); err != nil {
		root.Close()
		return nil, err
	}
	// createDirInode rewrote the header in place on disk; refresh our
	// in-memory copy (root.ino is the canonical table entry, so every
	// other open of sector 1 sees this too).
	d, err := fsys.readInodeDisk(RootSector)
	if err != nil {
		root.Close()
		return nil, err
	}
	root.ino.disk = *d
	if err := root.initDotEntries(RootSector); err != nil {
		root.Close()
		return nil, err
	}
	root.Close()

	return fsys, nil
}

// Open mounts an already-formatted image backed by dev.
func Open(dev BlockDevice, opts ...Option) (*FileSystem, error) {
	cfg := buildConfig(opts)
	cache := NewCache(dev, cfg.cacheSlots)

	fsys := &FileSystem{dev: dev, cache: cache}
	fsys.inodes = newOpenInodes(fsys)

	d, err := fsys.readInodeDisk(FreeMapSector)
	if err != nil {
		return nil, err
	}
	if d.Magic != InodeMagic {
		return nil, fmt.Errorf("free map: %w", ErrBadMagic)
	}

	fmIno := &Inode{fs: fsys, sector: FreeMapSector, disk: *d, openCnt: 1}
	fsys.inodes.table[FreeMapSector] = fmIno
	fsys.freeMap = &FreeMap{fs: fsys, ino: fmIno, totalBits: dev.SectorCount()}

	return fsys, nil
}

// RootDir opens the root directory, suitable as the initial current
// directory for a newly created caller/thread context.
func (fsys *FileSystem) RootDir() (*Dir, error) {
	return fsys.OpenDir(RootSector)
}

// Create resolves path relative to cwd, allocates a new zero-or-given-size
// file inode, and links it into the parent directory. On any failure after
// the inode sector is allocated, the sector (and any data sectors the new
// inode itself had already grown) is released.
func (fsys *FileSystem) Create(cwd *Dir, path string, size int) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	parent, leaf, err := fsys.parsePath(cwd, path)
	if err != nil {
		return err
	}
	defer parent.Close()

	var sector uint32
	if err := fsys.freeMap.Allocate(1, &sector); err != nil {
		return err
	}
	if err := fsys.createInode(sector, int32(size), false); err != nil {
		fsys.freeMap.Release(sector, 1)
		return err
	}
	if err := parent.Add(leaf, sector); err != nil {
		fsys.discardInode(sector)
		return err
	}
	return nil
}

// CreateDir is Create's directory-making counterpart: it allocates a fresh
// directory inode sized for DefaultDirCapacity entries and seeds its "."
// and ".." entries.
func (fsys *FileSystem) CreateDir(cwd *Dir, path string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	parent, leaf, err := fsys.parsePath(cwd, path)
	if err != nil {
		return err
	}
	defer parent.Close()

	var sector uint32
	if err := fsys.freeMap.Allocate(1, &sector); err != nil {
		return err
	}
	if err := fsys.createDirInode(sector, DefaultDirCapacity); err != nil {
		fsys.freeMap.Release(sector, 1)
		return err
	}
	if err := parent.Add(leaf, sector); err != nil {
		fsys.discardInode(sector)
		return err
	}

	child, err := fsys.OpenDir(sector)
	if err != nil {
		parent.Remove(leaf)
		fsys.discardInode(sector)
		return err
	}
	defer child.Close()
	if err := child.initDotEntries(parent.Sector()); err != nil {
		parent.Remove(leaf)
		return err
	}
	return nil
}

// discardInode releases a just-allocated, never-linked inode's sectors by
// opening it, flagging it removed, and immediately closing it: since
// nothing else holds it open, the close drives the release straight
// through freeInodeSectors.
func (fsys *FileSystem) discardInode(sector uint32) {
	ino, err := fsys.inodes.open(sector)
	if err != nil {
		fsys.freeMap.Release(sector, 1)
		return
	}
	ino.removed = true
	fsys.inodes.close(ino)
}

// OpenPath resolves path relative to cwd and returns a File handle over it.
// It fails with ErrNotADirectory if path names a directory; use OpenDirPath
// for those.
func (fsys *FileSystem) OpenPath(cwd *Dir, path string) (*File, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	parent, leaf, err := fsys.parsePath(cwd, path)
	if err != nil {
		return nil, err
	}
	defer parent.Close()

	sector, err := parent.lookupSector(leaf)
	if err != nil {
		return nil, err
	}
	return fsys.OpenFile(sector)
}

// OpenDirPath resolves path relative to cwd and returns a Dir handle over
// it, failing with ErrNotADirectory if path names a regular file.
func (fsys *FileSystem) OpenDirPath(cwd *Dir, path string) (*Dir, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	parent, leaf, err := fsys.parsePath(cwd, path)
	if err != nil {
		return nil, err
	}
	defer parent.Close()

	sector, err := parent.lookupSector(leaf)
	if err != nil {
		return nil, err
	}
	return fsys.OpenDir(sector)
}

// Remove resolves path and unlinks it from its parent directory. If path
// names a directory, it must contain only "." and ".." or
// ErrDirectoryNotEmpty is returned.
func (fsys *FileSystem) Remove(cwd *Dir, path string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()

	parent, leaf, err := fsys.parsePath(cwd, path)
	if err != nil {
		return err
	}
	defer parent.Close()

	sector, err := parent.lookupSector(leaf)
	if err != nil {
		return err
	}

	d, err := fsys.readInodeDisk(sector)
	if err != nil {
		return err
	}
	if d.IsDir != 0 {
		target, err := fsys.OpenDir(sector)
		if err != nil {
			return err
		}
		empty, err := target.IsEmpty()
		target.Close()
		if err != nil {
			return err
		}
		if !empty {
			return ErrDirectoryNotEmpty
		}
	}

	return parent.Remove(leaf)
}

// Chdir resolves path relative to cwd and, on success, closes cwd and
// returns the new current-directory handle. On failure cwd is left
// untouched and open.
func (fsys *FileSystem) Chdir(cwd *Dir, path string) (*Dir, error) {
	next, err := fsys.OpenDirPath(cwd, path)
	if err != nil {
		return nil, err
	}
	cwd.Close()
	return next, nil
}

// Done flushes every dirty buffer to the device, then forces the device
// itself to stable storage if it supports that. Any in-flight caller racing
// with Done is, per the design, a caller error.
func (fsys *FileSystem) Done() error {
	if err := fsys.cache.FlushAll(); err != nil {
		return err
	}
	if f, ok := fsys.dev.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// FreeSectorCount reports the number of unallocated sectors, for
// diagnostics and tests.
func (fsys *FileSystem) FreeSectorCount() (uint32, error) {
	return fsys.freeMap.FreeSectorCount()
}
