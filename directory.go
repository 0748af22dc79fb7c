package filesys

import (
	"fmt"
)

const (
	// NameMax is the longest name a directory entry can hold.
	NameMax = 14

	nameFieldLen = NameMax + 1
	entrySize    = 1 + nameFieldLen + 4

	// DefaultDirCapacity is how many entries a freshly created directory
	// is sized to hold before it needs to grow.
	DefaultDirCapacity = 16
)

// direntOffsets, for readability at the call sites below.
const (
	entOffInUse = 0
	entOffName  = 1
	entOffIno   = 1 + nameFieldLen
)

// Dir is a directory-specialised handle over an inode: a separate type
// from File (per the design note that directories should not alias a file
// handle with a runtime type cast), sharing the same underlying Inode and
// open-inode table.
type Dir struct {
	fs  *FileSystem
	ino *Inode
	pos int // readdir cursor, in entries
}

// createDirInode formats a fresh directory inode at sector, sized to hold
// capacity entries (all initially unused).
func (fsys *FileSystem) createDirInode(sector uint32, capacity int) error {
	return fsys.createInode(sector, int32(capacity*entrySize), true)
}

// OpenDir opens the directory inode at sector as a Dir handle.
func (fsys *FileSystem) OpenDir(sector uint32) (*Dir, error) {
	ino, err := fsys.inodes.open(sector)
	if err != nil {
		return nil, err
	}
	if ino.disk.IsDir == 0 {
		fsys.inodes.close(ino)
		return nil, ErrNotADirectory
	}
	return &Dir{fs: fsys, ino: ino}, nil
}

// Reopen returns a second handle sharing the same in-memory inode, bumping
// its open count.
func (d *Dir) Reopen() *Dir {
	d.fs.inodes.reopen(d.ino)
	return &Dir{fs: d.fs, ino: d.ino}
}

// Close drops this handle's reference to the directory's inode.
func (d *Dir) Close() error {
	return d.fs.inodes.close(d.ino)
}

// Sector returns the directory's own inode sector number (its inumber).
func (d *Dir) Sector() uint32 { return d.ino.sector }

func readEntry(fsys *FileSystem, ino *Inode, offset int) (inUse bool, name string, sector uint32, err error) {
	buf := make([]byte, entrySize)
	n, err := fsys.readAt(ino, buf, entrySize, offset)
	if err != nil {
		return false, "", 0, err
	}
	if n < entrySize {
		return false, "", 0, nil
	}
	inUse = buf[entOffInUse] != 0
	nameBuf := buf[entOffName : entOffName+nameFieldLen]
	end := 0
	for end < len(nameBuf) && nameBuf[end] != 0 {
		end++
	}
	name = string(nameBuf[:end])
	sector = leUint32(buf[entOffIno:])
	return inUse, name, sector, nil
}

func writeEntry(fsys *FileSystem, ino *Inode, offset int, inUse bool, name string, sector uint32) error {
	buf := make([]byte, entrySize)
	if inUse {
		buf[entOffInUse] = 1
	}
	copy(buf[entOffName:entOffName+nameFieldLen], name)
	putLeUint32(buf[entOffIno:], sector)
	_, err := fsys.writeAt(ino, buf, entrySize, offset)
	return err
}

// Lookup scans for a live entry named name and returns the inode sector it
// points to. Callers that want a usable handle should open that sector
// with the filesystem's OpenFile or OpenDir, whichever fits the entry's
// type, rather than holding a bare sector number around.
func (d *Dir) Lookup(name string) (uint32, error) {
	return d.lookupSector(name)
}

func (d *Dir) lookupSector(name string) (uint32, error) {
	count := int(d.ino.disk.Length) / entrySize
	for i := 0; i < count; i++ {
		inUse, ename, sector, err := readEntry(d.fs, d.ino, i*entrySize)
		if err != nil {
			return 0, err
		}
		if inUse && ename == name {
			return sector, nil
		}
	}
	return 0, ErrNoSuchPath
}

// Add writes a new entry (name -> inodeSector) into a free slot, growing
// the directory by one entry if none is free. It fails with ErrNameExists
// if a live entry of the same name is already present, or ErrNameTooLong
// if name exceeds NameMax bytes.
func (d *Dir) Add(name string, inodeSector uint32) error {
	if len(name) > NameMax {
		return ErrNameTooLong
	}
	if _, err := d.lookupSector(name); err == nil {
		return ErrNameExists
	} else if err != ErrNoSuchPath {
		return err
	}

	count := int(d.ino.disk.Length) / entrySize
	for i := 0; i < count; i++ {
		inUse, _, _, err := readEntry(d.fs, d.ino, i*entrySize)
		if err != nil {
			return err
		}
		if !inUse {
			return writeEntry(d.fs, d.ino, i*entrySize, true, name, inodeSector)
		}
	}

	// No free slot: grow the directory by exactly one entry.
	return writeEntry(d.fs, d.ino, count*entrySize, true, name, inodeSector)
}

// Remove marks name's entry unused and flags its target inode removed; the
// inode's blocks are released once its last opener closes it. It is the
// filesystem façade's job (not Dir's) to confirm a target directory is
// empty before calling this.
func (d *Dir) Remove(name string) error {
	count := int(d.ino.disk.Length) / entrySize
	for i := 0; i < count; i++ {
		inUse, ename, sector, err := readEntry(d.fs, d.ino, i*entrySize)
		if err != nil {
			return err
		}
		if inUse && ename == name {
			if err := writeEntry(d.fs, d.ino, i*entrySize, false, "", 0); err != nil {
				return err
			}

			target, err := d.fs.inodes.open(sector)
			if err != nil {
				return err
			}
			target.removed = true
			return d.fs.inodes.close(target)
		}
	}
	return ErrNoSuchPath
}

// IsEmpty reports whether the directory contains only "." and "..".
func (d *Dir) IsEmpty() (bool, error) {
	count := int(d.ino.disk.Length) / entrySize
	for i := 0; i < count; i++ {
		inUse, name, _, err := readEntry(d.fs, d.ino, i*entrySize)
		if err != nil {
			return false, err
		}
		if inUse && name != "." && name != ".." {
			return false, nil
		}
	}
	return true, nil
}

// Readdir returns the next live entry's name (excluding neither "." nor
// ".."; callers that want to skip them, as cmd/fsmount's Readdir does,
// filter themselves), advancing the directory's own cursor. ok is
// false once every entry has been visited.
func (d *Dir) Readdir() (name string, ok bool, err error) {
	count := int(d.ino.disk.Length) / entrySize
	for d.pos < count {
		offset := d.pos * entrySize
		d.pos++
		inUse, ename, _, err := readEntry(d.fs, d.ino, offset)
		if err != nil {
			return "", false, err
		}
		if inUse {
			return ename, true, nil
		}
	}
	return "", false, nil
}

// initDotEntries populates a freshly created directory's "." (pointing to
// itself) and ".." (pointing to parent, or itself for the root).
func (d *Dir) initDotEntries(parentSector uint32) error {
	if err := d.Add(".", d.ino.sector); err != nil {
		return fmt.Errorf("init '.' entry: %w", err)
	}
	if err := d.Add("..", parentSector); err != nil {
		return fmt.Errorf("init '..' entry: %w", err)
	}
	return nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
