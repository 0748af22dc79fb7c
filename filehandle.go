package filesys

// File is a per-opener view over a file inode: a seek cursor and a
// locally-held deny-write vote. Multiple File handles may share the same
// underlying Inode (and do, whenever a file is opened more than once).
type File struct {
	fs  *FileSystem
	ino *Inode
	pos int

	denyWriteLocally bool
}

// OpenFile opens the file inode at sector as a File handle.
func (fsys *FileSystem) OpenFile(sector uint32) (*File, error) {
	ino, err := fsys.inodes.open(sector)
	if err != nil {
		return nil, err
	}
	if ino.disk.IsDir != 0 {
		fsys.inodes.close(ino)
		return nil, ErrNotADirectory
	}
	return &File{fs: fsys, ino: ino}, nil
}

// Reopen returns a second handle over the same inode, with its own
// independent seek cursor, bumping the inode's open count.
func (f *File) Reopen() *File {
	f.fs.inodes.reopen(f.ino)
	return &File{fs: f.fs, ino: f.ino}
}

// Close releases this handle's reference to the inode. If this handle had
// an outstanding deny-write vote, it is withdrawn first.
func (f *File) Close() error {
	f.AllowWrite()
	return f.fs.inodes.close(f.ino)
}

// Read reads into p starting from the handle's current position, advancing
// it by the number of bytes actually read.
func (f *File) Read(p []byte) (int, error) {
	n, err := f.fs.readAt(f.ino, p, len(p), f.pos)
	f.pos += n
	return n, err
}

// ReadAt reads into p starting at offset, independent of and without
// touching the handle's seek cursor.
func (f *File) ReadAt(p []byte, offset int) (int, error) {
	return f.fs.readAt(f.ino, p, len(p), offset)
}

// Write writes p starting from the handle's current position, growing the
// file if necessary, and advances the cursor by the number of bytes
// actually written. It returns 0 without advancing the cursor while the
// inode's deny-write count is non-zero.
func (f *File) Write(p []byte) (int, error) {
	n, err := f.fs.writeAt(f.ino, p, len(p), f.pos)
	f.pos += n
	return n, err
}

// WriteAt writes p at offset, independent of the handle's seek cursor.
func (f *File) WriteAt(p []byte, offset int) (int, error) {
	return f.fs.writeAt(f.ino, p, len(p), offset)
}

// Seek repositions the handle's cursor to offset, regardless of the
// file's current length (a subsequent write there will zero-fill the gap).
func (f *File) Seek(offset int) {
	f.pos = offset
}

// Tell returns the handle's current cursor position.
func (f *File) Tell() int {
	return f.pos
}

// Length returns the file's current byte length.
func (f *File) Length() int {
	return int(f.ino.disk.Length)
}

// Inumber returns the sector number backing this file, used as its stable
// inode number by callers.
func (f *File) Inumber() uint32 {
	return f.ino.sector
}

// DenyWrite registers this handle's vote against writes to the underlying
// inode. Multiple handles may each deny writes independently; writes are
// refused as long as any vote is outstanding.
func (f *File) DenyWrite() {
	f.ino.denyMu.Lock()
	defer f.ino.denyMu.Unlock()
	if !f.denyWriteLocally {
		f.ino.denyWriteCnt++
		f.denyWriteLocally = true
	}
}

// AllowWrite withdraws this handle's deny-write vote, if any.
func (f *File) AllowWrite() {
	f.ino.denyMu.Lock()
	defer f.ino.denyMu.Unlock()
	if f.denyWriteLocally {
		f.ino.denyWriteCnt--
		f.denyWriteLocally = false
	}
}
