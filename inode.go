package filesys

import (
	"encoding/binary"
	"fmt"
	"sync"
)

const (
	// DirectN is the number of direct sector pointers carried in each
	// on-disk inode.
	DirectN = 123

	// IndirectN is the number of sector pointers an indirect (or one
	// level of a double-indirect) block holds: SectorSize/4.
	IndirectN = SectorSize / 4

	// InodeMagic identifies a valid on-disk inode ("INOD" read as a
	// big-endian uint32; stored little-endian, its bytes on disk are "DONI").
	InodeMagic = 0x494e4f44

	// MaxFileSectors is the addressable capacity of one inode.
	MaxFileSectors = DirectN + IndirectN + IndirectN*IndirectN

	// onDiskInodeSize is the exact, unpadded size of a marshalled inode.
	onDiskInodeSize = DirectN*4 + 4 + 4 + 4 + 4 + 4

	offDirect         = 0
	offIndirect       = DirectN * 4
	offDoubleIndirect = offIndirect + 4
	offLength         = offDoubleIndirect + 4
	offMagic          = offLength + 4
	offIsDir          = offMagic + 4
)

func init() {
	if onDiskInodeSize != SectorSize {
		panic(fmt.Sprintf("onDiskInode must be exactly %d bytes, got %d", SectorSize, onDiskInodeSize))
	}
}

// onDiskInode is the exact bit layout described in the design: direct,
// indirect and double-indirect sector pointers, a signed byte length, a
// magic value, and a directory flag, packed with no padding into one
// sector.
type onDiskInode struct {
	Direct         [DirectN]uint32
	Indirect       uint32
	DoubleIndirect uint32
	Length         int32
	Magic          uint32
	IsDir          uint32
}

func (d *onDiskInode) marshal() []byte {
	buf := make([]byte, onDiskInodeSize)
	for i, s := range d.Direct {
		binary.LittleEndian.PutUint32(buf[i*4:], s)
	}
	binary.LittleEndian.PutUint32(buf[offIndirect:], d.Indirect)
	binary.LittleEndian.PutUint32(buf[offDoubleIndirect:], d.DoubleIndirect)
	binary.LittleEndian.PutUint32(buf[offLength:], uint32(d.Length))
	binary.LittleEndian.PutUint32(buf[offMagic:], d.Magic)
	binary.LittleEndian.PutUint32(buf[offIsDir:], d.IsDir)
	return buf
}

func (d *onDiskInode) unmarshal(buf []byte) {
	for i := range d.Direct {
		d.Direct[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	d.Indirect = binary.LittleEndian.Uint32(buf[offIndirect:])
	d.DoubleIndirect = binary.LittleEndian.Uint32(buf[offDoubleIndirect:])
	d.Length = int32(binary.LittleEndian.Uint32(buf[offLength:]))
	d.Magic = binary.LittleEndian.Uint32(buf[offMagic:])
	d.IsDir = binary.LittleEndian.Uint32(buf[offIsDir:])
}

// Inode is the in-memory, reference-counted handle for one on-disk inode.
// Per the design's core invariant, at most one Inode exists per sector at
// any time; FileSystem's open-inode table enforces that.
type Inode struct {
	fs     *FileSystem
	sector uint32

	disk onDiskInode

	extLock sync.Mutex // held only during length extension, not payload copy
	denyMu  sync.Mutex // guards denyWriteCnt

	openCnt      int
	denyWriteCnt int
	removed      bool
}

func (fsys *FileSystem) readInodeDisk(sector uint32) (*onDiskInode, error) {
	buf := make([]byte, SectorSize)
	if err := fsys.cache.Read(sector, buf, 0, SectorSize, 0); err != nil {
		return nil, err
	}
	d := &onDiskInode{}
	d.unmarshal(buf)
	return d, nil
}

func (fsys *FileSystem) writeInodeDisk(sector uint32, d *onDiskInode) error {
	buf := d.marshal()
	return fsys.cache.Write(sector, buf, 0, SectorSize, 0)
}

func writeUint32Field(fsys *FileSystem, sector uint32, offset int, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return fsys.cache.Write(sector, buf[:], 0, 4, offset)
}

func readUint32Field(fsys *FileSystem, sector uint32, offset int) (uint32, error) {
	var buf [4]byte
	if err := fsys.cache.Read(sector, buf[:], 0, 4, offset); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// createInode writes a fresh inode header at sector, stamping the magic
// and is_dir flag, then extends it to length bytes (zero-filled) using the
// same growth routine runtime writes use.
func (fsys *FileSystem) createInode(sector uint32, length int32, isDir bool) error {
	d := &onDiskInode{
		Magic:  InodeMagic,
		Length: 0,
	}
	if isDir {
		d.IsDir = 1
	}
	if err := fsys.writeInodeDisk(sector, d); err != nil {
		return err
	}

	if length > 0 {
		ino := &Inode{fs: fsys, sector: sector, disk: *d}
		if err := fsys.growFile(ino, 0, int(length)); err != nil {
			return fmt.Errorf("create inode %d: %w", sector, err)
		}
		ino.disk.Length = length
		if err := fsys.writeInodeDisk(sector, &ino.disk); err != nil {
			return err
		}
	}
	return nil
}

// sectorClass describes which level of the inode's sector map a logical
// sector index falls into, per the design's byte-to-sector mapping.
type sectorClass int

const (
	classDirect sectorClass = iota
	classIndirect
	classDoubleIndirect
)

func classifySector(s int) (class sectorClass, idx1, idx2 int, err error) {
	switch {
	case s < DirectN:
		return classDirect, s, 0, nil
	case s < DirectN+IndirectN:
		return classIndirect, s - DirectN, 0, nil
	case s < MaxFileSectors:
		r := s - DirectN - IndirectN
		return classDoubleIndirect, r / IndirectN, r % IndirectN, nil
	default:
		return 0, 0, 0, ErrOutOfRange
	}
}

// sectorAt returns the physical sector backing logical sector index s of
// ino, or 0 if unallocated (treated as EOF/zero by readers).
func (fsys *FileSystem) sectorAt(ino *Inode, s int) (uint32, error) {
	class, idx1, idx2, err := classifySector(s)
	if err != nil {
		return 0, err
	}

	switch class {
	case classDirect:
		return ino.disk.Direct[idx1], nil
	case classIndirect:
		if ino.disk.Indirect == 0 {
			return 0, nil
		}
		return readUint32Field(fsys, ino.disk.Indirect, idx1*4)
	default: // classDoubleIndirect
		if ino.disk.DoubleIndirect == 0 {
			return 0, nil
		}
		mid, err := readUint32Field(fsys, ino.disk.DoubleIndirect, idx1*4)
		if err != nil || mid == 0 {
			return 0, err
		}
		return readUint32Field(fsys, mid, idx2*4)
	}
}

// registerSector writes newSector into the pointer slot for logical sector
// index s, allocating and zero-filling parent indirect blocks on demand.
// Every sector allocated along the way (parent blocks included) is appended
// to scratch so the caller can roll everything back on a later failure.
func (fsys *FileSystem) registerSector(ino *Inode, s int, newSector uint32, scratch *[]uint32) error {
	class, idx1, idx2, err := classifySector(s)
	if err != nil {
		return err
	}

	switch class {
	case classDirect:
		ino.disk.Direct[idx1] = newSector
		return writeUint32Field(fsys, ino.sector, offDirect+idx1*4, newSector)

	case classIndirect:
		if ino.disk.Indirect == 0 {
			blk, err := fsys.allocateZeroed(scratch)
			if err != nil {
				return err
			}
			ino.disk.Indirect = blk
			if err := writeUint32Field(fsys, ino.sector, offIndirect, blk); err != nil {
				return err
			}
		}
		return writeUint32Field(fsys, ino.disk.Indirect, idx1*4, newSector)

	default: // classDoubleIndirect
		if ino.disk.DoubleIndirect == 0 {
			blk, err := fsys.allocateZeroed(scratch)
			if err != nil {
				return err
			}
			ino.disk.DoubleIndirect = blk
			if err := writeUint32Field(fsys, ino.sector, offDoubleIndirect, blk); err != nil {
				return err
			}
		}
		mid, err := readUint32Field(fsys, ino.disk.DoubleIndirect, idx1*4)
		if err != nil {
			return err
		}
		if mid == 0 {
			mid, err = fsys.allocateZeroed(scratch)
			if err != nil {
				return err
			}
			if err := writeUint32Field(fsys, ino.disk.DoubleIndirect, idx1*4, mid); err != nil {
				return err
			}
		}
		return writeUint32Field(fsys, mid, idx2*4, newSector)
	}
}

// allocateZeroed grabs one free sector, zero-fills it in the cache, records
// it in scratch for possible rollback, and returns its number.
func (fsys *FileSystem) allocateZeroed(scratch *[]uint32) (uint32, error) {
	var s uint32
	if err := fsys.freeMap.Allocate(1, &s); err != nil {
		return 0, err
	}
	*scratch = append(*scratch, s)
	if err := fsys.cache.ZeroFill(s, 0, SectorSize); err != nil {
		return 0, err
	}
	return s, nil
}

// growFile extends ino's data from byte offset start to end (exclusive),
// allocating and zero-filling whole new sectors and zero-filling the tail
// of the sector start already lived in, per the design's
// inode_update_file_length algorithm. On any failure it releases every
// sector it allocated during this call (the design's documented Open
// Question is resolved in favor of this rollback discipline).
func (fsys *FileSystem) growFile(ino *Inode, start, end int) error {
	if end <= start {
		return nil
	}

	var allocated []uint32
	rollback := func() {
		for _, s := range allocated {
			fsys.freeMap.Release(s, 1)
		}
	}

	pos := start
	for pos < end {
		sectorIdx := pos / SectorSize
		sectorStart := sectorIdx * SectorSize
		within := pos - sectorStart

		if within == 0 {
			newSector, err := fsys.allocateZeroed(&allocated)
			if err != nil {
				rollback()
				return err
			}
			if err := fsys.registerSector(ino, sectorIdx, newSector, &allocated); err != nil {
				rollback()
				return err
			}
			pos = sectorStart + SectorSize
			continue
		}

		// Extending within an already-allocated tail sector: zero-fill
		// from the current offset to either the sector end or `end`,
		// whichever comes first.
		sector, err := fsys.sectorAt(ino, sectorIdx)
		if err != nil {
			rollback()
			return err
		}
		if sector == 0 {
			rollback()
			return fmt.Errorf("grow: tail sector %d unallocated: %w", sectorIdx, ErrOutOfRange)
		}
		tailLen := SectorSize - within
		next := sectorStart + SectorSize
		if next > end {
			tailLen = end - pos
		}
		if err := fsys.cache.ZeroFill(sector, within, tailLen); err != nil {
			rollback()
			return err
		}
		pos += tailLen
	}

	return nil
}

// readAt reads up to size bytes of ino's data starting at offset into buf,
// stopping at the inode's length or an unallocated (zero) sector,
// whichever comes first. It returns the number of bytes actually read.
func (fsys *FileSystem) readAt(ino *Inode, buf []byte, size, offset int) (int, error) {
	length := int(ino.disk.Length)
	if offset >= length {
		return 0, nil
	}
	if offset+size > length {
		size = length - offset
	}

	read := 0
	for read < size {
		sectorIdx := (offset + read) / SectorSize
		sectorOfs := (offset + read) % SectorSize
		chunk := SectorSize - sectorOfs
		if remaining := size - read; chunk > remaining {
			chunk = remaining
		}

		sector, err := fsys.sectorAt(ino, sectorIdx)
		if err != nil {
			return read, err
		}
		if sector == 0 {
			// Unallocated sector within a supposedly backed range: treat
			// as end of readable data rather than fault.
			break
		}
		if err := fsys.cache.Read(sector, buf, read, chunk, sectorOfs); err != nil {
			return read, err
		}
		read += chunk
	}
	return read, nil
}

// writeAt writes size bytes from buf into ino's data starting at offset,
// growing the file first if the write extends past the current length. It
// returns the number of bytes actually written: 0 for a denied write or a
// failed growth, and the bytes copied so far if a later sector copy fails.
func (fsys *FileSystem) writeAt(ino *Inode, buf []byte, size, offset int) (int, error) {
	ino.denyMu.Lock()
	denied := ino.denyWriteCnt > 0
	ino.denyMu.Unlock()
	if denied {
		return 0, ErrWriteDenied
	}

	ino.extLock.Lock()
	oldLength := int(ino.disk.Length)
	newLength := oldLength
	if offset+size > oldLength {
		newLength = offset + size
		if err := fsys.growFile(ino, oldLength, newLength); err != nil {
			ino.extLock.Unlock()
			return 0, err
		}
		ino.disk.Length = int32(newLength)
	}
	ino.extLock.Unlock()

	written := 0
	for written < size {
		sectorIdx := (offset + written) / SectorSize
		sectorOfs := (offset + written) % SectorSize
		chunk := SectorSize - sectorOfs
		if remaining := size - written; chunk > remaining {
			chunk = remaining
		}

		sector, err := fsys.sectorAt(ino, sectorIdx)
		if err != nil {
			return written, err
		}
		if sector == 0 {
			return written, fmt.Errorf("write: sector %d unallocated: %w", sectorIdx, ErrOutOfRange)
		}
		if err := fsys.cache.Write(sector, buf, written, chunk, sectorOfs); err != nil {
			return written, err
		}
		written += chunk
	}

	if err := fsys.writeInodeDisk(ino.sector, &ino.disk); err != nil {
		return written, err
	}
	return written, nil
}

// freeInodeSectors walks ino's entire sector map and releases every
// allocated sector: direct pointers, each indirect entry, each entry of
// each second-level block of the double-indirect tree, the indirect and
// double-indirect header blocks themselves, and finally the inode header
// sector. It is called once, when the last opener of a removed inode
// closes it.
func (fsys *FileSystem) freeInodeSectors(ino *Inode) error {
	for _, s := range ino.disk.Direct {
		if s != 0 {
			fsys.freeMap.Release(s, 1)
		}
	}

	if ino.disk.Indirect != 0 {
		for i := 0; i < IndirectN; i++ {
			s, err := readUint32Field(fsys, ino.disk.Indirect, i*4)
			if err != nil {
				return err
			}
			if s != 0 {
				fsys.freeMap.Release(s, 1)
			}
		}
		fsys.freeMap.Release(ino.disk.Indirect, 1)
	}

	if ino.disk.DoubleIndirect != 0 {
		for i := 0; i < IndirectN; i++ {
			mid, err := readUint32Field(fsys, ino.disk.DoubleIndirect, i*4)
			if err != nil {
				return err
			}
			if mid == 0 {
				continue
			}
			for j := 0; j < IndirectN; j++ {
				s, err := readUint32Field(fsys, mid, j*4)
				if err != nil {
					return err
				}
				if s != 0 {
					fsys.freeMap.Release(s, 1)
				}
			}
			fsys.freeMap.Release(mid, 1)
		}
		fsys.freeMap.Release(ino.disk.DoubleIndirect, 1)
	}

	fsys.freeMap.Release(ino.sector, 1)
	return nil
}
