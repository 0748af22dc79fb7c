package filesys

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// SectorSize is the fixed unit of device I/O. All BlockDevice
// implementations transfer exactly one sector per call.
const SectorSize = 512

// BlockDevice is the external collaborator the core consumes: a
// fixed-size-sector read/write surface. The driver behind it (a real disk,
// a loopback file, a RAM disk) is out of scope for this package.
type BlockDevice interface {
	SectorCount() uint32
	ReadSector(sector uint32, dst []byte) error
	WriteSector(sector uint32, src []byte) error
}

// MemoryBlockDevice is a RAM-backed BlockDevice, primarily for tests: it
// plays the same role mockReader plays for a read-only image reader, except
// it also accepts writes.
type MemoryBlockDevice struct {
	data []byte
}

// NewMemoryBlockDevice allocates a zero-filled in-memory device of the
// given sector count.
func NewMemoryBlockDevice(sectors uint32) *MemoryBlockDevice {
	return &MemoryBlockDevice{data: make([]byte, int(sectors)*SectorSize)}
}

func (m *MemoryBlockDevice) SectorCount() uint32 {
	return uint32(len(m.data) / SectorSize)
}

func (m *MemoryBlockDevice) ReadSector(sector uint32, dst []byte) error {
	if sector >= m.SectorCount() {
		return fmt.Errorf("sector %d: %w", sector, ErrInvalidSector)
	}
	copy(dst, m.data[int(sector)*SectorSize:])
	return nil
}

func (m *MemoryBlockDevice) WriteSector(sector uint32, src []byte) error {
	if sector >= m.SectorCount() {
		return fmt.Errorf("sector %d: %w", sector, ErrInvalidSector)
	}
	copy(m.data[int(sector)*SectorSize:], src)
	return nil
}

// FileBlockDevice backs a BlockDevice by a regular file or loopback device
// node, sector-aligning every ReadAt/WriteAt. It tries to open the backing
// path with O_DIRECT so that the OS page cache never shadows our own buffer
// cache's write-back discipline; platforms or filesystems that reject
// O_DIRECT fall back to a normal buffered open.
type FileBlockDevice struct {
	f       *os.File
	sectors uint32
}

// OpenFileBlockDevice opens path as a BlockDevice. If create is true and
// the file does not exist, it is created and sized to hold sectorCount
// sectors.
func OpenFileBlockDevice(path string, sectorCount uint32, create bool) (*FileBlockDevice, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}

	f, err := openDirect(path, flags)
	if err != nil {
		return nil, fmt.Errorf("open block device %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	size := int64(sectorCount) * SectorSize
	if fi.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		size = fi.Size()
	}

	return &FileBlockDevice{f: f, sectors: uint32(size / SectorSize)}, nil
}

// openDirect attempts an O_DIRECT open and silently falls back to a
// regular open when the platform or filesystem rejects the flag (tmpfs,
// overlayfs and most non-Linux kernels all do).
func openDirect(path string, flags int) (*os.File, error) {
	f, err := os.OpenFile(path, flags|unix.O_DIRECT, 0644)
	if err != nil {
		return os.OpenFile(path, flags, 0644)
	}
	return f, nil
}

func (d *FileBlockDevice) SectorCount() uint32 {
	return d.sectors
}

func (d *FileBlockDevice) ReadSector(sector uint32, dst []byte) error {
	if sector >= d.sectors {
		return fmt.Errorf("sector %d: %w", sector, ErrInvalidSector)
	}
	_, err := d.f.ReadAt(dst[:SectorSize], int64(sector)*SectorSize)
	return err
}

func (d *FileBlockDevice) WriteSector(sector uint32, src []byte) error {
	if sector >= d.sectors {
		return fmt.Errorf("sector %d: %w", sector, ErrInvalidSector)
	}
	_, err := d.f.WriteAt(src[:SectorSize], int64(sector)*SectorSize)
	return err
}

// Flush forces the backing file's data to stable storage, used by
// filesys.Done after flushing the buffer cache.
func (d *FileBlockDevice) Flush() error {
	return unix.Fdatasync(int(d.f.Fd()))
}

// Close releases the underlying file descriptor. It does not flush.
func (d *FileBlockDevice) Close() error {
	return d.f.Close()
}
