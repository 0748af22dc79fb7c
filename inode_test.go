package filesys

import (
	"bytes"
	"testing"
)

func TestClassifySector(t *testing.T) {
	cases := []struct {
		s     int
		class sectorClass
	}{
		{0, classDirect},
		{DirectN - 1, classDirect},
		{DirectN, classIndirect},
		{DirectN + IndirectN - 1, classIndirect},
		{DirectN + IndirectN, classDoubleIndirect},
		{MaxFileSectors - 1, classDoubleIndirect},
	}
	for _, c := range cases {
		class, _, _, err := classifySector(c.s)
		if err != nil {
			t.Fatalf("classifySector(%d): %v", c.s, err)
		}
		if class != c.class {
			t.Errorf("classifySector(%d) = %v, want %v", c.s, class, c.class)
		}
	}

	if _, _, _, err := classifySector(MaxFileSectors); err == nil {
		t.Errorf("expected error for sector index at MaxFileSectors")
	}
}

func TestCreateInodeZerosLength(t *testing.T) {
	fsys := mustFormat(t, 256)
	defer fsys.Done()

	var sector uint32
	if err := fsys.freeMap.Allocate(1, &sector); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := fsys.createInode(sector, 3000, false); err != nil {
		t.Fatalf("createInode: %v", err)
	}

	ino, err := fsys.inodes.open(sector)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fsys.inodes.close(ino)

	buf := make([]byte, 3000)
	n, err := fsys.readAt(ino, buf, len(buf), 0)
	if err != nil {
		t.Fatalf("readAt: %v", err)
	}
	if n != 3000 {
		t.Fatalf("expected to read 3000 bytes, got %d", n)
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zero-filled: %x", i, b)
		}
	}
}

func TestWriteReadAcrossIndirectBoundary(t *testing.T) {
	// Exercise both the direct and indirect sector ranges in one file.
	fsys := mustFormat(t, 4096)
	defer fsys.Done()

	var sector uint32
	if err := fsys.freeMap.Allocate(1, &sector); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := fsys.createInode(sector, 0, false); err != nil {
		t.Fatalf("createInode: %v", err)
	}
	ino, err := fsys.inodes.open(sector)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fsys.inodes.close(ino)

	offset := (DirectN - 1) * SectorSize
	payload := bytes.Repeat([]byte{0x42}, 4*SectorSize)
	n, err := fsys.writeAt(ino, payload, len(payload), offset)
	if err != nil {
		t.Fatalf("writeAt: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("short write: %d", n)
	}

	got := make([]byte, len(payload))
	n, err = fsys.readAt(ino, got, len(got), offset)
	if err != nil {
		t.Fatalf("readAt: %v", err)
	}
	if n != len(got) || !bytes.Equal(got, payload) {
		t.Fatalf("read back mismatch across indirect boundary")
	}
}

func TestWriteDeniedWhileDenyWriteHeld(t *testing.T) {
	fsys := mustFormat(t, 256)
	defer fsys.Done()

	root, err := fsys.RootDir()
	if err != nil {
		t.Fatalf("root dir: %v", err)
	}
	defer root.Close()

	if err := fsys.Create(root, "f", 0); err != nil {
		t.Fatalf("create: %v", err)
	}
	f, err := fsys.OpenPath(root, "f")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	f.DenyWrite()
	if _, err := f.Write([]byte("x")); err != ErrWriteDenied {
		t.Fatalf("expected ErrWriteDenied, got %v", err)
	}
	f.AllowWrite()
	if _, err := f.Write([]byte("x")); err != nil {
		t.Fatalf("write after AllowWrite: %v", err)
	}
}

// mustFormat creates an in-memory filesystem of the given sector count,
// failing the test on any error.
func mustFormat(t *testing.T, sectors uint32) *FileSystem {
	t.Helper()
	dev := NewMemoryBlockDevice(sectors)
	fsys, err := Format(dev)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	return fsys
}
