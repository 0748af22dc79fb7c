package filesys

import "testing"

func TestOpenInodesSharesSingleInstancePerSector(t *testing.T) {
	fsys := mustFormat(t, 256)
	defer fsys.Done()

	var sector uint32
	if err := fsys.freeMap.Allocate(1, &sector); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := fsys.createInode(sector, 0, false); err != nil {
		t.Fatalf("createInode: %v", err)
	}

	a, err := fsys.inodes.open(sector)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	b, err := fsys.inodes.open(sector)
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	if a != b {
		t.Fatalf("two opens of the same sector returned different Inode instances")
	}
	if a.openCnt != 2 {
		t.Fatalf("openCnt = %d, want 2", a.openCnt)
	}

	if err := fsys.inodes.close(a); err != nil {
		t.Fatalf("close a: %v", err)
	}
	if _, stillOpen := fsys.inodes.table[sector]; !stillOpen {
		t.Fatalf("inode should remain in the table while b still holds it open")
	}

	if err := fsys.inodes.close(b); err != nil {
		t.Fatalf("close b: %v", err)
	}
	if _, stillOpen := fsys.inodes.table[sector]; stillOpen {
		t.Fatalf("inode should be evicted from the table once its last opener closes")
	}
}

func TestOpenInodesReleasesRemovedInodeOnLastClose(t *testing.T) {
	fsys := mustFormat(t, 256)
	defer fsys.Done()

	var sector uint32
	if err := fsys.freeMap.Allocate(1, &sector); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := fsys.createInode(sector, 512, false); err != nil {
		t.Fatalf("createInode: %v", err)
	}

	before, err := fsys.freeMap.FreeSectorCount()
	if err != nil {
		t.Fatalf("free count: %v", err)
	}

	ino, err := fsys.inodes.open(sector)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ino.removed = true
	if err := fsys.inodes.close(ino); err != nil {
		t.Fatalf("close: %v", err)
	}

	after, err := fsys.freeMap.FreeSectorCount()
	if err != nil {
		t.Fatalf("free count: %v", err)
	}
	if after <= before {
		t.Fatalf("expected sectors to be released: before=%d after=%d", before, after)
	}
}
