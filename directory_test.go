package filesys

import "testing"

func TestDirAddLookupRemove(t *testing.T) {
	fsys := mustFormat(t, 512)
	defer fsys.Done()

	root, err := fsys.RootDir()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	defer root.Close()

	var sector uint32
	if err := fsys.freeMap.Allocate(1, &sector); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := fsys.createInode(sector, 0, false); err != nil {
		t.Fatalf("createInode: %v", err)
	}

	if err := root.Add("hello.txt", sector); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := root.Add("hello.txt", sector); err != ErrNameExists {
		t.Fatalf("expected ErrNameExists, got %v", err)
	}

	got, err := root.lookupSector("hello.txt")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got != sector {
		t.Fatalf("lookup returned sector %d, want %d", got, sector)
	}

	if err := root.Remove("hello.txt"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := root.lookupSector("hello.txt"); err != ErrNoSuchPath {
		t.Fatalf("expected ErrNoSuchPath after remove, got %v", err)
	}
}

func TestDirAddNameTooLong(t *testing.T) {
	fsys := mustFormat(t, 256)
	defer fsys.Done()

	root, err := fsys.RootDir()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	defer root.Close()

	longName := make([]byte, NameMax+1)
	for i := range longName {
		longName[i] = 'a'
	}
	if err := root.Add(string(longName), 2); err != ErrNameTooLong {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
}

func TestDirGrowsPastInitialCapacity(t *testing.T) {
	fsys := mustFormat(t, 512)
	defer fsys.Done()

	root, err := fsys.RootDir()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	defer root.Close()

	// Root starts with "." and ".." already occupying 2 of
	// DefaultDirCapacity slots; fill well past capacity to force growth.
	for i := 0; i < DefaultDirCapacity+4; i++ {
		var sector uint32
		if err := fsys.freeMap.Allocate(1, &sector); err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
		if err := fsys.createInode(sector, 0, false); err != nil {
			t.Fatalf("createInode %d: %v", i, err)
		}
		name := string(rune('a' + i%26))
		if i >= 26 {
			name = name + string(rune('a'+i/26))
		}
		if err := root.Add(name, sector); err != nil {
			t.Fatalf("add %d (%s): %v", i, name, err)
		}
	}

	count := 0
	for {
		_, ok, err := root.Readdir()
		if err != nil {
			t.Fatalf("readdir: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != DefaultDirCapacity+4+2 {
		t.Fatalf("expected %d entries, got %d", DefaultDirCapacity+4+2, count)
	}
}

func TestDirIsEmpty(t *testing.T) {
	fsys := mustFormat(t, 256)
	defer fsys.Done()

	root, err := fsys.RootDir()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	defer root.Close()

	empty, err := root.IsEmpty()
	if err != nil {
		t.Fatalf("isEmpty: %v", err)
	}
	if !empty {
		t.Fatalf("freshly formatted root should be empty aside from . and ..")
	}

	var sector uint32
	if err := fsys.freeMap.Allocate(1, &sector); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := fsys.createInode(sector, 0, false); err != nil {
		t.Fatalf("createInode: %v", err)
	}
	if err := root.Add("x", sector); err != nil {
		t.Fatalf("add: %v", err)
	}

	empty, err = root.IsEmpty()
	if err != nil {
		t.Fatalf("isEmpty: %v", err)
	}
	if empty {
		t.Fatalf("root should no longer be empty")
	}
}
