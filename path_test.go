package filesys_test

import (
	"testing"

	"github.com/go-pintos/filesys"
)

func TestCreateAndOpenNestedPath(t *testing.T) {
	fsys, cleanup := newTestFS(t, 512)
	defer cleanup()

	root, err := fsys.RootDir()
	if err != nil {
		t.Fatalf("root dir: %v", err)
	}
	defer root.Close()

	if err := fsys.CreateDir(root, "/a"); err != nil {
		t.Fatalf("mkdir /a: %v", err)
	}
	if err := fsys.CreateDir(root, "/a/b"); err != nil {
		t.Fatalf("mkdir /a/b: %v", err)
	}
	if err := fsys.Create(root, "/a/b/file.txt", 0); err != nil {
		t.Fatalf("create /a/b/file.txt: %v", err)
	}

	f, err := fsys.OpenPath(root, "/a/b/file.txt")
	if err != nil {
		t.Fatalf("open /a/b/file.txt: %v", err)
	}
	f.Close()

	if _, err := fsys.OpenPath(root, "/a/b/nope.txt"); err != filesys.ErrNoSuchPath {
		t.Fatalf("expected ErrNoSuchPath, got %v", err)
	}
	if _, err := fsys.OpenDirPath(root, "/a/b/file.txt"); err != filesys.ErrNotADirectory {
		t.Fatalf("expected ErrNotADirectory, got %v", err)
	}
}

func TestChdirRelativePaths(t *testing.T) {
	fsys, cleanup := newTestFS(t, 512)
	defer cleanup()

	root, err := fsys.RootDir()
	if err != nil {
		t.Fatalf("root dir: %v", err)
	}

	if err := fsys.CreateDir(root, "sub"); err != nil {
		t.Fatalf("mkdir sub: %v", err)
	}

	cwd, err := fsys.Chdir(root, "sub")
	if err != nil {
		t.Fatalf("chdir sub: %v", err)
	}
	defer cwd.Close()

	if err := fsys.Create(cwd, "leaf.txt", 0); err != nil {
		t.Fatalf("create leaf.txt relative to sub: %v", err)
	}

	f, err := fsys.OpenPath(cwd, "leaf.txt")
	if err != nil {
		t.Fatalf("open leaf.txt: %v", err)
	}
	f.Close()

	back, err := fsys.Chdir(cwd, "..")
	if err != nil {
		t.Fatalf("chdir ..: %v", err)
	}
	defer back.Close()

	f2, err := fsys.OpenPath(back, "sub/leaf.txt")
	if err != nil {
		t.Fatalf("open sub/leaf.txt from root: %v", err)
	}
	f2.Close()
}
