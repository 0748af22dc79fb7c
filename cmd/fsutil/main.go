// Command fsutil is a small CLI for inspecting and populating a filesys
// disk image without mounting it.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/go-pintos/filesys"
	"github.com/go-pintos/filesys/internal/diskimage"
)

const usage = `fsutil - filesys image tool

Usage:
  fsutil ls <image> [<path>]             List entries of a directory
  fsutil cat <image> <path>              Print a file's contents to stdout
  fsutil write <image> <path> <srcfile>  Copy srcfile's contents into path, creating it
  fsutil mkdir <image> <path>            Create a directory
  fsutil rm <image> <path>               Remove a file or empty directory
  fsutil stat <image>                    Print free-space summary
  fsutil dump <image> <dumpfile>         Write a compressed backup of the raw image
  fsutil restore <dumpfile> <image>      Restore a raw image from a compressed backup
  fsutil help                            Show this help message

Examples:
  fsutil ls disk.img /
  fsutil write disk.img /notes.txt ./notes.txt
  fsutil cat disk.img /notes.txt
  fsutil dump disk.img disk.img.zst
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "help" {
		fmt.Println(usage)
		return
	}

	if len(os.Args) < 3 {
		fmt.Println("Error: missing image path")
		fmt.Println(usage)
		os.Exit(1)
	}
	imagePath := os.Args[2]
	args := os.Args[3:]

	// dump/restore operate on the raw backing file directly and never
	// mount a FileSystem, so they are handled before the common
	// open-and-mount logic below.
	switch cmd {
	case "dump":
		if len(args) < 1 {
			fmt.Println("Error: missing dump destination")
			os.Exit(1)
		}
		if err := diskimage.Dump(imagePath, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		return
	case "restore":
		if len(args) < 1 {
			fmt.Println("Error: missing restore destination")
			os.Exit(1)
		}
		if err := diskimage.Restore(imagePath, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}
		return
	}

	dev, err := filesys.OpenFileBlockDevice(imagePath, 0, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open image: %s\n", err)
		os.Exit(1)
	}
	fsys, err := filesys.Open(dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: mount image: %s\n", err)
		os.Exit(1)
	}

	root, err := fsys.RootDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open root: %s\n", err)
		os.Exit(1)
	}

	switch cmd {
	case "ls":
		path := "/"
		if len(args) > 0 {
			path = args[0]
		}
		err = listDir(fsys, root, path)
	case "cat":
		if len(args) < 1 {
			err = fmt.Errorf("missing path")
		} else {
			err = catFile(fsys, root, args[0])
		}
	case "write":
		if len(args) < 2 {
			err = fmt.Errorf("missing path or source file")
		} else {
			err = writeFile(fsys, root, args[0], args[1])
		}
	case "mkdir":
		if len(args) < 1 {
			err = fmt.Errorf("missing path")
		} else {
			err = fsys.CreateDir(root, args[0])
		}
	case "rm":
		if len(args) < 1 {
			err = fmt.Errorf("missing path")
		} else {
			err = fsys.Remove(root, args[0])
		}
	case "stat":
		err = statImage(fsys)
	default:
		fmt.Printf("Error: unknown command '%s'\n", cmd)
		fmt.Println(usage)
		os.Exit(1)
	}

	root.Close()
	if err == nil {
		err = fsys.Done()
	}
	if cerr := dev.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func listDir(fsys *filesys.FileSystem, root *filesys.Dir, path string) error {
	d, err := fsys.OpenDirPath(root, path)
	if err != nil {
		return fmt.Errorf("ls %s: %w", path, err)
	}
	defer d.Close()

	for {
		name, ok, err := d.Readdir()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		fmt.Println(name)
	}
}

func catFile(fsys *filesys.FileSystem, root *filesys.Dir, path string) error {
	f, err := fsys.OpenPath(root, path)
	if err != nil {
		return fmt.Errorf("cat %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, 4096)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := os.Stdout.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF || n == 0 {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func writeFile(fsys *filesys.FileSystem, root *filesys.Dir, path, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	if err := fsys.Create(root, path, 0); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	f, err := fsys.OpenPath(root, path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 4096)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func statImage(fsys *filesys.FileSystem) error {
	free, err := fsys.FreeSectorCount()
	if err != nil {
		return err
	}
	fmt.Printf("free sectors: %d\n", free)
	return nil
}
