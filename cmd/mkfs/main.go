// Command mkfs formats a disk image file for use with the filesys package.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-pintos/filesys"
)

func main() {
	sectors := flag.Uint("sectors", 8192, "number of 512-byte sectors in the new image")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: mkfs [-sectors N] <image-path>")
		os.Exit(1)
	}
	path := flag.Arg(0)

	dev, err := filesys.OpenFileBlockDevice(path, uint32(*sectors), true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %s\n", err)
		os.Exit(1)
	}

	fsys, err := filesys.Format(dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: format: %s\n", err)
		os.Exit(1)
	}

	free, err := fsys.FreeSectorCount()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %s\n", err)
		os.Exit(1)
	}

	if err := fsys.Done(); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: flush: %s\n", err)
		os.Exit(1)
	}
	if err := dev.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: close: %s\n", err)
		os.Exit(1)
	}

	fmt.Printf("formatted %s: %d sectors, %d free\n", path, *sectors, free)
}
