package filesys

import (
	"fmt"
	"sync"
)

// FreeMap is a persistent bitmap allocator: one bit per device sector,
// stored as the data of a dedicated inode (conventionally the one at
// sector 0). Its own find-clear-bits-then-set-them sequence is made atomic
// by mu, since the bitmap is itself read through the shared buffer cache
// and a racing pair of allocations must never hand out the same sector.
type FreeMap struct {
	fs  *FileSystem
	ino *Inode

	mu          sync.Mutex
	totalBits   uint32
}

func (fm *FreeMap) getBit(i uint32) (bool, error) {
	var b [1]byte
	if _, err := fm.fs.readAt(fm.ino, b[:], 1, int(i/8)); err != nil {
		return false, err
	}
	return b[0]&(1<<(i%8)) != 0, nil
}

func (fm *FreeMap) setBit(i uint32, val bool) error {
	var b [1]byte
	if _, err := fm.fs.readAt(fm.ino, b[:], 1, int(i/8)); err != nil {
		return err
	}
	if val {
		b[0] |= 1 << (i % 8)
	} else {
		b[0] &^= 1 << (i % 8)
	}
	_, err := fm.fs.writeAt(fm.ino, b[:], 1, int(i/8))
	return err
}

// Allocate finds n contiguous clear bits, sets them, and reports the index
// of the first one via first. It fails with ErrNoSpace if no such run
// exists.
func (fm *FreeMap) Allocate(n uint32, first *uint32) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	run := uint32(0)
	for i := uint32(0); i < fm.totalBits; i++ {
		set, err := fm.getBit(i)
		if err != nil {
			return err
		}
		if set {
			run = 0
			continue
		}
		run++
		if run == n {
			start := i - n + 1
			for j := start; j <= i; j++ {
				if err := fm.setBit(j, true); err != nil {
					// Best-effort unwind of the bits we just set.
					for k := start; k < j; k++ {
						fm.setBit(k, false)
					}
					return err
				}
			}
			*first = start
			return nil
		}
	}
	debugf("free map exhausted: no run of %d contiguous sectors", n)
	return fmt.Errorf("allocate %d sectors: %w", n, ErrNoSpace)
}

// Release clears n bits starting at sector. Callers on a failed multi-step
// allocation (e.g. an inode header sector allocated but the inode create
// then failing) must call this themselves to avoid leaking sectors.
func (fm *FreeMap) Release(sector uint32, n uint32) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	for j := sector; j < sector+n; j++ {
		// Release is used from teardown paths; a failure here would
		// otherwise have nowhere to report to, so it is intentionally
		// swallowed (mirrors the design's own "best effort" teardown).
		_ = fm.setBit(j, false)
	}
}

// FreeSectorCount returns the number of currently clear bits, exposed for
// tests and the fsutil "stat" command.
func (fm *FreeMap) FreeSectorCount() (uint32, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	free := uint32(0)
	for i := uint32(0); i < fm.totalBits; i++ {
		set, err := fm.getBit(i)
		if err != nil {
			return 0, err
		}
		if !set {
			free++
		}
	}
	return free, nil
}
