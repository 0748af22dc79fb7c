package filesys

import (
	"bytes"
	"testing"
)

func TestCacheReadWriteRoundTrip(t *testing.T) {
	dev := NewMemoryBlockDevice(8)
	c := NewCache(dev, 4)

	src := bytes.Repeat([]byte{0x5a}, SectorSize)
	if err := c.Write(3, src, 0, SectorSize, 0); err != nil {
		t.Fatalf("write: %v", err)
	}

	dst := make([]byte, SectorSize)
	if err := c.Read(3, dst, 0, SectorSize, 0); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(src, dst) {
		t.Fatalf("cached read did not match write")
	}

	// Data must not have reached the device yet: write-back only happens
	// on eviction or FlushAll.
	raw := make([]byte, SectorSize)
	if err := dev.ReadSector(3, raw); err != nil {
		t.Fatalf("device read: %v", err)
	}
	if bytes.Equal(src, raw) {
		t.Fatalf("dirty write reached the device before flush")
	}

	if err := c.FlushAll(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := dev.ReadSector(3, raw); err != nil {
		t.Fatalf("device read after flush: %v", err)
	}
	if !bytes.Equal(src, raw) {
		t.Fatalf("flushed write did not reach device")
	}
}

func TestCacheEvictionWritesBackDirtySlot(t *testing.T) {
	dev := NewMemoryBlockDevice(8)
	c := NewCache(dev, 2)

	src := bytes.Repeat([]byte{0x11}, SectorSize)
	if err := c.Write(0, src, 0, SectorSize, 0); err != nil {
		t.Fatalf("write sector 0: %v", err)
	}
	if err := c.Write(1, src, 0, SectorSize, 0); err != nil {
		t.Fatalf("write sector 1: %v", err)
	}
	// With only 2 slots, touching a third sector forces an eviction.
	if err := c.Write(2, src, 0, SectorSize, 0); err != nil {
		t.Fatalf("write sector 2: %v", err)
	}

	var evictedFrom int
	for _, s := range []uint32{0, 1} {
		raw := make([]byte, SectorSize)
		if err := dev.ReadSector(s, raw); err != nil {
			t.Fatalf("device read %d: %v", s, err)
		}
		if bytes.Equal(src, raw) {
			evictedFrom++
		}
	}
	if evictedFrom == 0 {
		t.Fatalf("expected at least one of the first two sectors to have been written back on eviction")
	}
}

func TestCacheZeroFill(t *testing.T) {
	dev := NewMemoryBlockDevice(2)
	c := NewCache(dev, 2)

	full := bytes.Repeat([]byte{0xff}, SectorSize)
	if err := c.Write(0, full, 0, SectorSize, 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.ZeroFill(0, 10, 20); err != nil {
		t.Fatalf("zero fill: %v", err)
	}

	dst := make([]byte, SectorSize)
	if err := c.Read(0, dst, 0, SectorSize, 0); err != nil {
		t.Fatalf("read: %v", err)
	}
	for i := 10; i < 30; i++ {
		if dst[i] != 0 {
			t.Fatalf("byte %d not zeroed: %x", i, dst[i])
		}
	}
	if dst[9] != 0xff || dst[30] != 0xff {
		t.Fatalf("zero fill overran its bounds")
	}
}
