package filesys

import (
	"fmt"
	"sync"
)

// DefaultCacheSlots is the number of buffer-cache slots the teaching OS
// uses in its reference implementation.
const DefaultCacheSlots = 64

// bufferHead is one cache slot: a mutex-guarded view of a single device
// sector. Lookup goes through the cache's sector index, guarded by
// Cache.mu, but once a caller matches a sector it must take the head's lock
// before touching data, so a concurrent clock sweep can never evict a slot
// mid-copy.
type bufferHead struct {
	mu       sync.Mutex
	sector   int64 // -1 if empty
	valid    bool
	dirty    bool
	clockBit bool
	data     []byte
}

// Cache is the fixed-count, clock-replaced, write-back buffer cache sitting
// between every filesystem caller and the block device. It is the sole
// component allowed to call BlockDevice.ReadSector/WriteSector outside of
// formatting.
type Cache struct {
	dev   BlockDevice
	heads []*bufferHead

	mu        sync.Mutex // guards clockHand and the sector->head index
	clockHand int
	index     map[uint32]*bufferHead
}

// NewCache builds a Cache of the given slot count over dev.
func NewCache(dev BlockDevice, slots int) *Cache {
	if slots <= 0 {
		slots = DefaultCacheSlots
	}
	c := &Cache{
		dev:   dev,
		heads: make([]*bufferHead, slots),
		index: make(map[uint32]*bufferHead, slots),
	}
	for i := range c.heads {
		c.heads[i] = &bufferHead{sector: -1}
	}
	return c
}

// lookup finds (or faults in) the head responsible for sector, pinning it
// by returning it locked. Callers MUST unlock the returned head's mu when
// done.
func (c *Cache) lookup(sector uint32) (*bufferHead, error) {
	for {
		c.mu.Lock()
		h, ok := c.index[sector]
		c.mu.Unlock()

		if ok {
			h.mu.Lock()
			if h.valid && h.sector == int64(sector) {
				return h, nil
			}
			// Raced with an eviction of this exact head between the index
			// read and the lock; retry the lookup.
			h.mu.Unlock()
			continue
		}

		h, err := c.selectVictim()
		if err != nil {
			return nil, err
		}
		// h is returned locked, !valid, sector == -1.

		buf := make([]byte, SectorSize)
		if err := c.dev.ReadSector(sector, buf); err != nil {
			h.mu.Unlock()
			return nil, fmt.Errorf("fault in sector %d: %w", sector, err)
		}
		h.data = buf
		h.sector = int64(sector)
		h.valid = true
		h.dirty = false
		h.clockBit = false

		c.mu.Lock()
		c.index[sector] = h
		c.mu.Unlock()

		return h, nil
	}
}

// selectVictim implements clock replacement: advance the shared hand,
// clearing clock bits, until an unset (or invalid) slot is found. The
// chosen slot is flushed if dirty, then reset to the empty state and
// returned locked so the caller can fault its new sector in without anyone
// else observing the half-initialized slot.
func (c *Cache) selectVictim() (*bufferHead, error) {
	for {
		c.mu.Lock()
		n := len(c.heads)
		hand := c.clockHand
		c.clockHand = (c.clockHand + 1) % n
		h := c.heads[hand]
		c.mu.Unlock()

		h.mu.Lock()
		if !h.valid {
			return h, nil
		}
		if h.clockBit {
			h.clockBit = false
			h.mu.Unlock()
			continue
		}

		if h.dirty {
			debugf("evicting dirty sector %d", h.sector)
			if err := c.dev.WriteSector(uint32(h.sector), h.data); err != nil {
				h.mu.Unlock()
				return nil, fmt.Errorf("writeback sector %d: %w", h.sector, err)
			}
			h.dirty = false
		}

		c.mu.Lock()
		delete(c.index, uint32(h.sector))
		c.mu.Unlock()

		h.valid = false
		h.sector = -1
		h.data = nil
		return h, nil
	}
}

// Read copies chunk bytes from sector, starting at sectorOfs, into
// dst[dstOfs:dstOfs+chunk].
func (c *Cache) Read(sector uint32, dst []byte, dstOfs, chunk, sectorOfs int) error {
	h, err := c.lookup(sector)
	if err != nil {
		return err
	}
	defer h.mu.Unlock()

	copy(dst[dstOfs:dstOfs+chunk], h.data[sectorOfs:sectorOfs+chunk])
	h.clockBit = true
	return nil
}

// Write copies chunk bytes from src[srcOfs:srcOfs+chunk] into sector at
// sectorOfs, faulting the sector in (and reading its old contents) first if
// it is not resident, per the note in the design: even a full-sector write
// faults in the old sector, though in that case the read is thrown away by
// the immediately following copy.
func (c *Cache) Write(sector uint32, src []byte, srcOfs, chunk, sectorOfs int) error {
	h, err := c.lookup(sector)
	if err != nil {
		return err
	}
	defer h.mu.Unlock()

	copy(h.data[sectorOfs:sectorOfs+chunk], src[srcOfs:srcOfs+chunk])
	h.dirty = true
	h.clockBit = true
	return nil
}

// ZeroFill sets chunk bytes starting at sectorOfs within sector to zero,
// used by file growth to zero-fill newly allocated sectors and extended
// tails without a caller-supplied source buffer.
func (c *Cache) ZeroFill(sector uint32, sectorOfs, chunk int) error {
	h, err := c.lookup(sector)
	if err != nil {
		return err
	}
	defer h.mu.Unlock()

	for i := sectorOfs; i < sectorOfs+chunk; i++ {
		h.data[i] = 0
	}
	h.dirty = true
	h.clockBit = true
	return nil
}

// flushEntry writes a single head back if dirty. Caller must hold h.mu.
func (c *Cache) flushEntry(h *bufferHead) error {
	if !h.dirty {
		return nil
	}
	if err := c.dev.WriteSector(uint32(h.sector), h.data); err != nil {
		return err
	}
	h.dirty = false
	return nil
}

// FlushAll writes every dirty slot back to the device. Called at shutdown;
// per the design there is no asynchronous writeback, so this is also the
// only way dirty data reaches disk outside of eviction.
func (c *Cache) FlushAll() error {
	for _, h := range c.heads {
		h.mu.Lock()
		if h.valid {
			if err := c.flushEntry(h); err != nil {
				h.mu.Unlock()
				return err
			}
		}
		h.mu.Unlock()
	}
	return nil
}
