// Package regcache caches wave save-area memory using Akita cache
// components. Register reads and writes during a stop go through the
// cache instead of GPU global memory; dirty lines are written back when
// the owning queue is resumed.
package regcache

import (
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// Config holds cache configuration parameters.
type Config struct {
	// Size in bytes
	Size int
	// Associativity (number of ways)
	Associativity int
	// BlockSize in bytes (cache line size)
	BlockSize int
}

// DefaultConfig returns the default save-area cache configuration. A
// wave's full context is a few tens of kilobytes, so a small cache
// covers the registers a debugger touches between stops.
func DefaultConfig() Config {
	return Config{
		Size:          64 * 1024, // 64KB
		Associativity: 4,         // 4-way
		BlockSize:     64,        // 64B cache line
	}
}

// BackingStore is the memory behind the cache, normally GPU global
// memory holding the wave save areas.
type BackingStore interface {
	// Read fetches data from the backing store.
	Read(addr uint64, buf []byte) error
	// Write stores data to the backing store.
	Write(addr uint64, data []byte) error
}

// Statistics holds cache access statistics.
type Statistics struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
}

// Cache is a write-back cache over save-area memory using an Akita
// cache directory for tag and LRU state.
type Cache struct {
	config Config

	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl

	// Data storage - indexed by (setID * associativity + wayID)
	dataStore [][]byte

	stats Statistics

	backing BackingStore

	dirtyLines int
}

// New creates a cache with the given configuration.
func New(config Config, backing BackingStore) *Cache {
	numSets := config.Size / (config.Associativity * config.BlockSize)
	totalBlocks := numSets * config.Associativity

	dataStore := make([][]byte, totalBlocks)
	for i := range dataStore {
		dataStore[i] = make([]byte, config.BlockSize)
	}

	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		dataStore: dataStore,
		backing:   backing,
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// Dirty reports whether any line holds data not yet written back.
func (c *Cache) Dirty() bool {
	return c.dirtyLines > 0
}

// blockIndex computes the index into dataStore for a block.
func (c *Cache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Associativity + block.WayID
}

// Read copies len(buf) bytes starting at addr into buf, fetching any
// missing lines from the backing store. Registers up to 256 bytes wide
// may span several lines.
func (c *Cache) Read(addr uint64, buf []byte) error {
	c.stats.Reads++
	return c.access(addr, buf, false)
}

// Write stores data starting at addr, allocating lines on miss. The
// written lines stay dirty until Flush.
func (c *Cache) Write(addr uint64, data []byte) error {
	c.stats.Writes++
	return c.access(addr, data, true)
}

func (c *Cache) access(addr uint64, buf []byte, isWrite bool) error {
	blockSize := uint64(c.config.BlockSize)

	for len(buf) > 0 {
		offset := addr % blockSize
		n := int(blockSize - offset)
		if n > len(buf) {
			n = len(buf)
		}

		blockData, err := c.fetch(addr - offset)
		if err != nil {
			return err
		}

		if isWrite {
			copy(blockData[offset:], buf[:n])
			c.markDirty(addr - offset)
		} else {
			copy(buf[:n], blockData[offset:])
		}

		addr += uint64(n)
		buf = buf[n:]
	}
	return nil
}

// fetch returns the data of the line holding blockAddr, filling it from
// the backing store on miss and writing back the victim when dirty.
func (c *Cache) fetch(blockAddr uint64) ([]byte, error) {
	block := c.directory.Lookup(0, blockAddr)
	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block) // Update LRU
		return c.dataStore[c.blockIndex(block)], nil
	}

	c.stats.Misses++

	victim := c.directory.FindVictim(blockAddr)
	if victim == nil {
		return nil, fmt.Errorf("regcache: no victim for address %#x", blockAddr)
	}
	victimData := c.dataStore[c.blockIndex(victim)]

	if victim.IsValid {
		c.stats.Evictions++
		if victim.IsDirty {
			c.stats.Writebacks++
			// Tag stores the block-aligned address.
			if err := c.backing.Write(victim.Tag, victimData); err != nil {
				return nil, err
			}
			victim.IsDirty = false
			c.dirtyLines--
		}
	}

	if err := c.backing.Read(blockAddr, victimData); err != nil {
		return nil, err
	}

	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = false
	c.directory.Visit(victim) // Update LRU

	return victimData, nil
}

func (c *Cache) markDirty(blockAddr uint64) {
	block := c.directory.Lookup(0, blockAddr)
	if block != nil && block.IsValid && !block.IsDirty {
		block.IsDirty = true
		c.dirtyLines++
	}
}

// Invalidate drops the line holding addr without writing it back.
func (c *Cache) Invalidate(addr uint64) {
	blockAddr := addr - addr%uint64(c.config.BlockSize)
	block := c.directory.Lookup(0, blockAddr)
	if block != nil && block.IsValid {
		if block.IsDirty {
			c.dirtyLines--
		}
		block.IsValid = false
		block.IsDirty = false
	}
}

// Flush writes back all dirty lines and invalidates the cache. Called
// before the owning queue is resumed so the hardware restores the
// modified context.
func (c *Cache) Flush() error {
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid && block.IsDirty {
				c.stats.Writebacks++
				blockData := c.dataStore[c.blockIndex(block)]
				if err := c.backing.Write(block.Tag, blockData); err != nil {
					return err
				}
			}
			block.IsValid = false
			block.IsDirty = false
		}
	}
	c.dirtyLines = 0
	return nil
}

// Reset invalidates all lines without writeback. Used when the cached
// save area is abandoned, such as after a queue relocation.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.stats = Statistics{}
	c.dirtyLines = 0
}
