package machine

import (
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/unwindlab/quickctx/frame"
)

// CacheConfig holds stack cache parameters.
type CacheConfig struct {
	// Size in bytes.
	Size int `json:"size"`
	// Associativity (number of ways).
	Associativity int `json:"associativity"`
	// BlockSize in bytes (cache line size).
	BlockSize int `json:"block_size"`
}

// DefaultCacheConfig returns the default stack cache configuration: a
// small cache sized for the working set of a single unwind pass.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Size:          4 * 1024,
		Associativity: 2,
		BlockSize:     32,
	}
}

// CacheStats holds stack cache access statistics.
type CacheStats struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
}

// Cache models the data cache in front of the harness stack memory,
// using Akita cache components for tag and replacement state. Word
// accesses from slot bindings and the long-jump engine go through it,
// so an unwind pass's stack traffic shows up in the statistics.
type Cache struct {
	config    CacheConfig
	directory *akitacache.DirectoryImpl

	// Block data, indexed by setID*associativity + wayID.
	lines [][]byte

	backing *Memory
	stats   CacheStats
}

// NewCache creates a cache in front of the given backing memory.
func NewCache(config CacheConfig, backing *Memory) *Cache {
	numSets := config.Size / (config.Associativity * config.BlockSize)
	lines := make([][]byte, numSets*config.Associativity)
	for i := range lines {
		lines[i] = make([]byte, config.BlockSize)
	}
	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		lines:   lines,
		backing: backing,
	}
}

// Config returns the cache configuration.
func (c *Cache) Config() CacheConfig {
	return c.config
}

// Stats returns the access statistics collected so far.
func (c *Cache) Stats() CacheStats {
	return c.stats
}

// ResetStats clears the access statistics.
func (c *Cache) ResetStats() {
	c.stats = CacheStats{}
}

func (c *Cache) lineData(block *akitacache.Block) []byte {
	return c.lines[block.SetID*c.config.Associativity+block.WayID]
}

func (c *Cache) blockAddr(addr uint32) uint64 {
	return uint64(addr) / uint64(c.config.BlockSize) * uint64(c.config.BlockSize)
}

// lookup returns the block holding addr, filling it from backing memory
// on a miss and writing back a dirty victim.
func (c *Cache) lookup(addr uint32) *akitacache.Block {
	blockAddr := c.blockAddr(addr)
	if block := c.directory.Lookup(0, blockAddr); block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)
		return block
	}
	c.stats.Misses++

	victim := c.directory.FindVictim(blockAddr)
	data := c.lineData(victim)
	if victim.IsValid {
		c.stats.Evictions++
		if victim.IsDirty {
			c.stats.Writebacks++
			c.writeBack(victim.Tag, data)
		}
	}
	for i := range data {
		data[i] = c.backing.Read8(uint32(blockAddr) + uint32(i))
	}
	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = false
	c.directory.Visit(victim)
	return victim
}

func (c *Cache) writeBack(blockAddr uint64, data []byte) {
	for i, b := range data {
		c.backing.Write8(uint32(blockAddr)+uint32(i), b)
	}
}

// ReadWord returns the word stored at addr, through the cache. Accesses
// must be word-aligned so they never straddle a cache line.
func (c *Cache) ReadWord(addr uint32) uint32 {
	if addr%frame.WordSize != 0 {
		panic(fmt.Sprintf("machine: unaligned cached access at %#x", addr))
	}
	c.stats.Reads++
	block := c.lookup(addr)
	data := c.lineData(block)
	offset := int(uint64(addr) - block.Tag)
	var v uint32
	for i := 0; i < frame.WordSize; i++ {
		v |= uint32(data[offset+i]) << (8 * i)
	}
	return v
}

// WriteWord stores v at addr, through the cache. Lines are allocated on
// write misses and written back on eviction or Flush.
func (c *Cache) WriteWord(addr uint32, v uint32) {
	if addr%frame.WordSize != 0 {
		panic(fmt.Sprintf("machine: unaligned cached access at %#x", addr))
	}
	c.stats.Writes++
	block := c.lookup(addr)
	data := c.lineData(block)
	offset := int(uint64(addr) - block.Tag)
	for i := 0; i < frame.WordSize; i++ {
		data[offset+i] = byte(v >> (8 * i))
	}
	block.IsDirty = true
}

// Flush writes every dirty line back to the backing memory and
// invalidates the cache.
func (c *Cache) Flush() {
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid && block.IsDirty {
				c.stats.Writebacks++
				c.writeBack(block.Tag, c.lineData(block))
			}
			block.IsValid = false
			block.IsDirty = false
		}
	}
}

var _ frame.Memory = (*Cache)(nil)
