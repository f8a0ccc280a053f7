package cog

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// tileKey identifies a decoded tile within a file and level.
type tileKey struct {
	path  string
	level int
	col   int
	row   int
}

// tile is a decoded block of samples, pixel-interleaved.
type tile struct {
	width, height int
	spp           int
	data          []float64
}

func (t *tile) at(x, y, band int) float64 {
	return t.data[(y*t.width+x)*t.spp+band]
}

// TileCache keeps recently decoded tiles so neighboring output pixels do
// not decode the same block twice. It is safe for concurrent use and may be
// shared between readers.
type TileCache struct {
	lru *lru.Cache[tileKey, *tile]
}

// NewTileCache creates a cache holding up to maxEntries tiles.
func NewTileCache(maxEntries int) *TileCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	c, err := lru.New[tileKey, *tile](maxEntries)
	if err != nil {
		panic(err)
	}
	return &TileCache{lru: c}
}

func (c *TileCache) get(k tileKey) (*tile, bool) {
	if c == nil {
		return nil, false
	}
	return c.lru.Get(k)
}

func (c *TileCache) put(k tileKey, t *tile) {
	if c != nil {
		c.lru.Add(k, t)
	}
}

// Len returns the number of cached tiles.
func (c *TileCache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}

// purge drops every tile of path, called when a reader closes.
func (c *TileCache) purge(path string) {
	if c == nil {
		return
	}
	for _, k := range c.lru.Keys() {
		if k.path == path {
			c.lru.Remove(k)
		}
	}
}
