// Package tilecache caches fixed-size raster tiles fetched from an upstream
// source, keyed by resolution level and tile origin.
//
// A request may span several cache tiles; each is fetched once, kept unless
// blank, and stitched into the output. Changing the resolution level flushes
// the cache and reinitialises the bounds. Eviction is least recently used and
// concurrent misses on the same tile share a single upstream fetch.
package tilecache

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/golang/groupcache/lru"
	"golang.org/x/sync/singleflight"

	"github.com/banshee-data/geomrefine/internal/monitoring"
)

// ErrInvalidLevel is returned for a resolution level the source does not have.
var ErrInvalidLevel = errors.New("invalid resolution level")

// Source produces tiles on demand.
type Source interface {
	// NumLevels returns the number of resolution levels; level 0 is full resolution.
	NumLevels() int

	// Bounds returns the image rectangle at the given level.
	Bounds(level int) image.Rectangle

	// NoDataValue is the sample value marking missing data.
	NoDataValue() float64

	// Tile returns the samples covering rect at level. rect lies within Bounds(level).
	Tile(ctx context.Context, rect image.Rectangle, level int) (*Tile, error)
}

// Config sizes a Cache.
type Config struct {
	TileWidth  int
	TileHeight int
	// Capacity is the maximum number of cached tiles. Zero means unbounded.
	Capacity int
}

// DefaultConfig returns a 256x256 tile cache holding up to 256 tiles.
func DefaultConfig() Config {
	return Config{TileWidth: 256, TileHeight: 256, Capacity: 256}
}

// Stats counts cache activity since creation.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Blanks    uint64
	Flushes   uint64
	Cached    int
}

type tileKey struct {
	level  int
	origin image.Point
}

// Cache is a tile cache in front of a Source. It is safe for concurrent use.
type Cache struct {
	src   Source
	tileW int
	tileH int

	mu     sync.Mutex
	level  int
	bounds image.Rectangle
	tiles  *lru.Cache
	stats  Stats

	group singleflight.Group
}

// New wraps src in a cache.
func New(src Source, cfg Config) (*Cache, error) {
	if src == nil {
		return nil, errors.New("tile cache: nil source")
	}
	if cfg.TileWidth <= 0 || cfg.TileHeight <= 0 {
		return nil, fmt.Errorf("tile cache: tile size must be positive, got %dx%d", cfg.TileWidth, cfg.TileHeight)
	}
	if cfg.Capacity < 0 {
		return nil, fmt.Errorf("tile cache: capacity must be non-negative, got %d", cfg.Capacity)
	}
	c := &Cache{
		src:   src,
		tileW: cfg.TileWidth,
		tileH: cfg.TileHeight,
		level: -1,
		tiles: lru.New(cfg.Capacity),
	}
	c.tiles.OnEvicted = func(lru.Key, interface{}) { c.stats.Evictions++ }
	return c, nil
}

// TileSize returns the cache tile dimensions.
func (c *Cache) TileSize() (int, int) { return c.tileW, c.tileH }

// Bounds returns the source bounds at level.
func (c *Cache) Bounds(level int) image.Rectangle { return c.src.Bounds(level) }

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Cached = c.tiles.Len()
	return s
}

// Flush drops every cached tile.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

func (c *Cache) flushLocked() {
	// Clear runs OnEvicted for each entry; flushed tiles are not evictions.
	evictions := c.stats.Evictions
	c.tiles.Clear()
	c.stats.Evictions = evictions
	c.stats.Flushes++
}

// setLevel switches the active resolution level, flushing on change, and
// returns the bounds for level.
func (c *Cache) setLevel(level int) image.Rectangle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if level != c.level {
		if c.level >= 0 {
			monitoring.Debugf("tile cache: level %d -> %d, flushing %d tiles", c.level, level, c.tiles.Len())
		}
		c.flushLocked()
		c.level = level
		c.bounds = c.src.Bounds(level)
	}
	return c.bounds
}

// Tile returns the samples covering rect at level. Parts of rect outside the
// source bounds are filled with the no-data value.
func (c *Cache) Tile(ctx context.Context, rect image.Rectangle, level int) (*Tile, error) {
	if level < 0 || level >= c.src.NumLevels() {
		return nil, fmt.Errorf("%w: %d (source has %d)", ErrInvalidLevel, level, c.src.NumLevels())
	}
	bounds := c.setLevel(level)

	out := NewTile(rect, c.src.NoDataValue())
	clip := out.Rect.Intersect(bounds)
	if clip.Empty() {
		return out, nil
	}

	x0 := bounds.Min.X + floorDiv(clip.Min.X-bounds.Min.X, c.tileW)*c.tileW
	y0 := bounds.Min.Y + floorDiv(clip.Min.Y-bounds.Min.Y, c.tileH)*c.tileH
	for ty := y0; ty < clip.Max.Y; ty += c.tileH {
		for tx := x0; tx < clip.Max.X; tx += c.tileW {
			t, err := c.cachedTile(ctx, level, image.Pt(tx, ty), bounds)
			if err != nil {
				return nil, err
			}
			out.CopyFrom(t)
		}
	}
	return out, nil
}

func (c *Cache) cachedTile(ctx context.Context, level int, origin image.Point, bounds image.Rectangle) (*Tile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := tileKey{level: level, origin: origin}

	c.mu.Lock()
	if v, ok := c.tiles.Get(key); ok {
		c.stats.Hits++
		c.mu.Unlock()
		return v.(*Tile), nil
	}
	c.stats.Misses++
	c.mu.Unlock()

	// The shared fetch outlives any one caller; each waiter honours its own ctx.
	fetchCtx := context.WithoutCancel(ctx)
	flightKey := fmt.Sprintf("%d/%d/%d", level, origin.X, origin.Y)
	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		rect := image.Rect(origin.X, origin.Y, origin.X+c.tileW, origin.Y+c.tileH).Intersect(bounds)
		t, err := c.src.Tile(fetchCtx, rect, level)
		if err != nil {
			return nil, fmt.Errorf("fetch tile %s at level %d: %w", rect, level, err)
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if t.IsBlank() {
			c.stats.Blanks++
		} else if c.level == level {
			c.tiles.Add(key, t)
		}
		return t, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Tile), nil
	}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
