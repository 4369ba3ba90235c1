package framecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"cinegrid/internal/cine"
	"cinegrid/internal/logging"
)

// Fetcher downloads the complete fast-path frame sequence for an instance.
// progress is called with the number of frames received so far.
type Fetcher interface {
	FetchFrameSequence(ctx context.Context, inst cine.Instance, progress func(done, total int)) ([]cine.Frame, error)
}

// Options tunes cache behaviour.
type Options struct {
	RetainReleased int
	Logger         *slog.Logger
}

// Cache is the per-instance fast-path frame store.
type Cache struct {
	fetcher Fetcher
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	entries  map[string]*entry
	retained *lru.Cache[string, *entry]
	group    singleflight.Group

	fetches atomic.Int64
}

// Stats describes current cache usage.
type Stats struct {
	Entries    int   `json:"entries"`
	InFlight   int   `json:"in_flight"`
	Retained   int   `json:"retained"`
	TotalBytes int64 `json:"total_bytes"`
	Fetches    int64 `json:"fetches"`
}

// New constructs a cache backed by fetcher.
func New(fetcher Fetcher, opts Options) (*Cache, error) {
	if fetcher == nil {
		return nil, errors.New("framecache: fetcher is required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		fetcher: fetcher,
		logger:  logging.NewComponentLogger(opts.Logger, "framecache"),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
	if opts.RetainReleased > 0 {
		retained, err := lru.New[string, *entry](opts.RetainReleased)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("framecache: retention cache: %w", err)
		}
		c.retained = retained
	}
	return c, nil
}

// Ensure returns a handle on the instance's frame sequence, starting a
// download when nothing is cached or in flight. Every handle must be
// released.
func (c *Cache) Ensure(inst cine.Instance) (*Handle, error) {
	if err := inst.Validate(); err != nil {
		return nil, err
	}
	key := inst.Key()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return nil, errors.New("framecache: closed")
	}

	if e, ok := c.entries[key]; ok {
		e.refs++
		return &Handle{cache: c, entry: e}, nil
	}
	if c.retained != nil {
		if e, ok := c.retained.Peek(key); ok {
			c.retained.Remove(key)
			e.refs = 1
			c.entries[key] = e
			c.logger.Debug("frame cache hit on retained entry", logging.Instance(key))
			return &Handle{cache: c, entry: e}, nil
		}
	}

	ctx, cancel := context.WithCancel(c.ctx)
	e := newEntry(inst, cancel)
	e.refs = 1
	c.entries[key] = e
	go c.download(ctx, e)
	return &Handle{cache: c, entry: e}, nil
}

// Cached reports whether a completed sequence is held for key.
func (c *Cache) Cached(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		_, done, err := e.snapshot()
		return done && err == nil
	}
	if c.retained != nil {
		return c.retained.Contains(key)
	}
	return false
}

// Stats reports the cache footprint.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := Stats{Entries: len(c.entries), Fetches: c.fetches.Load()}
	for _, e := range c.entries {
		_, done, _ := e.snapshot()
		if !done {
			stats.InFlight++
		}
		stats.TotalBytes += e.size()
	}
	if c.retained != nil {
		stats.Retained = c.retained.Len()
		for _, key := range c.retained.Keys() {
			if e, ok := c.retained.Peek(key); ok {
				stats.TotalBytes += e.size()
			}
		}
	}
	return stats
}

// Close cancels every in-flight download and drops all entries.
func (c *Cache) Close() {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		c.group.Forget(key)
	}
	c.entries = make(map[string]*entry)
	if c.retained != nil {
		c.retained.Purge()
	}
}

func (c *Cache) download(ctx context.Context, e *entry) {
	key := e.inst.Key()
	ch := c.group.DoChan(key, func() (any, error) {
		c.fetches.Add(1)
		return c.fetcher.FetchFrameSequence(ctx, e.inst, e.report)
	})

	var (
		frames []cine.Frame
		err    error
	)
	select {
	case res := <-ch:
		err = res.Err
		if err == nil {
			frames, _ = res.Val.([]cine.Frame)
		}
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err == nil {
		err = checkSequence(e.inst, frames)
	}
	if err != nil {
		if !errors.Is(err, cine.ErrFastPathDownloadFailed) {
			err = cine.Wrap(cine.ErrFastPathDownloadFailed, "framecache", "download", fmt.Sprintf("instance %s", key), err)
		}
		frames = nil
	}

	c.mu.Lock()
	if err != nil && c.entries[key] == e {
		delete(c.entries, key)
		c.group.Forget(key)
	}
	c.mu.Unlock()

	e.complete(frames, err)
	if err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(c.logger, "fast-path download failed", "fast_path_download_failed",
				logging.Instance(key),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the fast-path source and instance frame count"),
				logging.String(logging.FieldImpact, "slots showing this instance return to idle"),
			)
		}
		return
	}
	c.logger.Debug("fast-path sequence cached",
		logging.Instance(key),
		logging.Int("frames", len(frames)),
	)
}

func (c *Cache) release(e *entry) {
	key := e.inst.Key()
	c.mu.Lock()
	defer c.mu.Unlock()
	e.refs--
	if e.refs > 0 {
		return
	}
	if c.entries[key] != e {
		return
	}
	delete(c.entries, key)
	_, done, err := e.snapshot()
	if done && err == nil && c.retained != nil && c.ctx.Err() == nil {
		c.retained.Add(key, e)
		return
	}
	e.cancel()
	c.group.Forget(key)
}

func checkSequence(inst cine.Instance, frames []cine.Frame) error {
	if len(frames) == 0 {
		return cine.Wrap(cine.ErrFastPathDownloadFailed, "framecache", "verify",
			fmt.Sprintf("instance %s: empty frame sequence", inst.Key()), nil)
	}
	if len(frames) != inst.NumberOfFrames {
		return cine.Wrap(cine.ErrFastPathDownloadFailed, "framecache", "verify",
			fmt.Sprintf("instance %s: got %d frames, expected %d", inst.Key(), len(frames), inst.NumberOfFrames), nil)
	}
	return nil
}
