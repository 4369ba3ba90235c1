package testsupport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"cinegrid/internal/cine"
)

// FastSource is an in-memory fast-path source. Downloads for an instance can
// be held open with Gate and released by closing the returned channel.
type FastSource struct {
	mu      sync.Mutex
	calls   map[string]int
	gates   map[string]chan struct{}
	errs    map[string]error
	counts  map[string]int
	started chan string
}

// NewFastSource constructs an empty fake.
func NewFastSource() *FastSource {
	return &FastSource{
		calls:   make(map[string]int),
		gates:   make(map[string]chan struct{}),
		errs:    make(map[string]error),
		counts:  make(map[string]int),
		started: make(chan string, 64),
	}
}

// Gate holds downloads for id until the returned channel is closed.
func (s *FastSource) Gate(id string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.gates[id] = gate
	return gate
}

// Fail makes downloads for id return err.
func (s *FastSource) Fail(id string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[id] = err
}

// Truncate makes downloads for id return n frames regardless of the instance.
func (s *FastSource) Truncate(id string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[id] = n
}

// Calls reports how many downloads started for id.
func (s *FastSource) Calls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

// Started delivers the instance ID of every download as it begins.
func (s *FastSource) Started() <-chan string {
	return s.started
}

// FetchFrameSequence implements framecache.Fetcher.
func (s *FastSource) FetchFrameSequence(ctx context.Context, inst cine.Instance, progress func(done, total int)) ([]cine.Frame, error) {
	s.mu.Lock()
	s.calls[inst.ID]++
	gate := s.gates[inst.ID]
	failure := s.errs[inst.ID]
	n, truncated := s.counts[inst.ID]
	s.mu.Unlock()
	if !truncated {
		n = inst.NumberOfFrames
	}

	select {
	case s.started <- inst.ID:
	default:
	}
	if progress != nil && n > 1 {
		progress(n/2, inst.NumberOfFrames)
	}
	if gate != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-gate:
		}
	}
	if failure != nil {
		return nil, failure
	}
	frames := make([]cine.Frame, n)
	for i := range frames {
		frames[i] = cine.Frame{Index: i, Encoded: []byte(fmt.Sprintf("%s-%d", inst.ID, i))}
		if progress != nil {
			progress(i+1, inst.NumberOfFrames)
		}
	}
	return frames, nil
}

// HighFidelitySource is an in-memory per-frame source.
type HighFidelitySource struct {
	mu        sync.Mutex
	calls     map[string]int
	gates     map[string]chan struct{}
	failAt    map[string]int
	failErr   map[string]error
	active    atomic.Int64
	maxActive atomic.Int64
}

// NewHighFidelitySource constructs an empty fake.
func NewHighFidelitySource() *HighFidelitySource {
	return &HighFidelitySource{
		calls:   make(map[string]int),
		gates:   make(map[string]chan struct{}),
		failAt:  make(map[string]int),
		failErr: make(map[string]error),
	}
}

// Gate holds every frame request for id until the returned channel is closed.
func (s *HighFidelitySource) Gate(id string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.gates[id] = gate
	return gate
}

// Fail makes the request for frame index of id return err.
func (s *HighFidelitySource) Fail(id string, index int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt[id] = index
	s.failErr[id] = err
}

// Heal clears a failure registered with Fail.
func (s *HighFidelitySource) Heal(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failAt, id)
	delete(s.failErr, id)
}

// Calls reports how many frame requests were made for id.
func (s *HighFidelitySource) Calls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

// MaxConcurrent reports the highest number of simultaneous requests observed.
func (s *HighFidelitySource) MaxConcurrent() int {
	return int(s.maxActive.Load())
}

// FetchFrame implements preload.Fetcher.
func (s *HighFidelitySource) FetchFrame(ctx context.Context, inst cine.Instance, index int) (cine.Payload, error) {
	current := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		peak := s.maxActive.Load()
		if current <= peak || s.maxActive.CompareAndSwap(peak, current) {
			break
		}
	}

	s.mu.Lock()
	s.calls[inst.ID]++
	gate := s.gates[inst.ID]
	failIndex, failing := s.failAt[inst.ID]
	failure := s.failErr[inst.ID]
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-ctx.Done():
			return cine.Payload{}, ctx.Err()
		case <-gate:
		}
	}
	if err := ctx.Err(); err != nil {
		return cine.Payload{}, err
	}
	if failing && index == failIndex {
		return cine.Payload{}, failure
	}
	return cine.Payload{
		Index:       index,
		ContentType: "application/octet-stream",
		Data:        []byte(fmt.Sprintf("%s/%d", inst.ID, index)),
	}, nil
}
