package monitor

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/ajitpratap0/reservoir/pkg/pool"
)

const shardCount = 32

type inflight struct {
	start time.Time
	mem   uint64
	meta  RequestMeta
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*inflight
}

// inflightMap is a sharded map of started, not yet ended requests.
type inflightMap struct {
	shards  [shardCount]shard
	entries *pool.Pool[*inflight]
}

func newInflightMap() *inflightMap {
	m := &inflightMap{
		entries: pool.New(
			func() *inflight { return &inflight{} },
			func(e *inflight) { *e = inflight{} },
		),
	}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]*inflight)
	}
	return m
}

func (m *inflightMap) shardFor(id string) *shard {
	return &m.shards[xxhash.Sum64String(id)%shardCount]
}

// put stores a new entry for id, replacing any existing one.
func (m *inflightMap) put(id string, start time.Time, mem uint64, meta RequestMeta) {
	e := m.entries.Get()
	e.start, e.mem, e.meta = start, mem, meta

	s := m.shardFor(id)
	s.mu.Lock()
	old := s.entries[id]
	s.entries[id] = e
	s.mu.Unlock()

	if old != nil {
		m.entries.Put(old)
	}
}

// take removes the entry for id and returns a copy of it.
func (m *inflightMap) take(id string) (inflight, bool) {
	s := m.shardFor(id)
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if !ok {
		return inflight{}, false
	}
	out := *e
	m.entries.Put(e)
	return out, true
}

// purge drops entries started before cutoff, or every entry when all is
// set, and returns how many.
func (m *inflightMap) purge(cutoff time.Time, all bool) int {
	var dropped []*inflight
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for id, e := range s.entries {
			if all || e.start.Before(cutoff) {
				dropped = append(dropped, e)
				delete(s.entries, id)
			}
		}
		s.mu.Unlock()
	}
	for _, e := range dropped {
		m.entries.Put(e)
	}
	return len(dropped)
}

func (m *inflightMap) len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

func (m *inflightMap) poolStats() pool.Stats {
	return m.entries.Stats()
}
