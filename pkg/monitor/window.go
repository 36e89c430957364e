package monitor

import (
	"math"
	"sort"
	"time"

	"github.com/eapache/queue"
)

// window holds counters for one fixed-width time slot.
type window struct {
	key          int64
	requests     int64
	clientErrors int64
	serverErrors int64
	latencySumMs float64
}

// windowKey returns floor(t / width).
func windowKey(t time.Time, width time.Duration) int64 {
	return t.UnixNano() / int64(width)
}

// windowSet is a map of windows plus the retention rule. Callers lock.
type windowSet struct {
	width     time.Duration
	retention int64
	byKey     map[int64]*window
}

func newWindowSet(width time.Duration, retention int) *windowSet {
	return &windowSet{
		width:     width,
		retention: int64(retention),
		byKey:     make(map[int64]*window, retention+1),
	}
}

// record adds one request to the window containing now and drops windows
// older than the retention count. It reports whether now opened a new window.
func (ws *windowSet) record(now time.Time, class StatusClass, latencyMs float64) bool {
	key := windowKey(now, ws.width)
	w, ok := ws.byKey[key]
	if !ok {
		w = &window{key: key}
		ws.byKey[key] = w
		ws.evict(key)
	}
	w.requests++
	w.latencySumMs += latencyMs
	switch class {
	case StatusClientError:
		w.clientErrors++
	case StatusServerError:
		w.serverErrors++
	}
	return !ok
}

func (ws *windowSet) evict(current int64) {
	for k := range ws.byKey {
		if k <= current-ws.retention {
			delete(ws.byKey, k)
		}
	}
}

// rates returns requests per second and the server error rate over the
// trailing window width. The previous window is weighted by the share of
// it that still falls inside the trailing span.
func (ws *windowSet) rates(now time.Time) (rps, errorRate float64) {
	key := windowKey(now, ws.width)
	elapsed := float64(now.UnixNano()-key*int64(ws.width)) / float64(ws.width)
	weight := 1 - elapsed

	var requests, errs float64
	if cur, ok := ws.byKey[key]; ok {
		requests += float64(cur.requests)
		errs += float64(cur.serverErrors)
	}
	if prev, ok := ws.byKey[key-1]; ok {
		requests += float64(prev.requests) * weight
		errs += float64(prev.serverErrors) * weight
	}
	if requests == 0 {
		return 0, 0
	}
	return requests / ws.width.Seconds(), errs / requests
}

// latencyRing keeps the most recent latencies, evicting the oldest past max.
type latencyRing struct {
	max int
	q   *queue.Queue
}

func newLatencyRing(max int) *latencyRing {
	return &latencyRing{max: max, q: queue.New()}
}

func (r *latencyRing) add(ms float64) {
	if r.q.Length() >= r.max {
		r.q.Remove()
	}
	r.q.Add(ms)
}

func (r *latencyRing) len() int {
	return r.q.Length()
}

// sorted copies the ring into dst and sorts it.
func (r *latencyRing) sorted(dst []float64) []float64 {
	dst = dst[:0]
	for i := 0; i < r.q.Length(); i++ {
		dst = append(dst, r.q.Get(i).(float64))
	}
	sort.Float64s(dst)
	return dst
}

// Percentile returns the p-th percentile of sorted using
// index = ceil(N*p/100) - 1. It returns 0 for an empty slice.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(n)*p/100)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
