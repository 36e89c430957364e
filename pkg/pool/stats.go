package pool

// BucketStatistics is a snapshot of one buffer tier.
type BucketStatistics struct {
	Name        string `json:"name"`
	Capacity    int    `json:"capacity"`
	Idle        int    `json:"idle"`
	Limit       int    `json:"limit"`
	InUse       int64  `json:"in_use"`
	Allocations int64  `json:"allocations"`
	Reuses      int64  `json:"reuses"`
	Returns     int64  `json:"returns"`
	Evictions   int64  `json:"evictions"`
	BytesHeld   int64  `json:"bytes_held"`
}

// PoolStatistics is a snapshot of a BufferPool.
//
// For pooled buffers InUse + Idle == Allocations - Evictions holds whenever
// no acquire or release is in progress. Oversized and Direct count buffers
// that bypassed the buckets and are excluded from the other totals.
type PoolStatistics struct {
	Buckets     []BucketStatistics `json:"buckets"`
	InUse       int64              `json:"in_use"`
	Idle        int64              `json:"idle"`
	Allocations int64              `json:"allocations"`
	Reuses      int64              `json:"reuses"`
	Returns     int64              `json:"returns"`
	Evictions   int64              `json:"evictions"`
	Oversized   int64              `json:"oversized"`
	Direct      int64              `json:"direct"`
	HitRate     float64            `json:"hit_rate"`
	BytesHeld   int64              `json:"bytes_held"`
	Disabled    bool               `json:"disabled"`
}

// ObjectStatistics is a snapshot of one typed object pool.
type ObjectStatistics struct {
	Name        string  `json:"name"`
	Idle        int     `json:"idle"`
	Limit       int     `json:"limit"`
	InUse       int64   `json:"in_use"`
	Allocations int64   `json:"allocations"`
	Reuses      int64   `json:"reuses"`
	Returns     int64   `json:"returns"`
	Evictions   int64   `json:"evictions"`
	Overflows   int64   `json:"overflows"`
	ScaleUps    int64   `json:"scale_ups"`
	ScaleDowns  int64   `json:"scale_downs"`
	Utilization float64 `json:"utilization"`
	HitRate     float64 `json:"hit_rate"`
}

// ObjectPoolStatistics aggregates every registered typed pool.
type ObjectPoolStatistics struct {
	Pools       []ObjectStatistics `json:"pools"`
	InUse       int64              `json:"in_use"`
	Idle        int64              `json:"idle"`
	Allocations int64              `json:"allocations"`
	Reuses      int64              `json:"reuses"`
	Overflows   int64              `json:"overflows"`
	HitRate     float64            `json:"hit_rate"`
	Disabled    bool               `json:"disabled"`
}

func hitRate(reuses, allocations int64) float64 {
	total := reuses + allocations
	if total == 0 {
		return 0
	}
	return float64(reuses) / float64(total)
}
