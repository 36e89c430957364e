// Architecture
//
// BufferPool holds one bucket per configured size category. A bucket is a
// mutex-guarded LIFO free list with an idle cap and atomic counters, so
// contention is limited to requests of the same tier. Acquire picks the
// smallest tier whose capacity fits the request; a 64KB idle buffer is never
// handed out for a 1KB request.
//
// ObjectPool is a registry of TypedPool[T] values created with Register.
// Each typed pool keeps an idle limit that starts at max_size and moves on
// every scaling tick:
//
//	utilization = in_use / (in_use + idle)
//	utilization > scale_threshold  -> limit = min(limit*scale_factor, emergency_limit)
//	utilization < shrink_threshold -> limit = max(limit/scale_factor, initial_size)
//
// When in-use objects reach emergency_limit, Acquire returns an overflow
// object that is dropped on release. Pooling never fails a caller.
//
// Ownership
//
// Acquire returns a handle (*Buffer or *Object[T]). Release invalidates it:
//
//	buf := bp.Acquire(1024)
//	buf.WriteString("payload")
//	_ = buf.Release()
//	err := buf.Release() // ownership error, pool unchanged
//
// Statistics
//
// Every pool exposes a plain snapshot with JSON tags. For bucketed buffers
//
//	in_use + idle == allocations - evictions
//
// holds between operations, and hit_rate is reuses / (reuses + allocations).
//
// Memory Pressure
//
// BufferPool and ObjectPool both implement ShrinkToFloor, which the memory
// manager calls when it enters emergency mode. Shrinking is a bucket-local
// update; no pool lock is held across components.
package pool
