package workqueue

import (
	"runtime/metrics"
	"time"
)

// The runtime/metrics names sampled for memory pressure. Heap-in-use plus
// everything the runtime allocated outside the heap (stacks, mcache, GC
// metadata, cgo) approximates the process footprint well enough for a
// throttling decision without the stop-the-world cost of ReadMemStats.
const (
	heapInUseMetric = "/memory/classes/heap/objects:bytes"
	totalMetric     = "/memory/classes/total:bytes"
)

// Sample is one point-in-time memory reading. Transient - recomputed on
// demand, never persisted.
type Sample struct {
	// HeapInUse is live heap object bytes
	HeapInUse uint64 `json:"heapInUse"`
	// External is bytes the runtime holds outside heap objects
	External uint64 `json:"external"`
	// When is the sampling wall-clock time
	When time.Time `json:"when"`
}

// Combined returns the usage figure the queue throttles against.
func (s Sample) Combined() uint64 {
	return s.HeapInUse + s.External
}

// SampleMemory reads current process memory usage from the go runtime.
func SampleMemory() Sample {
	samples := []metrics.Sample{
		{Name: heapInUseMetric},
		{Name: totalMetric},
	}
	metrics.Read(samples)
	heap := valueOrZero(samples[0])
	total := valueOrZero(samples[1])
	external := uint64(0)
	if total > heap {
		external = total - heap
	}
	return Sample{
		HeapInUse: heap,
		External:  external,
		When:      time.Now(),
	}
}

func valueOrZero(s metrics.Sample) uint64 {
	if s.Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s.Value.Uint64()
}
