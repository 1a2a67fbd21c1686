package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// These are the metrics functions exposed by the package. By default they
// are all NOP functions. The 'addImgsyncMetrics' function initializes them
// with functions having implementations if metrics are enabled.

var IncManifestsCopied noLabel = func() {}
var IncIndexesCopied noLabel = func() {}
var IncBlobsCopied noLabel = func() {}
var DeltaBlobBytesCopied delta = func(float64) {}
var IncSyncErrors noLabel = func() {}
var IncQueueRejections noLabel = func() {}

type noLabel func()
type delta func(float64)

const (
	manifests_copied_total  = "manifests_copied_total"
	indexes_copied_total    = "indexes_copied_total"
	blobs_copied_total      = "blobs_copied_total"
	blob_bytes_copied_total = "blob_bytes_copied_total"
	sync_errors_total       = "sync_errors_total"
	queue_rejections_total  = "queue_rejections_total"
)

// Prometheus metrics objects

var manifestsCopiedTotal prometheus.Counter
var indexesCopiedTotal prometheus.Counter
var blobsCopiedTotal prometheus.Counter
var blobBytesCopiedTotal prometheus.Counter
var syncErrorsTotal prometheus.Counter
var queueRejectionsTotal prometheus.Counter

// addImgsyncMetrics creates all the imgsync metrics and registers them with
// the prometheus library. It also assigns a function to actually implement
// the metric. Unless this function is called, all the metric functions
// exposed by the package will be NOP functions.
func addImgsyncMetrics() {
	manifestsCopiedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name:      manifests_copied_total,
			Namespace: "imgsync",
			Help:      "Total count of concrete image manifests republished",
		},
	)
	IncManifestsCopied = func() {
		manifestsCopiedTotal.Add(1)
	}

	///
	indexesCopiedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name:      indexes_copied_total,
			Namespace: "imgsync",
			Help:      "Total count of multi-platform indexes republished",
		},
	)
	IncIndexesCopied = func() {
		indexesCopiedTotal.Add(1)
	}

	///
	blobsCopiedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name:      blobs_copied_total,
			Namespace: "imgsync",
			Help:      "Total count of blobs transferred",
		},
	)
	IncBlobsCopied = func() {
		blobsCopiedTotal.Add(1)
	}

	///
	blobBytesCopiedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name:      blob_bytes_copied_total,
			Namespace: "imgsync",
			Help:      "Total blob bytes transferred",
		},
	)
	DeltaBlobBytesCopied = func(delta float64) {
		blobBytesCopiedTotal.Add(delta)
	}

	///
	syncErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name:      sync_errors_total,
			Namespace: "imgsync",
			Help:      "Total count of failed sync invocations",
		},
	)
	IncSyncErrors = func() {
		syncErrorsTotal.Add(1)
	}

	///
	queueRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name:      queue_rejections_total,
			Namespace: "imgsync",
			Help:      "Total count of blob jobs rejected by queue backpressure",
		},
	)
	IncQueueRejections = func() {
		queueRejectionsTotal.Add(1)
	}
}
