// Package metrics exposes prometheus metrics for the replicator. By default
// every metric function is a NOP to minimize overhead when metrics are not
// enabled; 'InitMetrics' swaps in real implementations and serves them.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// InitMetrics initializes metrics. If the passed port is zero, no action is
// taken. Otherwise the function creates all the imgsync metrics, registers
// them for availability at the passed port number under the '/metrics' path,
// then starts an HTTP server to serve them.
func InitMetrics(port int) {
	if port == 0 {
		return
	}
	addImgsyncMetrics()
	http.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(fmt.Sprintf(":%d", port), nil)
}

// Handler returns the prometheus scrape handler for embedding the '/metrics'
// path in an existing server. 'addImgsyncMetrics' must have run (via
// 'InitMetrics' or 'InitMetricsInProcess') for it to serve anything useful.
func Handler() http.Handler {
	return promhttp.Handler()
}

// InitMetricsInProcess registers the imgsync metrics without starting a
// standalone server - serve mode mounts 'Handler' on its own router.
func InitMetricsInProcess() {
	addImgsyncMetrics()
}
