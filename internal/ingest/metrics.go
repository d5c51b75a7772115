package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	measurementsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "measurements_written_total",
		Help: "Total number of measurements persisted through create, import or stream ingest",
	})

	importFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "measurement_import_failures_total",
		Help: "Total number of import batches or stream messages that failed",
	})
)
