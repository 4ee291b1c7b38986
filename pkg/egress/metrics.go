package egress

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	chunksWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ossflow_egress_chunks_written_total",
		Help: "the number of chunks uploaded to the bucket",
	}, []string{"tag"})
	chunkWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ossflow_egress_chunk_write_errors_total",
		Help: "the number of chunk writes that failed, by stage",
	}, []string{"stage"})
	chunkWriteRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossflow_egress_chunk_write_retries_total",
		Help: "the number of chunk writes retried after a failure",
	})
	writeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ossflow_egress_write_seconds",
		Help:    "the time spent compressing and uploading one chunk",
		Buckets: prometheus.DefBuckets,
	})
	delayedWrites = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossflow_egress_delayed_writes_total",
		Help: "the number of chunks written after their time bucket plus warn_for_delay",
	})
	recordsBuffered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossflow_egress_records_buffered_total",
		Help: "the number of records accepted into chunks",
	})
)
