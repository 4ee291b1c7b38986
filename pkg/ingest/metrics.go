package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossflow_ingest_messages_received_total",
		Help: "the number of notification messages received from the queue",
	})
	messagesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossflow_ingest_messages_deleted_total",
		Help: "the number of notification messages acknowledged",
	})
	pollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ossflow_ingest_poll_errors_total",
		Help: "the number of failed poll cycles, by kind",
	}, []string{"kind"})
	objectsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossflow_ingest_objects_total",
		Help: "the number of objects read to completion",
	})
	objectsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ossflow_ingest_objects_skipped_total",
		Help: "the number of objects skipped, by reason",
	}, []string{"reason"})
	recordsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossflow_ingest_records_emitted_total",
		Help: "the number of records handed to the sink",
	})
	emitBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossflow_ingest_emit_batches_total",
		Help: "the number of EmitBatch calls",
	})
	linesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossflow_ingest_lines_skipped_total",
		Help: "the number of lines the parser rejected",
	})
)
