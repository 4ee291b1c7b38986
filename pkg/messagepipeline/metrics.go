package messagepipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes of a consumed message as seen by the ProcessingService.
const (
	outcomeHandedOff      = "handed_off"
	outcomeSkipped        = "skipped"
	outcomeTransformError = "transform_error"
	outcomeShutdown       = "shutdown"
)

var (
	messagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ossflow_pipeline_messages_total",
		Help: "the number of upstream messages by processing outcome",
	}, []string{"outcome"})
	redeliveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossflow_pipeline_redeliveries_total",
		Help: "the number of upstream messages received more than once",
	})
	published = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossflow_pipeline_published_records_total",
		Help: "the number of records published to Pub/Sub",
	})
	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ossflow_pipeline_publish_errors_total",
		Help: "the number of records that failed to publish to Pub/Sub",
	})
)
