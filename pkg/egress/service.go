package egress

import (
	"fmt"

	"github.com/illmade-knight/go-ossflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-ossflow/pkg/record"
	"github.com/rs/zerolog"
)

// ServiceConfig sizes the upstream side of the egress pipeline.
type ServiceConfig struct {
	NumWorkers int
	DefaultTag string
	Batcher    BatcherConfig
}

// NewService assembles the egress pipeline: consumer -> record transformer -> Batcher -> writer.
func NewService(
	cfg ServiceConfig,
	consumer messagepipeline.MessageConsumer,
	writer ChunkWriter,
	formatter record.Formatter,
	logger zerolog.Logger,
) (*messagepipeline.ProcessingService[Record], error) {
	if writer == nil {
		return nil, fmt.Errorf("chunk writer cannot be nil")
	}
	if formatter == nil {
		return nil, fmt.Errorf("formatter cannot be nil")
	}
	batcher := NewBatcher(cfg.Batcher, writer, formatter, logger)

	service, err := messagepipeline.NewProcessingService[Record](
		cfg.NumWorkers,
		consumer,
		batcher,
		NewRecordTransformer(cfg.DefaultTag, nil),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create processing service for egress: %w", err)
	}
	return service, nil
}
