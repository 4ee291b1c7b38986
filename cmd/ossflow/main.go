// Command ossflow moves records between object storage and downstream systems: "ingest" reads
// the objects announced on an MNS queue, "egress" writes Pub/Sub records to the bucket as
// compressed chunks.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("exited")
		cancel()
		os.Exit(1)
	}
}
