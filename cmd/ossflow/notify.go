package main

import (
	"fmt"

	"github.com/illmade-knight/go-ossflow/pkg/mns"
	"github.com/illmade-knight/go-ossflow/pkg/notification"
	"github.com/spf13/cobra"
)

// notifyCommand publishes a synthetic ObjectCreated notification, which is useful for replaying
// objects that were uploaded before the bucket notification rule existed.
func notifyCommand(g *globalFlags) *cobra.Command {
	var (
		keys     []string
		priority int
	)
	cmd := &cobra.Command{
		Use:   "notify --key <object> [--key <object>...]",
		Short: "send a change notification for existing objects to the MNS queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(keys) == 0 {
				return fmt.Errorf("at least one --key is required")
			}
			cfg, err := g.load(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel, cfg.LogFormat, nil)
			if err != nil {
				return err
			}

			events := make([]notification.ChangeEvent, len(keys))
			for i, k := range keys {
				events[i] = notification.ChangeEvent{EventName: "ObjectCreated:PutObject", Bucket: cfg.Storage.Bucket, Key: k}
			}
			body, err := notification.Encode(events)
			if err != nil {
				return err
			}

			client, err := mns.NewClient(mns.ClientConfig{
				Endpoint:        cfg.Ingest.MNS.Endpoint,
				AccessKeyID:     cfg.Storage.AccessKeyID,
				AccessKeySecret: cfg.Storage.AccessKeySecret,
			}, nil, logger)
			if err != nil {
				return err
			}
			id, err := client.Send(cmd.Context(), cfg.Ingest.MNS.Queue, body, priority)
			if err != nil {
				return err
			}
			logger.Info().Str("message_id", id).Strs("keys", keys).Msg("Notification sent.")
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&keys, "key", nil, "object key to announce")
	cmd.Flags().IntVar(&priority, "priority", 8, "MNS message priority (1-16)")
	return cmd
}
