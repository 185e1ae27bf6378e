package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"timelineboard/pkg/mq"

	"github.com/spf13/cobra"
)

var (
	watchMQURL string
	watchKey   string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print timeline events from the message broker",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchMQURL, "mq-url", os.Getenv("MQ_URL"), "AMQP URL")
	watchCmd.Flags().StringVar(&watchKey, "key", "timeline.#", "routing key pattern")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	url := watchMQURL
	if url == "" {
		if cfg, err := loadConfig(); err == nil && cfg != nil {
			url = cfg.MQ.URL
		}
	}
	if url == "" {
		return fmt.Errorf("--mq-url or $MQ_URL is required")
	}

	consumer, err := mq.NewConsumer(url, "", watchKey, newLogger())
	if err != nil {
		return err
	}
	defer consumer.Close()

	out := cmd.OutOrStdout()
	consumer.SetHandler(func(_ context.Context, routingKey string, data json.RawMessage) error {
		_, err := fmt.Fprintf(out, "%s %s\n", routingKey, data)
		return err
	})
	return consumer.StartConsuming(cmd.Context())
}
