package main

import (
	"fmt"

	mqcontracts "timelineboard/contracts/mq"
	"timelineboard/pkg/db"
	"timelineboard/pkg/outbox"

	"github.com/spf13/cobra"
)

var (
	replayLimit   int
	replayEventID int64
	replayKey     string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Requeue failed sync outbox events (needs --config with a db section)",
	Args:  cobra.NoArgs,
	RunE:  runReplay,
}

func init() {
	replayCmd.Flags().IntVar(&replayLimit, "limit", 100, "maximum events to requeue")
	replayCmd.Flags().Int64Var(&replayEventID, "event", 0, "requeue a single event id")
	replayCmd.Flags().StringVar(&replayKey, "key", mqcontracts.RoutingStatusSync, "only requeue this routing key (empty for all)")
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg == nil || !cfg.DB.Enabled() {
		return fmt.Errorf("replay needs --config with db settings")
	}

	log := newLogger()
	pool, err := db.NewConnection(cmd.Context(), cfg.DB, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := outbox.NewReplayService(outbox.NewRepository(pool), log)
	if replayEventID > 0 {
		if err := svc.ReplayEvent(cmd.Context(), replayEventID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "requeued event %d\n", replayEventID)
		return nil
	}

	res, err := svc.ReplayFailedEvents(cmd.Context(), replayKey, replayLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, id := range res.Requeued {
		fmt.Fprintf(out, "requeued %d\n", id)
	}
	for id, err := range res.Failed {
		fmt.Fprintf(out, "failed   %d: %v\n", id, err)
	}
	if len(res.Failed) > 0 {
		return fmt.Errorf("%d events could not be requeued", len(res.Failed))
	}
	return nil
}
