package main

import (
	"fmt"
	"strconv"

	"timelineboard/internal/apiclient"
	"timelineboard/internal/model"

	"github.com/spf13/cobra"
)

var statusDetail int64

var statusCmd = &cobra.Command{
	Use:   "status <projectId> (<row> <status> | --detail <id> <status>)",
	Short: "Set the status of one timeline row (DONE, ON PROGRESS, PENDING)",
	Long: `Without --detail the row index refers to the loaded timeline and the change
goes through the module update endpoint. With --detail the timeline detail is
patched directly.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().Int64Var(&statusDetail, "detail", 0, "patch this timeline detail id instead of a row")
}

func runStatus(cmd *cobra.Command, args []string) error {
	projectID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid project id %q", args[0])
	}
	if statusDetail > 0 && len(args) != 2 {
		return fmt.Errorf("with --detail pass only <projectId> <status>")
	}
	if statusDetail == 0 && len(args) != 3 {
		return fmt.Errorf("expected <projectId> <row> <status>")
	}

	log := newLogger()
	reg, err := newRegistry(log)
	if err != nil {
		return err
	}

	var m model.Module
	if statusDetail > 0 {
		m, err = reg.PatchDetailStatus(cmd.Context(), projectID, statusDetail, args[1])
	} else {
		index, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			return fmt.Errorf("invalid row %q", args[1])
		}
		view, snap, openErr := reg.Open(cmd.Context(), projectID, apiclient.Query{})
		if openErr != nil {
			return openErr
		}
		m, err = view.SetStatus(cmd.Context(), index, snap.Generation, args[2])
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s) [%s]\n", m.Name, m.Status, m.Color, m.Sync)
	return nil
}
