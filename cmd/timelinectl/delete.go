package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <projectId> <detailId>...",
	Short: "Delete timeline details; failures are reported per id",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	projectID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid project id %q", args[0])
	}
	ids := make([]int64, 0, len(args)-1)
	for _, a := range args[1:] {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid detail id %q", a)
		}
		ids = append(ids, id)
	}

	log := newLogger()
	reg, err := newRegistry(log)
	if err != nil {
		return err
	}

	res := reg.DeleteDetails(cmd.Context(), projectID, ids)
	out := cmd.OutOrStdout()
	for _, id := range res.Deleted {
		fmt.Fprintf(out, "deleted %d\n", id)
	}

	failed := make([]int64, 0, len(res.Failed))
	for id := range res.Failed {
		failed = append(failed, id)
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
	for _, id := range failed {
		fmt.Fprintf(out, "failed  %d: %s\n", id, res.Failed[id])
	}

	if !res.OK() {
		return fmt.Errorf("%d of %d deletes failed", len(res.Failed), len(ids))
	}
	return nil
}
