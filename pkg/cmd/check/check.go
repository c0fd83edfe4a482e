package check

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/thunderstriders/lapcounter/pkg/cmd/common"
	"github.com/thunderstriders/lapcounter/pkg/config"
	"github.com/thunderstriders/lapcounter/pkg/scoreboard"
)

var ErrInconsistent = errors.New("totals do not match the lap log")

func NewCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "verifies the totals of the scoreboard file against its lap log",
		RunE: func(cmd *cobra.Command, args []string) error {
			common.SetupLogger()
			race, err := config.RaceFromFlags()
			if err != nil {
				return err
			}
			return checkStore(cmd.OutOrStdout(), common.NewStore(race.IDs.Len()))
		},
	}
}

func checkStore(out io.Writer, store *scoreboard.Store) error {
	doc, err := store.ReadDocument()
	if err != nil {
		return err
	}
	if !doc.HasTotals() {
		fmt.Fprintln(out, "No totals section found")
	}
	if !doc.HasLog() {
		fmt.Fprintln(out, "No lap log found")
	}
	if doc.Skipped() > 0 {
		fmt.Fprintf(out, "Skipped %d unreadable rows\n", doc.Skipped())
	}
	mismatches := doc.Verify()
	for _, m := range mismatches {
		fmt.Fprintf(out, "%s: totals %d/%d, log %d/%d\n", m.Runner,
			m.Totals.DisplayLaps, m.Totals.ActualLaps,
			m.Replayed.DisplayLaps, m.Replayed.ActualLaps)
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%w: %d runners", ErrInconsistent, len(mismatches))
	}
	fmt.Fprintf(out, "OK: %d log entries match the totals\n", len(doc.Log()))
	return nil
}
