package total

import (
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/thunderstriders/lapcounter/pkg/cmd/common"
	"github.com/thunderstriders/lapcounter/pkg/config"
	"github.com/thunderstriders/lapcounter/pkg/leaderboard"
	"github.com/thunderstriders/lapcounter/pkg/model"
	"github.com/thunderstriders/lapcounter/pkg/scoreboard"
)

func NewTotalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "total",
		Short: "prints the total number of laps and the distance",
		RunE: func(cmd *cobra.Command, args []string) error {
			common.SetupLogger()
			race, err := config.RaceFromFlags()
			if err != nil {
				return err
			}
			lapLength, err := decimal.NewFromString(config.LapLengthKm)
			if err != nil {
				return fmt.Errorf("invalid lap length %q: %w", config.LapLengthKm, err)
			}
			return printTotal(cmd.OutOrStdout(), common.NewStore(race.IDs.Len()), lapLength)
		},
	}
}

func printTotal(out io.Writer, store *scoreboard.Store, lapLength decimal.Decimal) error {
	records, err := store.Load()
	if err != nil {
		return err
	}
	totals := leaderboard.Totals(model.NewSnapshot(records, time.Now()))
	fmt.Fprintf(out, "Total laps: %d\n", totals.DisplayLaps)
	fmt.Fprintf(out, "Actual laps: %d\n", totals.ActualLaps)
	fmt.Fprintf(out, "Distance: %s km\n", leaderboard.Distance(totals.ActualLaps, lapLength).StringFixed(2))
	return nil
}
