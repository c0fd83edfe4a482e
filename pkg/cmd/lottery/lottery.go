package lottery

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/thunderstriders/lapcounter/pkg/cmd/common"
	"github.com/thunderstriders/lapcounter/pkg/config"
	"github.com/thunderstriders/lapcounter/pkg/lottery"
	"github.com/thunderstriders/lapcounter/pkg/scoreboard"
)

type options struct {
	start int
	end   int
	seed  uint64
}

func NewLotteryCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "lottery",
		Short: "draws a winner among the laps of a time window",
		Long: `Every lap logged within the clock hours [start, end) is one ticket.
The window may wrap past midnight, e.g. --start 22 --end 2.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			common.SetupLogger()
			race, err := config.RaceFromFlags()
			if err != nil {
				return err
			}
			seed := opts.seed
			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}
			rng := rand.New(rand.NewPCG(seed, seed>>1))
			return draw(cmd.OutOrStdout(), common.NewStore(race.IDs.Len()), opts, rng)
		},
	}
	cmd.Flags().IntVar(&opts.start, "start", 13, "first hour of the window (0-23)")
	cmd.Flags().IntVar(&opts.end, "end", 14, "end hour of the window, exclusive (0-23)")
	cmd.Flags().Uint64Var(&opts.seed, "seed", 0, "random seed, 0 uses the current time")
	return cmd
}

func draw(out io.Writer, store *scoreboard.Store, opts *options, rng *rand.Rand) error {
	if err := lottery.ValidateHours(opts.start, opts.end); err != nil {
		return err
	}
	doc, err := store.ReadDocument()
	if err != nil {
		return err
	}
	tickets, err := lottery.ExtractWindow(doc.Log(), opts.start, opts.end)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Laps between %02d:00 and %02d:00: %d tickets, %d runners\n",
		opts.start, opts.end, len(tickets), len(lo.Uniq(tickets)))
	winner, err := lottery.Draw(tickets, rng)
	if errors.Is(err, lottery.ErrEmpty) {
		fmt.Fprintln(out, "No race numbers found in the window.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Winner: %s (%d tickets)\n", winner, lottery.Tally(tickets)[winner])
	return nil
}
