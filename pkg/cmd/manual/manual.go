package manual

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/thunderstriders/lapcounter/pkg/bib"
	"github.com/thunderstriders/lapcounter/pkg/cmd/common"
	"github.com/thunderstriders/lapcounter/pkg/processing"
)

type options struct {
	pipeline        common.PipelineFlags
	respectDebounce bool
}

func NewManualCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "manual",
		Short: "counts laps from race numbers entered by an operator",
		Long: `Reads one race number per line from stdin and counts a lap for it.
Enter q to quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManual(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	opts.pipeline.AddFlags(cmd.Flags())
	cmd.Flags().BoolVar(&opts.respectDebounce, "respect-debounce", false,
		"apply the debounce window to entered race numbers")
	return cmd
}

func runManual(ctx context.Context, opts *options, in io.Reader, out io.Writer) error {
	common.SetupLogger()
	if ctx == nil {
		ctx = context.Background()
	}
	p, err := common.NewPipeline(ctx, &opts.pipeline,
		common.WithManualDebounce(opts.respectDebounce))
	if err != nil {
		return err
	}
	defer p.Close()
	return readEntries(in, out, p.Processor, p.Race.IDs, time.Now)
}

//nolint:whitespace // editor/linter issue
func readEntries(
	in io.Reader, out io.Writer, p *processing.Processor, ids *bib.IDSet, clock func() time.Time,
) error {
	sc := bufio.NewScanner(in)
	fmt.Fprintln(out, "Enter race number (q to quit):")
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		switch {
		case text == "":
			continue
		case strings.EqualFold(text, "q"):
			return nil
		}
		fmt.Fprintln(out, describe(p.Register(canonical(text, ids), clock())))
	}
	return sc.Err()
}

// canonical maps a typed number to the race number, e.g. "7" to "007"
func canonical(text string, ids *bib.IDSet) string {
	if n, err := strconv.Atoi(text); err == nil {
		if id, ok := ids.ByNumber(n); ok {
			return string(id)
		}
	}
	return text
}

func describe(o processing.Outcome) string {
	switch {
	case o.Accepted && o.PersistErr != nil:
		return fmt.Sprintf("Race number %s: lap %d counted, but not saved: %v",
			o.Runner, o.Record.DisplayLaps, o.PersistErr)
	case o.Accepted:
		return fmt.Sprintf("Race number %s: lap %d counted", o.Runner, o.Record.DisplayLaps)
	case o.Reason == processing.ReasonDebounced:
		return fmt.Sprintf("Race number %s: ignored, last lap was too recent", o.Runner)
	default:
		return fmt.Sprintf("Invalid race number %q", o.Candidate.Text)
	}
}
