package count

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thunderstriders/lapcounter/log"
	"github.com/thunderstriders/lapcounter/pkg/capture"
	"github.com/thunderstriders/lapcounter/pkg/cmd/common"
	"github.com/thunderstriders/lapcounter/pkg/model"
)

type options struct {
	pipeline      common.PipelineFlags
	input         string
	recognizerCmd string
	devices       []int
	deviceTimeout time.Duration
}

func NewCountCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "count",
		Short: "counts laps from the recognizer detection stream",
		Long: `Reads frames of recognized race numbers and counts a lap for each accepted detection.
The stream is read from --input or from the output of --recognizer-cmd, started for the
first camera device that delivers data. Enter q or press Ctrl-C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(cmd.Context(), opts)
		},
	}
	opts.pipeline.AddFlags(cmd.Flags())
	cmd.Flags().StringVar(&opts.input, "input", "",
		"file with a recorded detection stream, - reads stdin")
	cmd.Flags().StringVar(&opts.recognizerCmd, "recognizer-cmd", "lapc-ocr --device {device}",
		"command producing the detection stream, {device} is replaced by the camera index")
	cmd.Flags().IntSliceVar(&opts.devices, "devices", capture.DefaultDevices,
		"camera devices to try in order")
	cmd.Flags().DurationVar(&opts.deviceTimeout, "device-timeout", capture.DefaultDeviceTimeout,
		"time a device may take to deliver the first frame")
	return cmd
}

//nolint:funlen // wiring
func runCount(parent context.Context, opts *options) error {
	common.SetupLogger()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if telemetry := common.SetupTelemetry(ctx); telemetry != nil {
		defer telemetry.Shutdown()
	}

	p, err := common.NewPipeline(ctx, &opts.pipeline)
	if err != nil {
		return err
	}
	defer p.Close()

	rc, err := openStream(ctx, opts)
	if err != nil {
		return err
	}
	if opts.input != "-" {
		go capture.WatchQuit(os.Stdin, func() {
			log.Info("quit requested")
			stop()
		})
	}

	start := time.Now()
	var accepted int
	frames, err := capture.Run(ctx, rc, func(f model.Frame) {
		for _, o := range p.Processor.ProcessFrame(f) {
			if o.Accepted {
				accepted++
			}
		}
	})
	total := p.Processor.Ledger().Total()
	log.Info("counting stopped",
		log.Int64("frames", frames),
		log.Int("laps", accepted),
		log.Int("total display laps", total.DisplayLaps),
		log.Int("total actual laps", total.ActualLaps),
		log.Duration("duration", time.Since(start)))
	return err
}

func openStream(ctx context.Context, opts *options) (io.ReadCloser, error) {
	if opts.input != "" {
		log.Info("reading detections", log.String("input", opts.input))
		return capture.FileOpener(opts.input)
	}
	rc, _, err := capture.OpenFirst(ctx, opts.devices, opts.deviceTimeout,
		capture.CommandOpener(opts.recognizerCmd, os.Stderr))
	return rc, err
}
