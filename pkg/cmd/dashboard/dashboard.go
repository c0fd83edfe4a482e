package dashboard

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thunderstriders/lapcounter/log"
	"github.com/thunderstriders/lapcounter/pkg/cmd/common"
	"github.com/thunderstriders/lapcounter/pkg/config"
	"github.com/thunderstriders/lapcounter/pkg/dashboard"
	"github.com/thunderstriders/lapcounter/pkg/utils"
)

type options struct {
	addr    string
	watch   bool
	keyHash string
	certs   dashboard.CertSource
}

func NewDashboardCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "serves the live leaderboard",
		Long: `Serves the leaderboard as html page, json and event stream.
Lap counts are received on POST /update or, with --watch, read from the scoreboard file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", ":5003", "listen address")
	cmd.Flags().BoolVar(&opts.watch, "watch", false,
		"reload the leaderboard whenever the scoreboard file changes")
	cmd.Flags().StringVar(&opts.keyHash, "update-key-hash", "",
		"sha256 hex of the api key required for POST /update (see hash-key)")
	cmd.Flags().StringVar(&opts.certs.CertFile, "tls-cert", "", "tls certificate file")
	cmd.Flags().StringVar(&opts.certs.KeyFile, "tls-key", "", "tls key file")
	cmd.Flags().StringVar(&opts.certs.TraefikFile, "traefik-certs", "",
		"traefik acme.json to read the certificate from")
	cmd.Flags().StringVar(&opts.certs.TraefikDomain, "traefik-cert-domain", "",
		"main domain of the certificate in the traefik file")
	cmd.AddCommand(newHashKeyCmd())
	return cmd
}

func runDashboard(parent context.Context, opts *options) error {
	common.SetupLogger()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if telemetry := common.SetupTelemetry(ctx); telemetry != nil {
		defer telemetry.Shutdown()
	}
	race, err := config.RaceFromFlags()
	if err != nil {
		return err
	}
	srv, err := common.NewDashboardServer(race, dashboard.WithUpdateKeyHash(opts.keyHash))
	if err != nil {
		return err
	}
	defer srv.Close()
	var serveOpts []dashboard.ServeOption
	if opts.certs.Enabled() {
		certs, err := dashboard.NewCertProvider(opts.certs)
		if err != nil {
			return fmt.Errorf("load certificate: %w", err)
		}
		go func() {
			if err := certs.Watch(ctx); err != nil {
				log.Error("watching certificates failed", log.ErrorField(err))
			}
		}()
		serveOpts = append(serveOpts, dashboard.WithTLS(certs.TLSConfig()))
	}
	if opts.watch {
		src := dashboard.NewFileSource(common.NewStore(race.IDs.Len()))
		go func() {
			if err := dashboard.Watch(ctx, src, srv); err != nil {
				log.Error("watching scoreboard failed", log.ErrorField(err))
			}
		}()
	}
	return dashboard.Serve(ctx, opts.addr, srv, serveOpts...)
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key key",
		Short: "prints the hash of an api key for --update-key-hash",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), utils.HashKey(args[0]))
		},
	}
}
