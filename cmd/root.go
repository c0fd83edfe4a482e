package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	checkCmd "github.com/thunderstriders/lapcounter/pkg/cmd/check"
	countCmd "github.com/thunderstriders/lapcounter/pkg/cmd/count"
	dashboardCmd "github.com/thunderstriders/lapcounter/pkg/cmd/dashboard"
	lotteryCmd "github.com/thunderstriders/lapcounter/pkg/cmd/lottery"
	manualCmd "github.com/thunderstriders/lapcounter/pkg/cmd/manual"
	migrateCmd "github.com/thunderstriders/lapcounter/pkg/cmd/migrate"
	totalCmd "github.com/thunderstriders/lapcounter/pkg/cmd/total"
	"github.com/thunderstriders/lapcounter/pkg/config"
	"github.com/thunderstriders/lapcounter/version"
)

const envPrefix = "LAPC"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "lapc",
	Short:        "Lap counter for relay races",
	Long:         `Counts laps from recognized race numbers and keeps the scoreboard up to date.`,
	Version:      version.FullVersion,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:funlen // flag definitions
func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "",
		"config file (default is $HOME/.lapc.yml)")
	pf.StringVar(&config.LogLevel, "log-level", "info",
		"controls the log level (debug, info, warn, error, fatal)")
	pf.StringVar(&config.LogFormat, "log-format", "text",
		"controls the log output format (json, text)")
	pf.StringVar(&config.LogFilter, "log-filter", "",
		"zapfilter rules, e.g. \"*:* -debug:capture\"")
	pf.BoolVar(&config.EnableTelemetry, "enable-telemetry", false,
		"enables telemetry")
	pf.StringVar(&config.TelemetryEndpoint, "telemetry-endpoint", "localhost:4317",
		"otlp grpc endpoint for telemetry data, \"stdout\" prints to stdout")
	pf.StringVar(&config.WaitForServices, "wait-for-services", "15s",
		"Duration to wait for other services to be ready")

	pf.StringVar(&config.ScoreboardFile, "scoreboard-file", "lap_counts.csv",
		"path of the scoreboard csv file")
	pf.IntVar(&config.IDFrom, "id-from", 1, "first valid race number")
	pf.IntVar(&config.IDTo, "id-to", 200, "last valid race number")
	pf.IntVar(&config.IDWidth, "id-width", 3, "race numbers are padded with zeros to this width")
	pf.StringVar(&config.RosterFile, "roster", "",
		"yaml file listing the runners, replaces the id range")
	pf.StringVar(&config.DebounceWindow, "debounce-window", "30s",
		"minimum time between two laps of the same runner")
	pf.Float64Var(&config.ConfidenceMin, "confidence", 0.5,
		"minimum recognizer confidence")
	pf.IntVar(&config.BonusStartHour, "bonus-start-hour", 0, "first hour of the bonus window")
	pf.IntVar(&config.BonusEndHour, "bonus-end-hour", 0,
		"end hour (exclusive) of the bonus window, same as start disables the bonus")
	pf.IntVar(&config.BonusMultiplier, "bonus-multiplier", 2,
		"display laps credited per lap within the bonus window")
	pf.StringVar(&config.LapLengthKm, "lap-length-km", "1", "length of a lap in km")

	// add commands here
	rootCmd.AddCommand(countCmd.NewCountCmd())
	rootCmd.AddCommand(manualCmd.NewManualCmd())
	rootCmd.AddCommand(dashboardCmd.NewDashboardCmd())
	rootCmd.AddCommand(totalCmd.NewTotalCmd())
	rootCmd.AddCommand(lotteryCmd.NewLotteryCmd())
	rootCmd.AddCommand(checkCmd.NewCheckCmd())
	rootCmd.AddCommand(migrateCmd.NewMigrateCmd())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".lapc" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".lapc")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	bindFlags(rootCmd, viper.GetViper())
	for _, cmd := range rootCmd.Commands() {
		bindFlags(cmd, viper.GetViper())
	}
}

// Bind each cobra flag to its associated viper configuration
// (config file and environment variable)
func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		// Environment variables can't have dashes in them, so bind them to their
		// equivalent keys with underscores, e.g. --id-from to LAPC_ID_FROM
		if strings.Contains(f.Name, "-") {
			envVarSuffix := strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
			if err := v.BindEnv(f.Name,
				fmt.Sprintf("%s_%s", envPrefix, envVarSuffix)); err != nil {
				fmt.Fprintf(os.Stderr, "Could not bind env var %s: %v", f.Name, err)
			}
		}
		// Apply the viper config value to the flag when the flag is not set and viper
		// has a value
		if !f.Changed && v.IsSet(f.Name) {
			val := v.Get(f.Name)
			if err := cmd.Flags().Set(f.Name, fmt.Sprintf("%v", val)); err != nil {
				fmt.Fprintf(os.Stderr, "Could set flag value for %s: %v", f.Name, err)
			}
		}
	})
}
