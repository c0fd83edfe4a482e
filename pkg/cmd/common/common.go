package common

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	otlpruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/thunderstriders/lapcounter/log"
	"github.com/thunderstriders/lapcounter/pkg/config"
	"github.com/thunderstriders/lapcounter/pkg/scoreboard"
	"github.com/thunderstriders/lapcounter/pkg/utils"
)

func ParseLogLevel(l string, defaultVal log.Level) log.Level {
	level, err := log.ParseLevel(l)
	if err != nil {
		return defaultVal
	}
	return level
}

// SetupLogger replaces the default logger according to the log flags
func SetupLogger() *log.Logger {
	var logger *log.Logger
	switch config.LogFormat {
	case "json":
		logger = log.New(
			os.Stderr,
			ParseLogLevel(config.LogLevel, log.InfoLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	default:
		logger = log.DevLogger(
			os.Stderr,
			ParseLogLevel(config.LogLevel, log.InfoLevel),
			log.WithCaller(true),
			log.AddCallerSkip(1))
	}
	if config.LogFilter != "" {
		filtered, err := logger.WithFilter(config.LogFilter)
		if err != nil {
			logger.Warn("invalid log filter, ignored",
				log.String("filter", config.LogFilter), log.ErrorField(err))
		} else {
			logger = filtered
		}
	}
	log.ResetDefault(logger)
	return logger
}

// SetupTelemetry starts telemetry if enabled. The result may be nil.
func SetupTelemetry(ctx context.Context) *config.Telemetry {
	if !config.EnableTelemetry {
		return nil
	}
	log.Info("Enabling telemetry")
	telemetry, err := config.SetupTelemetry(ctx)
	if err != nil {
		log.Warn("Could not setup telemetry", log.ErrorField(err))
	}
	err = otlpruntime.Start(otlpruntime.WithMinimumReadMemStatsInterval(time.Second))
	if err != nil {
		log.Warn("Could not start runtime metrics", log.ErrorField(err))
	}
	return telemetry
}

// WaitForServices waits until all given tcp addresses accept connections.
// Empty addresses are ignored.
func WaitForServices(ctx context.Context, addrs ...string) error {
	timeout, err := time.ParseDuration(config.WaitForServices)
	if err != nil {
		log.Warn("Invalid duration value. Setting default 60s", log.ErrorField(err))
		timeout = 60 * time.Second
	}
	var (
		wg    sync.WaitGroup
		mutex sync.Mutex
		errs  []error
	)
	for _, addr := range addrs {
		if addr == "" {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := utils.WaitForTCP(ctx, addr, timeout); err != nil {
				mutex.Lock()
				errs = append(errs, err)
				mutex.Unlock()
			}
		}()
	}
	log.Debug("Waiting for connection checks to return")
	wg.Wait()
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Debug("Required services are available")
	return nil
}

// NewStore opens the scoreboard file for a race of numRunners runners
func NewStore(numRunners int) *scoreboard.Store {
	return scoreboard.NewStore(config.ScoreboardFile, scoreboard.NewLayout(numRunners))
}
