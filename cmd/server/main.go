// Command server runs the session HTTP API configured from the environment
// only, for container deployments without a config file.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"stream-acquirer/internal/cli"
	"stream-acquirer/internal/platform/config"
	"stream-acquirer/internal/platform/logger"
)

func main() {
	if err := config.Load(); err != nil {
		logger.New("error", "json").Error("invalid environment file", "error", err)
		os.Exit(1)
	}

	v := viper.New()
	config.SetDefaults(v)
	s, err := config.Decode(v)
	if err != nil {
		logger.New("error", "json").Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(s.Log.Level, s.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Serve(ctx, s, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
