// Package cli wires configuration, transports and the acquirer into the
// acquirer command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"stream-acquirer/internal/platform/config"
	"stream-acquirer/internal/platform/logger"
)

// flagKeys maps command flags onto settings keys.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"log-format":   "log.format",
	"port":         "server.port",
	"concurrency":  "download.concurrency",
	"quality":      "download.quality",
	"output-dir":   "download.output_dir",
	"staging-dir":  "download.staging_root",
	"keep-staging": "download.keep_staging",
	"ffmpeg":       "assembler.ffmpeg",
}

// app carries the state shared by every command.
type app struct {
	v          *viper.Viper
	configFile string
	envFile    string
	settings   *config.Settings
	log        *slog.Logger
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCmd builds the acquirer command tree with its own viper instance.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{v: viper.New()})
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "acquirer",
		Short: "Acquire a playable media file from observed stream candidates",
		Long: `acquirer ranks candidate media URLs, resolves HLS manifests, downloads
segments concurrently and assembles them into one file with ffmpeg.

Run "acquirer serve" to expose the session HTTP API used by a browser
collaborator, or "acquirer fetch" to acquire known URLs directly.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initialize(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configFile, "config", "",
		"config file (default is ./configs/acquirer.yaml or $HOME/.config/acquirer/acquirer.yaml)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "",
		"dotenv file to export before reading settings (default is ./.env when present)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "json", "log format (json, text)")

	root.AddCommand(newServeCmd(a), newFetchCmd(a))
	return root
}

func (a *app) initialize(cmd *cobra.Command) error {
	if err := a.initConfig(); err != nil {
		return err
	}
	if err := bindFlags(cmd, a.v); err != nil {
		return err
	}
	s, err := config.Decode(a.v)
	if err != nil {
		return err
	}
	a.settings = s
	a.log = logger.NewWithWriter(cmd.ErrOrStderr(), s.Log.Level, s.Log.Format)
	if used := a.v.ConfigFileUsed(); used != "" {
		a.log.Debug("using config file", slog.String("path", used))
	}
	return nil
}

// initConfig layers .env, defaults, the config file and ACQUIRER_* variables.
func (a *app) initConfig() error {
	var envFiles []string
	if a.envFile != "" {
		envFiles = append(envFiles, a.envFile)
	}
	if err := config.Load(envFiles...); err != nil {
		return err
	}
	config.SetDefaults(a.v)

	if a.configFile != "" {
		a.v.SetConfigFile(a.configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			a.v.AddConfigPath(filepath.Join(home, ".config", "acquirer"))
		}
		a.v.AddConfigPath("/etc/acquirer")
		a.v.AddConfigPath("./configs")
		a.v.SetConfigName("acquirer")
		a.v.SetConfigType("yaml")
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if a.configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// bindFlags binds each known cobra flag to its settings key so that an
// explicit flag wins over env, file and defaults.
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var errs []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key := flagKeys[f.Name]
		if key == "" {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			errs = append(errs, err)
		}
	})
	return errors.Join(errs...)
}
