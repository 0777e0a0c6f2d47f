package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/QYUbit/axnet/pkg/axlog"
	zapadapter "github.com/QYUbit/axnet/pkg/axlog/zap_adapter"
	"github.com/QYUbit/axnet/pkg/config"
	"github.com/QYUbit/axnet/pkg/observability"
)

var (
	cfgFile  string
	backendF string
	addrF    string
	logLevel string

	cfg       *config.Config
	zlog      *zap.Logger
	closeLogs func() error
	logger    axlog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "axnet",
	Short:         "Channel based client/server messaging over QUIC or WebSocket",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if backendF != "" {
			cfg.Backend = backendF
		}
		if addrF != "" {
			cfg.Address = addrF
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		zlog, closeLogs, err = observability.SetupLogger(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		logger = zapadapter.New(zlog)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if zlog != nil {
			_ = zlog.Sync()
		}
		if closeLogs != nil {
			_ = closeLogs()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "axnet.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&backendF, "backend", "", "backend: quic, websocket or mem")
	rootCmd.PersistentFlags().StringVarP(&addrF, "addr", "a", "", "listen or dial address")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level")

	rootCmd.AddCommand(serveCmd, connectCmd, versionCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
