// Command barbercall runs the voice-call booking gateway and a few
// operator tools around it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/barbercall/internal/config"
	"github.com/ent0n29/barbercall/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:           "barbercall",
	Short:         "Voice-call gateway for barber shop bookings",
	Long:          "barbercall answers booking calls: it segments caller audio, asks the booking backend for a reply and hands speakable text back to the client.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./barbercall.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override APP_LOG_LEVEL")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override APP_LOG_FORMAT (json|console)")

	rootCmd.AddCommand(serveCmd, chatCmd, transcribeCmd)
}

// loadRuntime resolves configuration and the logger shared by every command.
func loadRuntime() (config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("config error: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "barbercall: %v\n", err)
		os.Exit(1)
	}
}
