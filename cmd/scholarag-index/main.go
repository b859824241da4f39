// Command scholarag-index loads articles into the paragraph index and journal
// rows into the registry.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/knoguchi/scholarag/internal/config"
)

var (
	logLevel = new(slog.LevelVar)
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "scholarag-index",
	Short: "Load the scholarag paragraph index and journal registry",
	Long: `scholarag-index prepares the data the scholarag service reads. It takes
its settings from the same environment variables and .env file as the service.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = c

		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			logLevel.Set(slog.LevelDebug)
		} else if err := logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
			slog.Warn("unknown LOG_LEVEL, keeping info", "log_level", cfg.LogLevel)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log at debug level")
}

// openInput returns stdin for "-" and the named file otherwise.
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
