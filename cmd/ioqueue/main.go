package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	lg "github.com/Andrej220/go-utils/zlog"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Andrej220/go-utils/ioqueue/internal/bench"
	"github.com/Andrej220/go-utils/ioqueue/internal/config"
	"github.com/Andrej220/go-utils/ioqueue/internal/logging"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "ioqueue",
		Short:         "Prioritized I/O scheduling engine",
		Long:          "ioqueue drives client streams through a prioritized, concurrency-bounded I/O queue backed by a file or block device.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a configured workload and report per-stream results",
		RunE:  runBench,
	}
	benchCmd.Flags().String("config", "", "path to a YAML or JSON workload file")
	benchCmd.Flags().String("device", "", "backing file or block device (default: temporary file)")
	benchCmd.Flags().Int64("size", 0, "device size in bytes")
	benchCmd.Flags().Int("workers", 0, "number of worker goroutines (1-8)")
	benchCmd.Flags().Int("max-issues", 0, "maximum ops issued at once")
	benchCmd.Flags().Bool("async", false, "complete ops asynchronously")
	benchCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.AddCommand(benchCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "ioqueue", version)
		},
	})

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runBench(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logger, err := newLogger(logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	config.FromEnv(&cfg)

	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.Device.Path, _ = flags.GetString("device")
	}
	if flags.Changed("size") {
		cfg.Device.SizeBytes, _ = flags.GetInt64("size")
	}
	if flags.Changed("workers") {
		cfg.Queue.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("max-issues") {
		cfg.Queue.MaxIssues, _ = flags.GetInt("max-issues")
	}
	if flags.Changed("async") {
		cfg.Device.Async, _ = flags.GetBool("async")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.Attach(ctx, logger.With(zap.String("service", "ioqueue")))

	rep, err := bench.Run(ctx, cfg)
	if err != nil {
		return err
	}
	return rep.Write(cmd.OutOrStdout())
}

// newLogger builds the process logger. LOG_FORMAT selects json or console
// output, as for every zlog service.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = lvl
	zc.Encoding = lg.FormatFromEnv(lg.ZLoggerConsoleFormat)
	zc.DisableStacktrace = true
	return zc.Build()
}
