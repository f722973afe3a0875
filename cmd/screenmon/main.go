// Package main is the CLI entry point for screenmon.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/screenmon/agent/internal/aggregate"
	"github.com/screenmon/agent/internal/config"
	"github.com/screenmon/agent/internal/daemon"
	"github.com/screenmon/agent/internal/storage"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "screenmon",
	Short: "Personal activity tracking agent",
	Long: `screenmon records which applications hold focus and which are running
in the background, persists usage sessions to an encrypted local database,
and serves live snapshots to a companion UI over a local socket.`,
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring agent",
	Long: `Starts the agent in the foreground: focus tracking, process scanning,
the ingestion pipeline, and the UI socket. Stops cleanly on SIGINT/SIGTERM,
flushing pending sessions before exit.`,
	RunE: runAgent,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the agent is running",
	Long:  `Pings the agent over its UI socket and reports whether it responds.`,
	RunE:  runStatus,
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "Show currently tracked applications",
	Long:  `Queries the running agent for its live per-application durations.`,
	RunE:  runApps,
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Build daily summaries from raw sessions",
	Long: `Merges overlapping sessions for one calendar day into per-application
summaries and stores them. Defaults to yesterday. Safe to re-run.`,
	RunE: runAggregate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

var (
	configPath    string
	debugLog      bool
	aggregateDate string
	jsonOutput    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Enable debug logging")
	aggregateCmd.Flags().StringVar(&aggregateDate, "date", "", "Day to aggregate (YYYY-MM-DD, default yesterday)")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(appsCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(versionCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := createLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	agent, err := daemon.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}
	defer agent.Close()

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	return agent.Run(ctx)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	reply, err := query(cfg.IPC.SocketPath, "PING\n")
	if err != nil {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'screenmon run' to start the agent.")
		return nil
	}

	if strings.TrimSpace(reply) == "PONG" {
		fmt.Println("Status: RUNNING")
		fmt.Printf("Socket: %s\n", cfg.IPC.SocketPath)
	} else {
		fmt.Printf("Status: UNEXPECTED REPLY %q\n", reply)
	}
	return nil
}

func runApps(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	reply, err := query(cfg.IPC.SocketPath, "GET_RUNNING_APPS\n")
	if err != nil {
		return fmt.Errorf("agent not reachable at %s: %w", cfg.IPC.SocketPath, err)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		fmt.Println("No applications currently tracked.")
		return nil
	}

	parts := strings.Split(reply, "|")
	fmt.Println("\n=== Tracked Applications ===")
	for i := 0; i+1 < len(parts); i += 2 {
		ms, err := strconv.ParseInt(parts[i+1], 10, 64)
		if err != nil {
			continue
		}
		d := time.Duration(ms) * time.Millisecond
		fmt.Printf("  %-30s %s\n", parts[i], d.Round(time.Second))
	}
	fmt.Println("============================")
	return nil
}

func runAggregate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := createLogger(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	day := time.Now().UTC().Truncate(24 * time.Hour).Add(-24 * time.Hour)
	if aggregateDate != "" {
		day, err = time.Parse("2006-01-02", aggregateDate)
		if err != nil {
			return fmt.Errorf("invalid date %q, want YYYY-MM-DD: %w", aggregateDate, err)
		}
	}

	store, err := storage.New(cfg.Storage.DataDir, []byte(cfg.Storage.EncryptionKey), logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	aggregator := aggregate.NewAggregator(store, store, logger)
	summaries, err := aggregator.AggregateDay(context.Background(), day)
	if err != nil {
		return fmt.Errorf("aggregation failed: %w", err)
	}

	fmt.Printf("\n=== Summaries for %s ===\n", day.Format("2006-01-02"))
	if len(summaries) == 0 {
		fmt.Println("No sessions recorded.")
	}
	for _, s := range summaries {
		d := time.Duration(s.TotalUsageMs) * time.Millisecond
		fmt.Printf("  %-30s %-10s (%d sessions)\n", s.AppName, d.Round(time.Second), s.UsageCount)
	}
	fmt.Println("============================")
	return nil
}

// query sends one command over the UI socket and reads a single reply line.
func query(socketPath, command string) (string, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte(command)); err != nil {
		return "", err
	}

	reader := bufio.NewReader(conn)
	buf := make([]byte, 64*1024)
	n, err := reader.Read(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

func createLogger(cfg config.LoggingConfig) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zapcore.InfoLevel
	if debugLog {
		level = zapcore.DebugLevel
	} else if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		// Fallback if the config cannot be built
		logger, _ = zap.NewProduction()
	}
	return logger
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("screenmon %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
