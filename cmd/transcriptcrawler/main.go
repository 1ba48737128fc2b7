package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/JakeFAU/channel-transcript-crawler/internal/config"
	"github.com/JakeFAU/channel-transcript-crawler/internal/logging"
	"github.com/JakeFAU/channel-transcript-crawler/internal/prompt"
	"github.com/JakeFAU/channel-transcript-crawler/internal/server"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("transcriptcrawler", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "path to config file (optional)")
	channel := flags.String("channel", "", "channel handle to crawl, e.g. @somechannel (prompted when empty)")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before configuration (optional)")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "warning: load %s: %v\n", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return exitFailure
	}

	handle := *channel
	if handle == "" {
		fmt.Fprintln(stdout, "YouTube Transcript Crawler")
		handle, err = prompt.ReadHandle(stdin, stdout)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return exitFailure
		}
	}
	if err := prompt.Validate(handle, cfg.Channel.Sigil); err != nil {
		fmt.Fprintf(stderr, "Invalid profile handle format. It should start with '%s'. Exiting.\n", cfg.Channel.Sigil)
		flags.Usage()
		return exitUsage
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(stderr, "logger init failed: %v\n", err)
		return exitFailure
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := server.Build(ctx, cfg, handle, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return exitFailure
	}
	defer app.Close()

	logger.Info("Starting crawl for profile", zap.String("channel", handle), zap.String("run_id", app.RunID()))
	summary, err := app.Run(ctx)
	if err != nil {
		logger.Error("crawl failed", zap.Error(err))
		return exitFailure
	}
	logger.Info("run complete",
		zap.Int("discovered", summary.Discovered),
		zap.Int("processed", summary.Processed),
		zap.Any("outcomes", summary.Outcomes),
	)
	return exitOK
}
