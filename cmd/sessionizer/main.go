// Command sessionizer reads JSON page views keyed by client IP and writes
// them back stamped with a per-IP session id.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/birdayz/clickstream"
	"github.com/birdayz/clickstream/internal/config"
	"github.com/birdayz/clickstream/kio/kafka"
	"github.com/birdayz/clickstream/pkg/log"
)

func main() {
	logger := log.NewSlog(slog.LevelInfo)

	defaults := clickstream.DefaultConfig()
	flags := config.Flags("sessionizer", defaults)
	createTopics := flags.Bool("create-topics", false, "create the input and output topics if missing")
	cfg, err := config.Load(flags, os.Args[1:], defaults)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *createTopics {
		if err := kafka.EnsureTopics(ctx, cfg.Brokers, 1, cfg.InputTopic, cfg.OutputTopic); err != nil {
			logger.Error("Failed to create topics", "error", err)
			os.Exit(1)
		}
	}

	src, sink, err := clickstream.OpenKafka(cfg)
	if err != nil {
		logger.Error("Failed to connect to kafka", "error", err)
		os.Exit(1)
	}

	app, err := clickstream.NewSessionizer(src, sink, clickstream.WithConfig(cfg), clickstream.WithLog(logger))
	if err != nil {
		logger.Error("Failed to create sessionizer", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting sessionizer",
		"input", cfg.InputTopic,
		"output", cfg.OutputTopic,
		"session_length_ms", cfg.SessionLengthMs,
	)
	if err := app.Run(ctx); err != nil {
		logger.Error("Sessionizer stopped", "error", err)
		os.Exit(1)
	}
}
