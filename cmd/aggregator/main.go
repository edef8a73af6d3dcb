// Command aggregator keeps a running count and combined sale per location
// id and writes the state of a location after every event.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/birdayz/clickstream"
	"github.com/birdayz/clickstream/internal/config"
	"github.com/birdayz/clickstream/kio/kafka"
	"github.com/birdayz/clickstream/kserde"
	"github.com/birdayz/clickstream/pkg/log"
)

// Location is a sale at a location, keyed by the location id.
type Location struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Sale int64  `json:"sale"`
}

// codecFor returns the location codec for a key format: "binary" is a
// big-endian int64, "decimal" is base-10 text.
func codecFor(keyFormat string) (clickstream.AggregatorCodec[int64, Location, int64], error) {
	codec := clickstream.AggregatorCodec[int64, Location, int64]{
		Value: kserde.JSONDeserializer[Location](),
		Extract: func(l Location) (int64, error) {
			return l.Sale, nil
		},
	}
	switch keyFormat {
	case "binary":
		codec.Key = kserde.Int64
	case "decimal":
		codec.Key = kserde.DecimalInt64
	default:
		return codec, fmt.Errorf("unknown key format %q, want binary or decimal", keyFormat)
	}
	return codec, nil
}

func main() {
	logger := log.NewSlog(slog.LevelInfo)

	defaults := clickstream.DefaultAggregatorConfig()
	flags := config.Flags("aggregator", defaults)
	createTopics := flags.Bool("create-topics", false, "create the input and output topics if missing")
	keyFormat := flags.String("key-format", "binary", "location id encoding: binary or decimal")
	cfg, err := config.Load(flags, os.Args[1:], defaults)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(2)
	}
	codec, err := codecFor(*keyFormat)
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

	app, err := clickstream.NewAggregator(src, sink, codec, clickstream.WithConfig(cfg), clickstream.WithLog(logger))
	if err != nil {
		logger.Error("Failed to create aggregator", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting aggregator",
		"input", cfg.InputTopic,
		"output", cfg.OutputTopic,
		"combine", cfg.Combine,
		"key-format", *keyFormat,
	)
	if err := app.Run(ctx); err != nil {
		logger.Error("Aggregator stopped", "error", err)
		os.Exit(1)
	}
}
