// Command clickgen produces random JSON page views keyed by client IP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/birdayz/clickstream/kio"
	"github.com/birdayz/clickstream/kio/kafka"
	"github.com/birdayz/clickstream/kserde"
	"github.com/birdayz/clickstream/operators"
	"github.com/birdayz/clickstream/pkg/log"
)

func main() {
	logger := log.NewSlog(slog.LevelInfo)

	flags := pflag.NewFlagSet("clickgen", pflag.ContinueOnError)
	brokers := flags.StringSlice("brokers", []string{"localhost:9092"}, "kafka seed brokers")
	topic := flags.String("topic", "clicks", "topic to produce page views to")
	count := flags.Int("count", 0, "number of page views to produce, 0 runs until interrupted")
	interval := flags.Duration("interval", 100*time.Millisecond, "pause between page views")
	createTopic := flags.Bool("create-topic", false, "create the topic if missing")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		logger.Error("Invalid flags", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *createTopic {
		if err := kafka.EnsureTopics(ctx, *brokers, 1, *topic); err != nil {
			logger.Error("Failed to create topic", "error", err)
			os.Exit(1)
		}
	}

	sink, err := kafka.NewSink(*brokers, *topic)
	if err != nil {
		logger.Error("Failed to connect to kafka", "error", err)
		os.Exit(1)
	}

	sent, err := produce(ctx, sink, newGenerator(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), time.Now), *count, *interval)
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = errors.Join(err, sink.Flush(flushCtx), sink.Close())
	logger.Info("Produced page views", "count", sent, "topic", *topic)
	if err != nil {
		logger.Error("Failed to produce page views", "error", err)
		os.Exit(1)
	}
}

var pageViewSerde = kserde.JSON[operators.PageView]()

// produce sends count page views, or runs until ctx is done when count is
// zero. It returns the number sent.
func produce(ctx context.Context, sink kio.Sink, g *generator, count int, interval time.Duration) (int, error) {
	ticker := time.NewTicker(max(interval, time.Millisecond))
	defer ticker.Stop()

	sent := 0
	for (count == 0 || sent < count) && ctx.Err() == nil {
		pv := g.next()
		value, err := pageViewSerde.Serializer(pv)
		if err != nil {
			return sent, err
		}
		if err := sink.Send(ctx, kio.RawRecord{Key: []byte(pv.IP), Value: value, Timestamp: pv.Timestamp}); err != nil {
			if ctx.Err() != nil {
				return sent, nil
			}
			return sent, err
		}
		sent++

		select {
		case <-ctx.Done():
			return sent, nil
		case <-ticker.C:
		}
	}
	return sent, nil
}
