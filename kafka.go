package clickstream

import (
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/birdayz/clickstream/kio/kafka"
	"github.com/birdayz/clickstream/kprocessor"
)

// OpenKafka creates the source and sink described by cfg.
func OpenKafka(cfg Config, opts ...kgo.Opt) (*kafka.Source, *kafka.Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, &kprocessor.ConfigurationError{Field: "brokers", Reason: "must not be empty"}
	}
	sink, err := kafka.NewSink(cfg.Brokers, cfg.OutputTopic, opts...)
	if err != nil {
		return nil, nil, err
	}
	return kafka.NewSource(cfg.Brokers, cfg.InputTopic, cfg.Partition, opts...), sink, nil
}
