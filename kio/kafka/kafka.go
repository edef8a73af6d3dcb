// Package kafka adapts a Kafka topic partition to kio.Source and kio.Sink
// using franz-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/birdayz/clickstream/kio"
	"github.com/birdayz/clickstream/kprocessor"
)

// Source reads one partition of a topic. Offsets are never committed to
// the cluster; the position to resume from is owned by the caller.
type Source struct {
	brokers   []string
	topic     string
	partition int32
	opts      []kgo.Opt
}

// NewSource creates a Source. opts are appended to the client options of
// every cursor, after the ones the source sets itself.
func NewSource(brokers []string, topic string, partition int32, opts ...kgo.Opt) *Source {
	return &Source{
		brokers:   brokers,
		topic:     topic,
		partition: partition,
		opts:      opts,
	}
}

func (s *Source) Open(ctx context.Context, start kio.StartPosition) (kio.Cursor, error) {
	var offset kgo.Offset
	switch start.Kind {
	case kio.StartEarliest:
		offset = kgo.NewOffset().AtStart()
	case kio.StartLatest:
		offset = kgo.NewOffset().AtEnd()
	case kio.StartAt:
		offset = kgo.NewOffset().At(start.Offset)
	default:
		return nil, fmt.Errorf("unsupported start position %v", start)
	}

	opts := append([]kgo.Opt{
		kgo.SeedBrokers(s.brokers...),
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			s.topic: {s.partition: offset},
		}),
	}, s.opts...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, &kprocessor.TransportError{Op: "open", Err: err}
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, &kprocessor.TransportError{Op: "open", Err: err}
	}
	return &cursor{client: client}, nil
}

type cursor struct {
	client  *kgo.Client
	buffer  []*kgo.Record
	closed  bool
	closeMu sync.Mutex
}

func (c *cursor) Next(ctx context.Context) (kio.RawRecord, error) {
	for len(c.buffer) == 0 {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return kio.RawRecord{}, &kprocessor.TransportError{Op: "next", Err: kgo.ErrClientClosed}
		}
		if err := ctx.Err(); err != nil {
			return kio.RawRecord{}, err
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.Canceled) || errors.Is(fe.Err, context.DeadlineExceeded) {
				continue
			}
			return kio.RawRecord{}, &kprocessor.TransportError{
				Op:  "next",
				Err: fmt.Errorf("fetch %s/%d: %w", fe.Topic, fe.Partition, fe.Err),
			}
		}
		c.buffer = fetches.Records()
	}

	r := c.buffer[0]
	c.buffer[0] = nil
	c.buffer = c.buffer[1:]
	return fromKafka(r), nil
}

func (c *cursor) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if !c.closed {
		c.closed = true
		c.client.Close()
	}
	return nil
}

func fromKafka(r *kgo.Record) kio.RawRecord {
	var headers *kprocessor.Headers
	if len(r.Headers) > 0 {
		headers = kprocessor.NewHeaders()
		for _, h := range r.Headers {
			headers.Add(h.Key, h.Value)
		}
	}
	return kio.RawRecord{
		Key:       r.Key,
		Value:     r.Value,
		Timestamp: r.Timestamp.UnixMilli(),
		Metadata: kprocessor.RecordMetadata{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Headers:   headers,
		},
	}
}

// Sink produces to one topic. Records are produced asynchronously. A
// delivery failure is returned once, by the next Send or Flush, and then
// forgotten so a caller that skips it keeps producing.
type Sink struct {
	client *kgo.Client
	topic  string

	mu      sync.Mutex
	failed  error
	dropped int
}

// NewSink creates a producing client. Every send waits for all in-sync
// replicas.
func NewSink(brokers []string, topic string, opts ...kgo.Opt) (*Sink, error) {
	opts = append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}, opts...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, &kprocessor.ConfigurationError{Field: "brokers", Reason: err.Error()}
	}
	return &Sink{client: client, topic: topic}, nil
}

// Send buffers r for producing. ctx is only checked before buffering: a
// buffered record is delivered even if ctx is canceled afterwards, and
// Flush waits for it.
func (s *Sink) Send(ctx context.Context, r kio.RawRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	kr := &kgo.Record{
		Topic:     s.topic,
		Key:       r.Key,
		Value:     r.Value,
		Timestamp: time.UnixMilli(r.Timestamp),
	}
	for _, h := range r.Metadata.Headers.All() {
		kr.Headers = append(kr.Headers, kgo.RecordHeader{Key: h.Key, Value: h.Value})
	}

	s.client.Produce(context.Background(), kr, s.promise)
	return s.takeErr()
}

func (s *Sink) promise(_ *kgo.Record, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == nil {
		s.failed = err
	}
	s.dropped++
}

func (s *Sink) Flush(ctx context.Context) error {
	if err := s.client.Flush(ctx); err != nil {
		return &kprocessor.TransportError{Op: "flush", Err: err}
	}
	return s.takeErr()
}

func (s *Sink) Close() error {
	s.client.Close()
	return nil
}

// takeErr returns the failures recorded since the last call and clears them.
func (s *Sink) takeErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == nil {
		return nil
	}
	err := &kprocessor.TransportError{
		Op:  "send",
		Err: fmt.Errorf("produce to %s: %d record(s) not delivered: %w", s.topic, s.dropped, s.failed),
	}
	s.failed, s.dropped = nil, 0
	return err
}

// EnsureTopics creates topics with the given partition count. Topics that
// already exist are left as they are.
func EnsureTopics(ctx context.Context, brokers []string, partitions int32, topics ...string) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := kadm.NewClient(client).CreateTopics(ctx, partitions, -1, nil, topics...)
	if err != nil {
		return &kprocessor.TransportError{Op: "create topics", Err: err}
	}
	for _, t := range resp.Sorted() {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return &kprocessor.TransportError{Op: "create topics", Err: fmt.Errorf("%s: %w", t.Topic, t.Err)}
		}
	}
	return nil
}

var (
	_ kio.Source = (*Source)(nil)
	_ kio.Sink   = (*Sink)(nil)
)
