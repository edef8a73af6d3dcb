// Package memlog is an in-process append-only log. It implements both
// kio.Source and kio.Sink for a single partition and is used to embed the
// stream loop without a broker, and in tests.
package memlog

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/birdayz/clickstream/kio"
	"github.com/birdayz/clickstream/kprocessor"
)

var ErrClosed = errors.New("memlog: closed for writing")

// Log is safe for concurrent use by one writer and any number of cursors.
type Log struct {
	topic string

	mu      sync.Mutex
	records []kio.RawRecord
	closed  bool
	// grow is closed and replaced on every append to wake blocked cursors.
	grow chan struct{}
}

func New(topic string) *Log {
	return &Log{
		topic: topic,
		grow:  make(chan struct{}),
	}
}

// Append adds a record and returns its offset.
func (l *Log) Append(key, value []byte, timestamp int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(key, value, timestamp)
}

func (l *Log) appendLocked(key, value []byte, timestamp int64) int64 {
	offset := int64(len(l.records))
	l.records = append(l.records, kio.RawRecord{
		Key:       key,
		Value:     value,
		Timestamp: timestamp,
		Metadata:  kprocessor.RecordMetadata{Topic: l.topic, Offset: offset},
	})
	close(l.grow)
	l.grow = make(chan struct{})
	return offset
}

// Records returns a snapshot of the log.
func (l *Log) Records() []kio.RawRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.records)
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Open implements kio.Source.
func (l *Log) Open(ctx context.Context, start kio.StartPosition) (kio.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &cursor{log: l}
	switch start.Kind {
	case kio.StartEarliest:
	case kio.StartLatest:
		c.next = int64(l.Len())
	case kio.StartAt:
		if start.Offset < 0 {
			return nil, &kprocessor.TransportError{Op: "open", Err: errors.New("memlog: negative start offset")}
		}
		c.next = start.Offset
	}
	return c, nil
}

// Send implements kio.Sink. Records are appended synchronously.
func (l *Log) Send(ctx context.Context, r kio.RawRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return &kprocessor.TransportError{Op: "send", Err: ErrClosed}
	}
	l.appendLocked(r.Key, r.Value, r.Timestamp)
	return nil
}

func (l *Log) Flush(ctx context.Context) error { return nil }

// Close stops accepting sends. Cursors keep reading what was appended.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

type cursor struct {
	log  *Log
	next int64
}

func (c *cursor) Next(ctx context.Context) (kio.RawRecord, error) {
	for {
		c.log.mu.Lock()
		if c.next < int64(len(c.log.records)) {
			r := c.log.records[c.next]
			c.log.mu.Unlock()
			c.next++
			return r, nil
		}
		grow := c.log.grow
		c.log.mu.Unlock()

		select {
		case <-ctx.Done():
			return kio.RawRecord{}, ctx.Err()
		case <-grow:
		}
	}
}

func (c *cursor) Close() error { return nil }

var (
	_ kio.Source = (*Log)(nil)
	_ kio.Sink   = (*Log)(nil)
)
