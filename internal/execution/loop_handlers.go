package execution

import (
	"context"

	"go.uber.org/multierr"

	"github.com/birdayz/clickstream/internal/checkpoint"
	"github.com/birdayz/clickstream/kio"
	"github.com/birdayz/clickstream/kprocessor"
)

func (l *Loop[K, Vin, Vout]) handleCreated(ctx context.Context) {
	select {
	case <-ctx.Done():
		l.changeState(StateStopped)
		return
	default:
	}

	op, err := l.cfg.Operator()
	if err != nil {
		l.log.Error("Failed to build operator", "error", err)
		l.err = err
		l.changeState(StateStopped)
		return
	}
	l.operator = op

	start, err := l.startPosition()
	if err != nil {
		l.log.Error("Failed to resolve start position", "error", err)
		l.fail(err, StageOpen, -1)
		l.changeState(StateStopped)
		return
	}

	cursor, err := l.cfg.Source.Open(ctx, start)
	if err != nil {
		if ctx.Err() != nil {
			l.changeState(StateStopped)
			return
		}
		l.log.Error("Failed to open source", "error", err, "start", start)
		l.cfg.Metrics.TransportError()
		l.fail(asTransport("open", err), StageOpen, -1)
		l.changeState(StateStopped)
		return
	}
	l.cursor = cursor
	if start.Kind == kio.StartAt {
		l.position, l.hasPosition = start.Offset, true
	}

	l.log.Info("Opened source", "start", start)
	l.changeState(StateRunning)
}

func (l *Loop[K, Vin, Vout]) startPosition() (kio.StartPosition, error) {
	switch l.cfg.Start {
	case kio.PolicyLatest:
		return kio.Latest(), nil
	case kio.PolicyResume:
		offset, ok, err := l.cfg.Checkpoint.Position(checkpoint.Partition{Topic: l.cfg.Topic, Partition: l.cfg.Partition})
		if err != nil {
			return kio.StartPosition{}, err
		}
		if !ok {
			l.log.Info("No saved position, starting from earliest")
			return kio.Earliest(), nil
		}
		// State is not persisted, so it only reflects records from here on.
		l.log.Warn("Resuming from saved position, state before it is not restored", "offset", offset)
		return kio.At(offset), nil
	}
	return kio.Earliest(), nil
}

func (l *Loop[K, Vin, Vout]) handleRunning(ctx context.Context) {
	select {
	case <-ctx.Done():
		l.changeState(StateDraining)
		return
	default:
	}

	raw, err := l.cursor.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			l.changeState(StateDraining)
			return
		}
		l.log.Error("Failed to fetch record", "error", err)
		l.cfg.Metrics.TransportError()
		l.fail(asTransport("next", err), StageFetch, -1)
		l.changeState(StateDraining)
		return
	}

	// In-flight work is not bound to ctx, so a shutdown never abandons a
	// record halfway.
	recordCtx, cancel := context.WithTimeout(context.Background(), l.cfg.RecordProcessTimeout)
	defer cancel()

	err = l.process(recordCtx, raw)
	if err == nil {
		l.advance(raw.Metadata.Offset)
		return
	}

	if kprocessor.IsMalformed(err) {
		l.cfg.Metrics.Malformed()
	}
	if kprocessor.IsTransport(err) {
		l.cfg.Metrics.TransportError()
	}

	recovery := l.cfg.ErrorHandler(recordCtx, err, raw)
	if kprocessor.IsTransport(err) && transportFatal(l.operator) {
		recovery = RecoveryFail
	}

	switch recovery {
	case RecoverySkip:
		l.log.Warn("Skipping failed record", "error", err, "offset", raw.Metadata.Offset)
		l.advance(raw.Metadata.Offset)
	default:
		l.log.Error("Failed to process record, stopping", "error", err, "offset", raw.Metadata.Offset)
		l.fail(err, StageProcessing, raw.Metadata.Offset)
		l.changeState(StateDraining)
	}
}

// process runs one record through decode, operator, encode and send.
func (l *Loop[K, Vin, Vout]) process(ctx context.Context, raw kio.RawRecord) error {
	offset := raw.Metadata.Offset

	key, err := l.cfg.KeyDeserializer(raw.Key)
	if err != nil {
		return atStage(StageDeserialization, kprocessor.Malformed(offset, err))
	}
	value, err := l.cfg.ValueDeserializer(raw.Value)
	if err != nil {
		return atStage(StageDeserialization, kprocessor.Malformed(offset, err))
	}

	in := kprocessor.Record[K, Vin]{
		Key:       key,
		Value:     value,
		Timestamp: raw.Timestamp,
		Metadata:  raw.Metadata,
	}
	out, err := l.operator.Process(ctx, in)
	if err != nil {
		return atStage(StageProcessing, err)
	}
	l.cfg.Metrics.Processed()
	if n, ok := stateSize(l.operator); ok {
		l.cfg.Metrics.StateKeys(n)
	}

	for _, r := range out {
		k, err := l.cfg.KeySerializer(r.Key)
		if err != nil {
			return atStage(StageSerialization, err)
		}
		v, err := l.cfg.ValueSerializer(r.Value)
		if err != nil {
			return atStage(StageSerialization, err)
		}
		err = l.cfg.Sink.Send(ctx, kio.RawRecord{
			Key:       k,
			Value:     v,
			Timestamp: r.Timestamp,
			Metadata:  kprocessor.RecordMetadata{Headers: r.Metadata.Headers},
		})
		if err != nil {
			return atStage(StageForward, asTransport("send", err))
		}
		l.cfg.Metrics.Emitted(1)
	}
	return nil
}

func (l *Loop[K, Vin, Vout]) handleDraining() {
	flushCtx, cancel := context.WithTimeout(context.Background(), l.cfg.FlushTimeout)
	defer cancel()

	if err := l.cfg.Sink.Flush(flushCtx); err != nil {
		l.log.Error("Failed to flush sink", "error", err)
		l.cfg.Metrics.TransportError()
		if l.err == nil {
			l.fail(asTransport("flush", err), StageFlush, -1)
		}
		// Sent records may be lost, so the position must not move past them.
		l.changeState(StateStopped)
		return
	}

	if l.cfg.Checkpoint != nil && l.hasPosition {
		p := checkpoint.Partition{Topic: l.cfg.Topic, Partition: l.cfg.Partition}
		if err := l.cfg.Checkpoint.Save(p, l.position); err != nil {
			l.log.Error("Failed to write checkpoint", "error", err)
			if l.err == nil {
				l.fail(err, StageCheckpoint, -1)
			}
		} else {
			l.log.Info("Saved position", "offset", l.position)
		}
	}

	l.changeState(StateStopped)
}

func (l *Loop[K, Vin, Vout]) handleStopped() {
	defer close(l.stopped)

	var err error
	if l.cursor != nil {
		err = multierr.Append(err, l.cursor.Close())
	}
	if l.operator != nil {
		err = multierr.Append(err, l.operator.Close())
	}
	err = multierr.Append(err, l.cfg.Sink.Close())

	if err != nil {
		l.log.Error("Failed to release resources", "error", err)
		l.err = multierr.Append(l.err, err)
	}
}
