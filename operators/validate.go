package operators

import (
	"context"

	"github.com/birdayz/clickstream/kprocessor"
)

// Validated runs validate before the wrapped operator. A rejected record is
// reported as malformed and never reaches the operator, so its state is not
// touched.
func Validated[K, V, Vout any](validate func(key K, value V) error, next kprocessor.OperatorBuilder[K, V, Vout]) kprocessor.OperatorBuilder[K, V, Vout] {
	return func() (kprocessor.Operator[K, V, Vout], error) {
		op, err := next()
		if err != nil {
			return nil, err
		}
		return &validated[K, V, Vout]{validate: validate, next: op}, nil
	}
}

type validated[K, V, Vout any] struct {
	validate func(K, V) error
	next     kprocessor.Operator[K, V, Vout]
}

func (v *validated[K, V, Vout]) Process(ctx context.Context, r kprocessor.Record[K, V]) ([]kprocessor.Record[K, Vout], error) {
	if err := v.validate(r.Key, r.Value); err != nil {
		return nil, kprocessor.Malformed(r.Metadata.Offset, err)
	}
	return v.next.Process(ctx, r)
}

func (v *validated[K, V, Vout]) Close() error { return v.next.Close() }

func (v *validated[K, V, Vout]) TransportErrorsFatal() bool {
	ts, ok := v.next.(kprocessor.TransportSensitive)
	return ok && ts.TransportErrorsFatal()
}

func (v *validated[K, V, Vout]) StateSize() int {
	if s, ok := v.next.(kprocessor.StateSizer); ok {
		return s.StateSize()
	}
	return 0
}
