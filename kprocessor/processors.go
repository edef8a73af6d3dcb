package kprocessor

import (
	"context"
	"errors"
)

// Peek calls peekFunc for each record and passes it through unchanged.
func Peek[K, V any](peekFunc func(k K, v V)) OperatorBuilder[K, V, V] {
	return NewFunc(func(ctx context.Context, r Record[K, V]) ([]Record[K, V], error) {
		peekFunc(r.Key, r.Value)
		return []Record[K, V]{r}, nil
	})
}

// Then feeds the output of first into second. Both run in the same loop
// goroutine, so the single-writer rule holds for both states.
func Then[K, V1, V2, V3 any](first OperatorBuilder[K, V1, V2], second OperatorBuilder[K, V2, V3]) OperatorBuilder[K, V1, V3] {
	return func() (Operator[K, V1, V3], error) {
		a, err := first()
		if err != nil {
			return nil, err
		}
		b, err := second()
		if err != nil {
			return nil, errors.Join(err, a.Close())
		}
		return &chained[K, V1, V2, V3]{first: a, second: b}, nil
	}
}

type chained[K, V1, V2, V3 any] struct {
	first  Operator[K, V1, V2]
	second Operator[K, V2, V3]
}

func (c *chained[K, V1, V2, V3]) Process(ctx context.Context, r Record[K, V1]) ([]Record[K, V3], error) {
	mid, err := c.first.Process(ctx, r)
	if err != nil {
		return nil, err
	}
	var out []Record[K, V3]
	for _, m := range mid {
		res, err := c.second.Process(ctx, m)
		if err != nil {
			return out, err
		}
		out = append(out, res...)
	}
	return out, nil
}

func (c *chained[K, V1, V2, V3]) Close() error {
	return errors.Join(c.first.Close(), c.second.Close())
}

// TransportErrorsFatal is true if either side requires it.
func (c *chained[K, V1, V2, V3]) TransportErrorsFatal() bool {
	for _, op := range []any{c.first, c.second} {
		if ts, ok := op.(TransportSensitive); ok && ts.TransportErrorsFatal() {
			return true
		}
	}
	return false
}

func (c *chained[K, V1, V2, V3]) StateSize() int {
	n := 0
	for _, op := range []any{c.first, c.second} {
		if s, ok := op.(StateSizer); ok {
			n += s.StateSize()
		}
	}
	return n
}
