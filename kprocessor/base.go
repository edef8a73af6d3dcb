package kprocessor

import "context"

// NewFunc creates a stateless OperatorBuilder from a function. Stateful
// operators live in the operators package.
//
// Example:
//
//	kprocessor.NewFunc(func(ctx context.Context, r kprocessor.Record[string, string]) ([]kprocessor.Record[string, int], error) {
//	    return []kprocessor.Record[string, int]{kprocessor.WithValue(r, len(r.Value))}, nil
//	})
func NewFunc[Kin, Vin, Vout any](processFn func(ctx context.Context, record Record[Kin, Vin]) ([]Record[Kin, Vout], error)) OperatorBuilder[Kin, Vin, Vout] {
	return func() (Operator[Kin, Vin, Vout], error) {
		return funcOperator[Kin, Vin, Vout](processFn), nil
	}
}

type funcOperator[Kin, Vin, Vout any] func(context.Context, Record[Kin, Vin]) ([]Record[Kin, Vout], error)

func (p funcOperator[Kin, Vin, Vout]) Process(ctx context.Context, record Record[Kin, Vin]) ([]Record[Kin, Vout], error) {
	return p(ctx, record)
}

func (funcOperator[Kin, Vin, Vout]) Close() error { return nil }
