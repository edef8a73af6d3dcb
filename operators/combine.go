package operators

import (
	"fmt"
	"sort"

	"golang.org/x/exp/constraints"
)

// Combine folds a new value into an accumulated one. It must be associative
// and total over the value domain. It is always called as
// combine(accumulated, next), in the order events were observed, so it does
// not need to be commutative.
type Combine[N any] func(acc, next N) N

// Number is the value domain of the built-in combine operators.
type Number interface {
	constraints.Integer | constraints.Float
}

func Sum[N Number]() Combine[N] {
	return func(acc, next N) N { return acc + next }
}

func Product[N Number]() Combine[N] {
	return func(acc, next N) N { return acc * next }
}

func Min[N Number]() Combine[N] {
	return func(acc, next N) N {
		if next < acc {
			return next
		}
		return acc
	}
}

func Max[N Number]() Combine[N] {
	return func(acc, next N) N {
		if next > acc {
			return next
		}
		return acc
	}
}

// CombineNames lists the names accepted by CombineByName.
func CombineNames() []string {
	names := []string{"sum", "product", "min", "max"}
	sort.Strings(names)
	return names
}

// CombineByName resolves a configured combine operator.
func CombineByName[N Number](name string) (Combine[N], error) {
	switch name {
	case "sum":
		return Sum[N](), nil
	case "product":
		return Product[N](), nil
	case "min":
		return Min[N](), nil
	case "max":
		return Max[N](), nil
	}
	return nil, fmt.Errorf("unknown combine operator %q, want one of %v", name, CombineNames())
}
