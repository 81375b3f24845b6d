package rules

import (
	"math"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

var (
	doubleArgs1 = []*cel.Type{cel.DoubleType}
	doubleArgs2 = []*cel.Type{cel.DoubleType, cel.DoubleType}
	doubleArgs3 = []*cel.Type{cel.DoubleType, cel.DoubleType, cel.DoubleType}
	doubleList  = []*cel.Type{cel.ListType(cel.DoubleType)}
)

// arithmeticEnvOptions declares the functions arithmetic rules are lowered to
func arithmeticEnvOptions() []cel.EnvOption {
	return []cel.EnvOption{
		celBinary("quot", func(a, b float64) ref.Val {
			if b == 0 {
				return types.NewErr("division by zero")
			}
			return types.Double(a / b)
		}),
		celBinary("fmod", func(a, b float64) ref.Val {
			if b == 0 {
				return types.NewErr("modulo by zero")
			}
			return types.Double(math.Mod(a, b))
		}),
		celBinary("pow", func(a, b float64) ref.Val {
			return types.Double(math.Pow(a, b))
		}),
		celBinary("digit", func(position, number float64) ref.Val {
			n := math.Floor(number)
			return types.Double(math.Trunc(math.Mod(n/math.Pow(10, float64(int(position)-1)), 10)))
		}),

		celUnary("abs", math.Abs),
		celUnary("round", math.Round),
		celUnary("floor", math.Floor),
		celUnary("ceil", math.Ceil),
		celUnary("sqrt", math.Sqrt),

		cel.Function("inrange",
			cel.Overload("inrange_double_double_double", doubleArgs3, cel.DoubleType,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					v, lo, hi := args[0].(types.Double), args[1].(types.Double), args[2].(types.Double)
					if v >= lo && v <= hi {
						return types.Double(1)
					}
					return types.Double(0)
				}))),

		celList("min", func(values []float64) ref.Val {
			m := values[0]
			for _, v := range values[1:] {
				m = math.Min(m, v)
			}
			return types.Double(m)
		}),
		celList("max", func(values []float64) ref.Val {
			m := values[0]
			for _, v := range values[1:] {
				m = math.Max(m, v)
			}
			return types.Double(m)
		}),
		celList("sum", func(values []float64) ref.Val {
			return types.Double(sumOf(values))
		}),
		celList("avg", func(values []float64) ref.Val {
			return types.Double(sumOf(values) / float64(len(values)))
		}),
		celList("first", topPosition(0)),
		celList("second", topPosition(1)),
		celList("third", topPosition(2)),
		celList("position", func(values []float64) ref.Val {
			// position(i, a1, a2, ...) returns ai
			i := int(values[0])
			if i < 1 || i >= len(values) {
				return types.NewErr("position %d out of range", i)
			}
			return types.Double(values[i])
		}),
	}
}

func celBinary(name string, fn func(a, b float64) ref.Val) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_double_double", doubleArgs2, cel.DoubleType,
			cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				return fn(float64(lhs.(types.Double)), float64(rhs.(types.Double)))
			})))
}

func celUnary(name string, fn func(float64) float64) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_double", doubleArgs1, cel.DoubleType,
			cel.UnaryBinding(func(v ref.Val) ref.Val {
				return types.Double(fn(float64(v.(types.Double))))
			})))
}

func celList(name string, fn func([]float64) ref.Val) cel.EnvOption {
	return cel.Function(name,
		cel.Overload(name+"_list_double", doubleList, cel.DoubleType,
			cel.UnaryBinding(func(v ref.Val) ref.Val {
				values, errVal := toDoubles(v)
				if errVal != nil {
					return errVal
				}
				if len(values) == 0 {
					return types.NewErr("%s requires at least one argument", name)
				}
				return fn(values)
			})))
}

func toDoubles(v ref.Val) ([]float64, ref.Val) {
	lister, ok := v.(traits.Lister)
	if !ok {
		return nil, types.NewErr("expected a list of numbers")
	}

	var out []float64
	it := lister.Iterator()
	for it.HasNext() == types.True {
		d, ok := it.Next().(types.Double)
		if !ok {
			return nil, types.NewErr("expected a number")
		}
		out = append(out, float64(d))
	}
	return out, nil
}

// topPosition returns the 1-based argument position holding the n-th
// highest value. Ties keep argument order.
func topPosition(n int) func([]float64) ref.Val {
	return func(values []float64) ref.Val {
		if n >= len(values) {
			return types.NewErr("not enough arguments to find position %d", n+1)
		}
		idx := make([]int, len(values))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return values[idx[a]] > values[idx[b]]
		})
		return types.Double(idx[n] + 1)
	}
}

func sumOf(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}
