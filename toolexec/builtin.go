package toolexec

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
)

// maxFactorialInput bounds factorial so a single tool call cannot produce
// an unbounded result.
const maxFactorialInput = 1000

// maxFibonacciCount bounds the fibonacci sequence length for the same reason.
const maxFibonacciCount = 500

// Builtins returns a registry holding the standard arithmetic, string, and
// sequence tools.
func Builtins() *Registry {
	r := NewRegistry()

	binary := func(name, desc string, fn func(a, b float64) (float64, error)) {
		r.Register(RegisteredTool{
			Definition: Definition{Name: name, Description: desc, Params: []string{"a", "b"}},
			Func: func(args map[string]interface{}) (string, error) {
				a, err := FloatArg(args, "a")
				if err != nil {
					return "", err
				}
				b, err := FloatArg(args, "b")
				if err != nil {
					return "", err
				}
				v, err := fn(a, b)
				if err != nil {
					return "", err
				}
				return formatNumber(v), nil
			},
		})
	}
	unary := func(name, desc string, fn func(a float64) (float64, error)) {
		r.Register(RegisteredTool{
			Definition: Definition{Name: name, Description: desc, Params: []string{"a"}},
			Func: func(args map[string]interface{}) (string, error) {
				a, err := FloatArg(args, "a")
				if err != nil {
					return "", err
				}
				v, err := fn(a)
				if err != nil {
					return "", err
				}
				return formatNumber(v), nil
			},
		})
	}

	binary("add", "add two numbers", func(a, b float64) (float64, error) { return a + b, nil })
	binary("subtract", "subtract b from a", func(a, b float64) (float64, error) { return a - b, nil })
	binary("multiply", "multiply two numbers", func(a, b float64) (float64, error) { return a * b, nil })
	binary("divide", "divide a by b", func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return a / b, nil
	})
	binary("power", "raise a to the power b", func(a, b float64) (float64, error) {
		v := math.Pow(a, b)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("power result out of range for a=%v b=%v", a, b)
		}
		return v, nil
	})
	binary("remainder", "remainder of a divided by b", func(a, b float64) (float64, error) {
		if b == 0 {
			return 0, fmt.Errorf("remainder by zero")
		}
		return math.Mod(a, b), nil
	})

	unary("sqrt", "square root", func(a float64) (float64, error) {
		if a < 0 {
			return 0, fmt.Errorf("square root of negative number %v", a)
		}
		return math.Sqrt(a), nil
	})
	unary("cbrt", "cube root", func(a float64) (float64, error) { return math.Cbrt(a), nil })
	unary("log", "natural logarithm", func(a float64) (float64, error) {
		if a <= 0 {
			return 0, fmt.Errorf("logarithm of non-positive number %v", a)
		}
		return math.Log(a), nil
	})
	unary("sin", "sine (radians)", func(a float64) (float64, error) { return math.Sin(a), nil })
	unary("cos", "cosine (radians)", func(a float64) (float64, error) { return math.Cos(a), nil })
	unary("tan", "tangent (radians)", func(a float64) (float64, error) { return math.Tan(a), nil })

	r.Register(RegisteredTool{
		Definition: Definition{Name: "factorial", Description: "factorial of a non-negative integer", Params: []string{"a"}},
		Func: func(args map[string]interface{}) (string, error) {
			n, err := IntArg(args, "a")
			if err != nil {
				return "", err
			}
			if n < 0 {
				return "", fmt.Errorf("factorial of negative number %d", n)
			}
			if n > maxFactorialInput {
				return "", fmt.Errorf("factorial input %d exceeds limit %d", n, maxFactorialInput)
			}
			return new(big.Int).MulRange(1, int64(n)).String(), nil
		},
	})

	r.Register(RegisteredTool{
		Definition: Definition{
			Name:        "strings_to_chars_to_int",
			Description: "convert each character of a string to its unicode code point",
			Params:      []string{"string"},
		},
		Func: func(args map[string]interface{}) (string, error) {
			s, err := StringArg(args, "string")
			if err != nil {
				return "", err
			}
			codes := make([]int, 0, len(s))
			for _, r := range s {
				codes = append(codes, int(r))
			}
			return marshalJSON(codes)
		},
	})

	r.Register(RegisteredTool{
		Definition: Definition{
			Name:        "int_list_to_exponential_sum",
			Description: "sum of e^x over a list of numbers",
			Params:      []string{"int_list"},
		},
		Func: func(args map[string]interface{}) (string, error) {
			xs, err := FloatSliceArg(args, "int_list")
			if err != nil {
				return "", err
			}
			sum := 0.0
			for _, x := range xs {
				sum += math.Exp(x)
			}
			if math.IsInf(sum, 0) {
				return "", fmt.Errorf("exponential sum overflowed")
			}
			return formatNumber(sum), nil
		},
	})

	r.Register(RegisteredTool{
		Definition: Definition{
			Name:        "fibonacci_numbers",
			Description: "the first n fibonacci numbers",
			Params:      []string{"n"},
		},
		Func: func(args map[string]interface{}) (string, error) {
			n, err := IntArg(args, "n")
			if err != nil {
				return "", err
			}
			if n < 0 {
				return "", fmt.Errorf("fibonacci count must be non-negative (got %d)", n)
			}
			if n > maxFibonacciCount {
				return "", fmt.Errorf("fibonacci count %d exceeds limit %d", n, maxFibonacciCount)
			}
			seq := make([]*big.Int, 0, n)
			a, b := big.NewInt(0), big.NewInt(1)
			for i := 0; i < n; i++ {
				seq = append(seq, new(big.Int).Set(a))
				a, b = b, new(big.Int).Add(a, b)
			}
			strs := make([]string, len(seq))
			for i, v := range seq {
				strs[i] = v.String()
			}
			return "[" + joinComma(strs) + "]", nil
		},
	})

	return r
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func marshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(b), nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
