package tools

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"

	"github.com/deepnoodle-ai/flowgraph/retry"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type randomParams struct {
	Type    string   `json:"type"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Length  int      `json:"length"`
	Choices []string `json:"choices"`
	Count   int      `json:"count"`
	Charset string   `json:"charset"`
	Seed    uint64   `json:"seed"`
}

// NewRandomTool generates uuids, numbers, strings, choices and booleans.
// A non-zero seed makes the output reproducible.
func NewRandomTool() Tool {
	return Typed("random", "Generates random values.", func(ctx context.Context, params randomParams) (any, error) {
		rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		if params.Seed != 0 {
			rng = rand.New(rand.NewPCG(params.Seed, params.Seed))
		}
		count := max(params.Count, 1)
		values := make([]any, 0, count)
		for range count {
			value, err := randomValue(rng, params)
			if err != nil {
				return nil, retry.Permanent(err)
			}
			values = append(values, value)
		}
		if count == 1 {
			return values[0], nil
		}
		return values, nil
	})
}

func randomValue(rng *rand.Rand, params randomParams) (any, error) {
	switch strings.ToLower(params.Type) {
	case "", "uuid":
		return uuid.NewString(), nil
	case "number", "int", "integer":
		lo, hi := int(params.Min), int(params.Max)
		if hi <= lo {
			hi = lo + 100
		}
		return lo + rng.IntN(hi-lo+1), nil
	case "float":
		lo, hi := params.Min, params.Max
		if hi <= lo {
			hi = lo + 1
		}
		return lo + rng.Float64()*(hi-lo), nil
	case "string":
		charset := params.Charset
		if charset == "" {
			charset = alphanumeric
		}
		return randomString(rng, params.Length, 10, charset), nil
	case "hex":
		return randomString(rng, params.Length, 8, "0123456789abcdef"), nil
	case "choice":
		if len(params.Choices) == 0 {
			return nil, errors.New("choice requires non-empty 'choices'")
		}
		return params.Choices[rng.IntN(len(params.Choices))], nil
	case "boolean", "bool":
		return rng.IntN(2) == 1, nil
	}
	return nil, fmt.Errorf("unsupported random type %q", params.Type)
}

func randomString(rng *rand.Rand, length, fallback int, charset string) string {
	if length <= 0 {
		length = fallback
	}
	out := make([]byte, length)
	for i := range out {
		out[i] = charset[rng.IntN(len(charset))]
	}
	return string(out)
}
