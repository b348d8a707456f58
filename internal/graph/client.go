package graph

import (
	"context"
	"errors"
)

// ErrGraphDisabled is returned when no graph URI is configured. The fund-flow
// projection is optional and callers skip it on this error.
var ErrGraphDisabled = errors.New("fund-flow graph is not configured")

// Client runs cypher against the fund-flow graph. Neo4j backs it in
// production and MemoryClient in tests.
type Client interface {
	ExecuteWrite(ctx context.Context, cypher string, params map[string]any) (Result, error)
	ExecuteRead(ctx context.Context, cypher string, params map[string]any) (Result, error)
	Close(ctx context.Context) error
}

type Result struct {
	Records []Record
}

// Record is one returned row keyed by the RETURN aliases.
type Record map[string]any

// String returns the value under key, or "" when it is missing or not a string.
func (r Record) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Int64 accepts the int64 the driver returns for count() as well as plain ints
// pushed by MemoryClient.
func (r Record) Int64(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func (r Record) Float64(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}
