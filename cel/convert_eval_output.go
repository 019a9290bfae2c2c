package cel

// This file contains functions that convert
//    FROM a CEL evaluation output
//    TO Go types stored in facts

import (
	"fmt"

	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// convertRefValToNative converts a value produced by an expression into a
// plain Go value: bool, int64, uint64, float64, string, []byte,
// time.Time, time.Duration, []any, map[string]any or nil.
func convertRefValToNative(r ref.Val) (any, error) {
	switch v := r.(type) {
	case *types.Err:
		return nil, v
	case types.Bool:
		return bool(v), nil
	case types.Int:
		return int64(v), nil
	case types.Uint:
		return uint64(v), nil
	case types.Double:
		return float64(v), nil
	case types.String:
		return string(v), nil
	case types.Bytes:
		return []byte(v), nil
	case types.Null:
		return nil, nil
	case types.Timestamp:
		return v.Time, nil
	case types.Duration:
		return v.Duration, nil
	case traits.Mapper:
		return convertMap(v)
	case traits.Lister:
		return convertList(v)
	}
	return nil, fmt.Errorf("unsupported value type %s", r.Type().TypeName())
}

func convertList(l traits.Lister) ([]any, error) {
	out := []any{}
	it := l.Iterator()
	for it.HasNext() == types.True {
		e, err := convertRefValToNative(it.Next())
		if err != nil {
			return nil, fmt.Errorf("list element %d: %w", len(out), err)
		}
		out = append(out, e)
	}
	return out, nil
}

func convertMap(m traits.Mapper) (map[string]any, error) {
	out := map[string]any{}
	it := m.Iterator()
	for it.HasNext() == types.True {
		k := it.Next()
		key, ok := k.(types.String)
		if !ok {
			return nil, fmt.Errorf("map key %v: only string keys are supported", k)
		}
		v, err := convertRefValToNative(m.Get(k))
		if err != nil {
			return nil, fmt.Errorf("map value %s: %w", key, err)
		}
		out[string(key)] = v
	}
	return out, nil
}
