package cel

// This file contains functions that convert
//   FROM a schema.Schema
//   TO CEL variable declarations
//
// The declarations are passed to the CEL compiler to type-check the
// expressions in a rule set.

import (
	"fmt"

	"github.com/ezachrisen/ruleswp/schema"
	celgo "github.com/google/cel-go/cel"
)

// FactsVariable is the CEL variable holding every fact in working memory,
// keyed by fact ID.
const FactsVariable = "facts"

// convertSchemaToDeclarations converts the schema to CEL variables. Every
// environment also declares FactsVariable.
func convertSchemaToDeclarations(s schema.Schema) ([]celgo.EnvOption, error) {
	opts := []celgo.EnvOption{
		celgo.Variable(FactsVariable, celgo.MapType(celgo.StringType, celgo.DynType)),
	}

	for _, d := range s.Elements {
		if d.Name == FactsVariable {
			return nil, fmt.Errorf("schema %s: '%s' is reserved", s.ID, FactsVariable)
		}
		typ, err := convertSchemaTypeToCELType(d.Type)
		if err != nil {
			return nil, fmt.Errorf("converting element %s in schema %s: %w", d.Name, s.ID, err)
		}
		opts = append(opts, celgo.Variable(d.Name, typ))
	}
	return opts, nil
}

// convertSchemaTypeToCELType converts from a schema type to the type CEL
// uses to represent it.
func convertSchemaTypeToCELType(t schema.Type) (*celgo.Type, error) {
	switch v := t.(type) {
	case schema.String:
		return celgo.StringType, nil
	case schema.Int:
		return celgo.IntType, nil
	case schema.Float:
		return celgo.DoubleType, nil
	case schema.Bool:
		return celgo.BoolType, nil
	case schema.Duration:
		return celgo.DurationType, nil
	case schema.Timestamp:
		return celgo.TimestampType, nil
	case schema.Any:
		return celgo.DynType, nil
	case schema.Map:
		key, err := convertSchemaTypeToCELType(v.KeyType)
		if err != nil {
			return nil, fmt.Errorf("setting key of %v map: %w", v.KeyType, err)
		}
		val, err := convertSchemaTypeToCELType(v.ValueType)
		if err != nil {
			return nil, fmt.Errorf("setting value of %v map: %w", v.ValueType, err)
		}
		return celgo.MapType(key, val), nil
	case schema.List:
		val, err := convertSchemaTypeToCELType(v.ValueType)
		if err != nil {
			return nil, fmt.Errorf("setting value of %v list: %w", v.ValueType, err)
		}
		return celgo.ListType(val), nil
	default:
		return nil, fmt.Errorf("unknown schema type %v", t)
	}
}
