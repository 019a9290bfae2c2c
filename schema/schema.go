// Package schema defines the types used to describe the facts a rule set
// works with.
//
// A rule set declares, for every fact it refers to by ID, the type of the
// fact. Compilers use the declarations to type-check rule expressions before
// any fact is asserted.
package schema

import (
	"fmt"
	"slices"
	"strings"
)

// Schema defines the fact IDs (variable names) and their types used in rule
// expressions.
type Schema struct {
	// Identifier for the schema. Useful for the hosting application; not used internally.
	ID string `json:"id,omitempty"`
	// A user-friendly description of the schema
	Description string `json:"description,omitempty"`
	// List of data elements supported by this schema
	Elements []DataElement `json:"elements,omitempty"`
}

// DataElement defines a named variable in a schema
type DataElement struct {
	// The fact ID. This is the name rule expressions use to refer to the
	// fact.
	//
	// RESERVED NAMES:
	//   facts
	Name string `json:"name"`

	// One of the Type interface defined.
	Type Type `json:"type"`

	// Optional description of the element.
	Description string `json:"description,omitempty"`
}

// Element returns the element with the name.
func (s Schema) Element(name string) (DataElement, bool) {
	i := slices.IndexFunc(s.Elements, func(e DataElement) bool { return e.Name == name })
	if i < 0 {
		return DataElement{}, false
	}
	return s.Elements[i], true
}

func (s Schema) String() string {
	x := strings.Builder{}
	x.WriteString(s.ID)
	x.WriteString("\n")
	for _, e := range s.Elements {
		x.WriteString(e.String())
		x.WriteString("\n")
	}
	return x.String()
}

func (e DataElement) String() string {
	return fmt.Sprintf("  %s (%s)", e.Name, e.Type)
}

// Type defines a type in the schema type system.
// Not all compilers support all types.
type Type interface {
	String() string
}

// String defines a string type.
type String struct{}

// Int defines an integer type.
type Int struct{}

// Float defines a floating point type.
type Float struct{}

// Any defines an unspecified type; expressions using it are checked at run time.
type Any struct{}

// Bool defines a type for true/false.
type Bool struct{}

// Duration defines a type for time.Duration.
type Duration struct{}

// Timestamp defines a type for time.Time.
type Timestamp struct{}

// List defines a type representing a slice of values
type List struct {
	ValueType Type // the type of element stored in the list
}

// Map defines a type representing a map of keys and values.
// Facts are usually declared as map[string]any.
type Map struct {
	KeyType   Type // the type of the map key
	ValueType Type // the type of the value stored in the map
}

func (Int) String() string       { return "int" }
func (Bool) String() string      { return "bool" }
func (String) String() string    { return "string" }
func (Any) String() string       { return "any" }
func (Duration) String() string  { return "duration" }
func (Timestamp) String() string { return "timestamp" }
func (Float) String() string     { return "float" }
func (t List) String() string    { return fmt.Sprintf("[]%v", t.ValueType) }
func (t Map) String() string     { return fmt.Sprintf("map[%s]%s", t.KeyType, t.ValueType) }

// ParseType parses a string that represents a type and returns the type.
// The string representation is the same as the type's String() output.
// Example: map[string]any
func ParseType(t string) (Type, error) {
	t = strings.TrimSpace(t)

	if strings.HasPrefix(t, "map") {
		return parseMap(t)
	}

	if strings.HasPrefix(t, "[]") {
		return parseList(t)
	}

	switch t {
	case "string":
		return String{}, nil
	case "int":
		return Int{}, nil
	case "float":
		return Float{}, nil
	case "bool":
		return Bool{}, nil
	case "duration":
		return Duration{}, nil
	case "timestamp":
		return Timestamp{}, nil
	case "any":
		return Any{}, nil
	default:
		return Any{}, fmt.Errorf("unrecognized type: %s", t)
	}
}

// parseMap parses a string and returns a map type.
// The string must be in the format map[<keytype>]<valuetype>.
// Example: map[string]int
func parseMap(t string) (Type, error) {

	var keyTypeName string
	var valueTypeName string

	t = strings.ReplaceAll(t, "[", " ")
	t = strings.ReplaceAll(t, "]", " ")

	n, err := fmt.Sscanf(t, "map %s %s", &keyTypeName, &valueTypeName)
	if err != nil {
		return Any{}, err
	}

	if n < 2 {
		return Any{}, fmt.Errorf("wanted 2 items parsed, got %d", n)
	}

	keyType, err := ParseType(keyTypeName)
	if err != nil {
		return Any{}, err
	}

	valueType, err := ParseType(valueTypeName)
	if err != nil {
		return Any{}, err
	}

	return Map{
		KeyType:   keyType,
		ValueType: valueType,
	}, nil
}

// parseList parses a string and returns a list type.
// The string must be in the format []<valuetype>
// Example: []string
func parseList(t string) (Type, error) {
	var valueTypeName string
	_, err := fmt.Sscanf(t, "[]%s", &valueTypeName)
	if err != nil {
		return Any{}, err
	}
	valueType, err := ParseType(valueTypeName)
	if err != nil {
		return Any{}, err
	}

	return List{
		ValueType: valueType,
	}, nil
}
