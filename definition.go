package ruleswp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/ezachrisen/ruleswp/schema"
	"gopkg.in/yaml.v3"
)

// Definition is the declarative form of a rule set, as stored in files,
// databases or caches. A Compiler turns a definition into a RuleSet.
//
// Definitions are written in YAML or JSON:
//
//	name: tax-v1
//	facts:
//	  purchase: map[string]any
//	rules:
//	  - id: apply-8pct-tax
//	    when: has(facts.purchase)
//	    then:
//	      - set: purchase.tax
//	        value: double(purchase.amount) * 0.08
type Definition struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Facts maps the ID of each fact the rules refer to, to its type in
	// schema.ParseType syntax.
	Facts map[string]string `yaml:"facts,omitempty" json:"facts,omitempty"`

	// Rules in declaration order
	Rules []RuleDefinition `yaml:"rules" json:"rules"`
}

// RuleDefinition is the declarative form of a Rule.
type RuleDefinition struct {
	ID          string             `yaml:"id" json:"id"`
	Description string             `yaml:"description,omitempty" json:"description,omitempty"`
	Priority    int                `yaml:"priority,omitempty" json:"priority,omitempty"`
	When        string             `yaml:"when" json:"when"`
	Then        []ActionDefinition `yaml:"then,omitempty" json:"then,omitempty"`
}

// ActionDefinition is the declarative form of an Action. Exactly one of Set,
// Assert, Retract, Update or Halt must be given.
type ActionDefinition struct {
	// Set names the field to change, as <fact>.<field>. Value holds the
	// expression producing the new value. With Reassert, the fact is also
	// updated, making rules consider it again.
	Set      string `yaml:"set,omitempty" json:"set,omitempty"`
	Value    string `yaml:"value,omitempty" json:"value,omitempty"`
	Reassert bool   `yaml:"reassert,omitempty" json:"reassert,omitempty"`

	// Assert adds a new record fact.
	Assert *AssertDefinition `yaml:"assert,omitempty" json:"assert,omitempty"`

	// Retract removes the fact with this ID.
	Retract string `yaml:"retract,omitempty" json:"retract,omitempty"`

	// Update makes rules consider the fact with this ID again.
	Update string `yaml:"update,omitempty" json:"update,omitempty"`

	// Halt stops the engine after the rule has fired.
	Halt bool `yaml:"halt,omitempty" json:"halt,omitempty"`
}

// AssertDefinition describes a record fact created by an action.
type AssertDefinition struct {
	ID   string `yaml:"id" json:"id"`
	Type string `yaml:"type,omitempty" json:"type,omitempty"`

	// Field name to the expression producing its value
	Fields map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// ActionKind names the kind of an action definition.
type ActionKind string

const (
	ActionSet     ActionKind = "set"
	ActionAssert  ActionKind = "assert"
	ActionRetract ActionKind = "retract"
	ActionUpdate  ActionKind = "update"
	ActionHalt    ActionKind = "halt"
)

// Kind returns the kind of the action, or an error if the definition does not
// specify exactly one kind.
func (a ActionDefinition) Kind() (ActionKind, error) {
	var kinds []ActionKind
	if a.Set != "" {
		kinds = append(kinds, ActionSet)
	}
	if a.Assert != nil {
		kinds = append(kinds, ActionAssert)
	}
	if a.Retract != "" {
		kinds = append(kinds, ActionRetract)
	}
	if a.Update != "" {
		kinds = append(kinds, ActionUpdate)
	}
	if a.Halt {
		kinds = append(kinds, ActionHalt)
	}
	switch len(kinds) {
	case 0:
		return "", fmt.Errorf("action has no kind (set, assert, retract, update or halt)")
	case 1:
		return kinds[0], nil
	default:
		return "", fmt.Errorf("action has more than one kind: %v", kinds)
	}
}

// Target splits the Set field into the fact ID and field name.
func (a ActionDefinition) Target() (fact, field string, err error) {
	fact, field, ok := strings.Cut(a.Set, ".")
	if !ok || fact == "" || field == "" {
		return "", "", fmt.Errorf("set target '%s' must be in the form <fact>.<field>", a.Set)
	}
	return fact, field, nil
}

// ParseDefinition parses a definition in YAML or JSON format and validates it.
func ParseDefinition(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty definition", ErrInvalidRuleSet)
		}
		return nil, fmt.Errorf("%w: parsing definition: %w", ErrInvalidRuleSet, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the structure of the definition. It does not check the
// expressions; that is up to the Compiler.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: required rule set name", ErrInvalidRuleSet)
	}
	for id, typ := range d.Facts {
		if !ValidFactID(id) {
			return fmt.Errorf("%w: rule set %s: fact ID '%s' is not a valid identifier", ErrInvalidRuleSet, d.Name, id)
		}
		if _, err := schema.ParseType(typ); err != nil {
			return fmt.Errorf("%w: rule set %s: fact %s: %w", ErrInvalidRuleSet, d.Name, id, err)
		}
	}

	seen := map[string]bool{}
	for i, r := range d.Rules {
		if strings.TrimSpace(r.ID) == "" {
			return fmt.Errorf("%w: rule set %s: required rule ID for rule at position %d", ErrInvalidRuleSet, d.Name, i)
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: rule set %s: duplicate rule ID %s", ErrInvalidRuleSet, d.Name, r.ID)
		}
		seen[r.ID] = true
		if strings.TrimSpace(r.When) == "" {
			return fmt.Errorf("%w: rule set %s: rule %s has no condition", ErrInvalidRuleSet, d.Name, r.ID)
		}
		for j, a := range r.Then {
			kind, err := a.Kind()
			if err != nil {
				return fmt.Errorf("%w: rule set %s: rule %s, action %d: %w", ErrInvalidRuleSet, d.Name, r.ID, j, err)
			}
			if kind == ActionSet {
				if _, _, err := a.Target(); err != nil {
					return fmt.Errorf("%w: rule set %s: rule %s, action %d: %w", ErrInvalidRuleSet, d.Name, r.ID, j, err)
				}
				if strings.TrimSpace(a.Value) == "" {
					return fmt.Errorf("%w: rule set %s: rule %s, action %d: set requires a value", ErrInvalidRuleSet, d.Name, r.ID, j)
				}
			}
			if kind == ActionAssert && !ValidFactID(a.Assert.ID) {
				return fmt.Errorf("%w: rule set %s: rule %s, action %d: fact ID '%s' is not a valid identifier", ErrInvalidRuleSet, d.Name, r.ID, j, a.Assert.ID)
			}
		}
	}
	return nil
}

// Schema returns the declared facts as a schema, ordered by fact ID.
func (d *Definition) Schema() (schema.Schema, error) {
	s := schema.Schema{ID: d.Name}
	for _, id := range slices.Sorted(maps.Keys(d.Facts)) {
		t, err := schema.ParseType(d.Facts[id])
		if err != nil {
			return schema.Schema{}, fmt.Errorf("fact %s: %w", id, err)
		}
		s.Elements = append(s.Elements, schema.DataElement{Name: id, Type: t})
	}
	return s, nil
}

// Compiler turns rule set definitions into rule sets.
type Compiler interface {
	Compile(def *Definition) (*RuleSet, error)
}

// Source provides rule set definitions by name. If there is no definition for
// the name, Definition returns an error wrapping ErrRuleSetNotFound.
type Source interface {
	Definition(ctx context.Context, name string) (*Definition, error)
}

// DefinitionLoader loads rule sets by fetching definitions from a Source and
// compiling them.
type DefinitionLoader struct {
	source   Source
	compiler Compiler
}

// NewDefinitionLoader creates a loader compiling the definitions from the source.
func NewDefinitionLoader(src Source, c Compiler) *DefinitionLoader {
	return &DefinitionLoader{source: src, compiler: c}
}

// Load fetches and compiles the definition of the named rule set.
// A definition that cannot be compiled results in an error wrapping
// ErrInvalidRuleSet.
func (l *DefinitionLoader) Load(ctx context.Context, name string) (*RuleSet, error) {
	def, err := l.source.Definition(ctx, name)
	if err != nil {
		return nil, err
	}
	if def.Name != name {
		return nil, fmt.Errorf("%w: definition stored as '%s' is named '%s'", ErrInvalidRuleSet, name, def.Name)
	}
	rs, err := l.compiler.Compile(def)
	if err != nil {
		if errors.Is(err, ErrInvalidRuleSet) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: compiling rule set %s: %w", ErrInvalidRuleSet, name, err)
	}
	return rs, nil
}
