package ruleswp

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ezachrisen/ruleswp/schema"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// A Condition decides whether a rule applies to the facts in working memory.
//
// Conditions must be deterministic and must not change any fact. They
// receive a read-only View of working memory; changing a fact obtained
// through the view is a programming error the engine cannot detect.
type Condition interface {
	Match(v View) (bool, error)
}

// An Action changes working memory when a rule fires. Changes are made
// through the transaction, which the engine commits once all of the rule's
// actions have succeeded.
type Action interface {
	Apply(v View, tx *Tx) error
}

// A FactReader is a Condition that knows which facts it reads. A rule whose
// condition reads a known set of facts becomes eligible again after firing
// only when one of those facts is asserted, retracted or updated. Other rules
// become eligible again after any such change.
type FactReader interface {
	// ReadsFacts returns the IDs of the facts read. It reports false if the
	// condition may read facts it cannot name.
	ReadsFacts() (ids []string, known bool)
}

// ConditionFunc adapts a function to the Condition interface.
type ConditionFunc func(v View) (bool, error)

func (f ConditionFunc) Match(v View) (bool, error) { return f(v) }

// ActionFunc adapts a function to the Action interface.
type ActionFunc func(v View, tx *Tx) error

func (f ActionFunc) Apply(v View, tx *Tx) error { return f(v, tx) }

// Always is a condition that is always true.
var Always Condition = ConditionFunc(func(View) (bool, error) { return true, nil })

// Exists is a condition that is true when a fact with the id is in working
// memory.
func Exists(id string) Condition {
	return exists(id)
}

type exists string

func (e exists) Match(v View) (bool, error) {
	_, ok := v.Get(string(e))
	return ok, nil
}

func (e exists) ReadsFacts() ([]string, bool) { return []string{string(e)}, true }

// A Rule pairs a condition with the actions to take when the condition is
// true.
//
// Rules belong to one RuleSet and must not be changed once the rule set has
// been created.
type Rule struct {
	// A rule identifier, unique within the rule set. (required)
	ID string `json:"id"`

	// Optional description of what the rule does
	Description string `json:"description,omitempty"`

	// When several rules are eligible to fire, the one with the highest
	// priority fires first. Rules with the same priority fire in the order
	// they were declared.
	Priority int `json:"priority"`

	// The condition deciding whether the rule applies. (required)
	Condition Condition `json:"-"`

	// The actions taken, in order, when the rule fires.
	Actions []Action `json:"-"`

	// The source of the condition (for example a CEL expression), for
	// display purposes only.
	Expr string `json:"expr,omitempty"`

	// position of the rule in its declaration
	declared int
}

// A RuleSet is a named, ordered collection of rules. Rule sets are read-only
// once created and can be shared by any number of concurrent executions.
type RuleSet struct {
	// The rule set name, used to load it from a repository
	Name string

	// Optional description
	Description string

	// The facts the rule set expects to find in working memory.
	// Used by compilers; the engine does not check it.
	Schema schema.Schema

	// Rules in agenda order
	rules []*Rule
}

// NewRuleSet creates a rule set with the rules in declaration order.
// The rules are copied and arranged in agenda order: priority descending,
// then declaration order.
func NewRuleSet(name string, rules ...*Rule) (*RuleSet, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: required rule set name", ErrInvalidRuleSet)
	}

	rs := &RuleSet{
		Name:  name,
		rules: make([]*Rule, 0, len(rules)),
	}

	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r == nil {
			return nil, fmt.Errorf("%w: rule set %s: nil rule at position %d", ErrInvalidRuleSet, name, i)
		}
		if len(strings.Trim(r.ID, " ")) == 0 {
			return nil, fmt.Errorf("%w: rule set %s: required rule ID for rule at position %d", ErrInvalidRuleSet, name, i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("%w: rule set %s: duplicate rule ID %s", ErrInvalidRuleSet, name, r.ID)
		}
		if r.Condition == nil {
			return nil, fmt.Errorf("%w: rule set %s: rule %s has no condition", ErrInvalidRuleSet, name, r.ID)
		}
		seen[r.ID] = true

		c := *r
		c.Actions = slices.Clone(r.Actions)
		c.declared = i
		rs.rules = append(rs.rules, &c)
	}

	slices.SortStableFunc(rs.rules, compareAgenda)
	return rs, nil
}

// compareAgenda orders rules by priority (highest first), then by declaration
// order.
func compareAgenda(a, b *Rule) int {
	if a.Priority != b.Priority {
		return b.Priority - a.Priority
	}
	return a.declared - b.declared
}

// Rules returns the rules in agenda order.
func (rs *RuleSet) Rules() []*Rule {
	return slices.Clone(rs.rules)
}

// Rule returns the rule with the id.
func (rs *RuleSet) Rule(id string) (*Rule, bool) {
	for _, r := range rs.rules {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Len is the number of rules in the rule set.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// String returns a table of the rules in agenda order.
func (rs *RuleSet) String() string {
	tw := table.NewWriter()
	tw.SetTitle("\nRULE SET " + rs.Name + "\n")
	tw.AppendHeader(table.Row{"\nOrder", "\nRule", "\nPriority", "\nCondition", "\nActions", "\nDescription"})

	maxWidthOfExpressionColumn := 40
	maxExprLength := 0
	for i, r := range rs.rules {
		tw.AppendRow(table.Row{
			i + 1,
			r.ID,
			r.Priority,
			r.Expr,
			len(r.Actions),
			r.Description,
		})
		if len(r.Expr) > maxExprLength {
			maxExprLength = len(r.Expr)
		}
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, WidthMax: maxWidthOfExpressionColumn},
		{Number: 6, WidthMax: maxWidthOfExpressionColumn},
	})

	style := table.StyleLight
	style.Format.Header = text.FormatDefault
	// Only add the row separator if the expression is wide enough to wrap.
	if maxExprLength > maxWidthOfExpressionColumn {
		style.Options.SeparateRows = true
	}
	tw.SetStyle(style)
	return tw.Render()
}

// SetField is an action that sets a field of a fact to a fixed value.
func SetField(id, field string, v any) Action {
	return ActionFunc(func(_ View, tx *Tx) error {
		return tx.Set(id, field, v)
	})
}

// AssertFact is an action that adds the fact to working memory.
// The fact value is shared between every execution that fires the rule, so
// use it only with facts that are never changed; otherwise use an ActionFunc
// that creates a new fact.
func AssertFact(f Fact) Action {
	return ActionFunc(func(_ View, tx *Tx) error {
		return tx.Assert(f)
	})
}

// RetractFact is an action that removes a fact from working memory.
func RetractFact(id string) Action {
	return ActionFunc(func(_ View, tx *Tx) error {
		return tx.Retract(id)
	})
}

// UpdateFact is an action that makes rules consider the fact again.
func UpdateFact(id string) Action {
	return ActionFunc(func(_ View, tx *Tx) error {
		return tx.Update(id)
	})
}

// Halt is an action that stops the engine after the rule has fired.
func Halt() Action {
	return ActionFunc(func(_ View, tx *Tx) error {
		tx.Halt()
		return nil
	})
}
