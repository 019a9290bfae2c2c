package cel

import (
	"errors"
	"fmt"

	"github.com/ezachrisen/ruleswp"
	celgo "github.com/google/cel-go/cel"
)

// Compiler turns rule set definitions into rule sets whose conditions and
// action values are CEL expressions. It implements ruleswp.Compiler.
//
// A Compiler can be used by multiple goroutines at the same time.
type Compiler struct {
	envOpts   []celgo.EnvOption
	costLimit uint64
}

var _ ruleswp.Compiler = (*Compiler)(nil)

// CompilerOption configures a Compiler.
type CompilerOption func(c *Compiler)

// WithEnvOptions adds CEL environment options, such as custom functions or
// extension libraries, to every environment the compiler creates.
func WithEnvOptions(opts ...celgo.EnvOption) CompilerOption {
	return func(c *Compiler) {
		c.envOpts = append(c.envOpts, opts...)
	}
}

// CostLimit stops the evaluation of any single expression after it has
// exceeded the cost. Zero means no limit.
// Default: 0
func CostLimit(n uint64) CompilerOption {
	return func(c *Compiler) {
		c.costLimit = n
	}
}

// NewCompiler creates a compiler. The string extension library and the xpath
// function are always available.
func NewCompiler(opts ...CompilerOption) *Compiler {
	c := &Compiler{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile type-checks every expression in the definition and produces a rule
// set. Errors wrap ruleswp.ErrInvalidRuleSet and name the rule, the action and
// the expression at fault.
func (c *Compiler) Compile(def *ruleswp.Definition) (*ruleswp.RuleSet, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: nil definition", ruleswp.ErrInvalidRuleSet)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	s, err := def.Schema()
	if err != nil {
		return nil, fmt.Errorf("%w: rule set %s: %w", ruleswp.ErrInvalidRuleSet, def.Name, err)
	}

	env, err := c.env(s)
	if err != nil {
		return nil, fmt.Errorf("%w: rule set %s: creating CEL environment: %w", ruleswp.ErrInvalidRuleSet, def.Name, err)
	}

	rules := make([]*ruleswp.Rule, 0, len(def.Rules))
	for _, rd := range def.Rules {
		r, err := c.compileRule(env, rd)
		if err != nil {
			return nil, fmt.Errorf("%w: rule set %s: rule %s: %w", ruleswp.ErrInvalidRuleSet, def.Name, rd.ID, err)
		}
		rules = append(rules, r)
	}

	rs, err := ruleswp.NewRuleSet(def.Name, rules...)
	if err != nil {
		return nil, err
	}
	rs.Description = def.Description
	rs.Schema = s
	return rs, nil
}

func (c *Compiler) compileRule(env *evalEnv, rd ruleswp.RuleDefinition) (*ruleswp.Rule, error) {
	cond, err := env.compileCondition(rd.When)
	if err != nil {
		return nil, err
	}

	r := &ruleswp.Rule{
		ID:          rd.ID,
		Description: rd.Description,
		Priority:    rd.Priority,
		Condition:   cond,
		Expr:        rd.When,
	}

	for i, ad := range rd.Then {
		a, err := env.compileAction(ad)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		r.Actions = append(r.Actions, a)
	}
	return r, nil
}

// ErrConditionType is returned when a condition does not produce a bool.
var ErrConditionType = errors.New("condition must produce a bool")
