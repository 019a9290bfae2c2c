package cel

import (
	"fmt"
	"maps"
	"slices"

	"github.com/ezachrisen/ruleswp"
	"github.com/ezachrisen/ruleswp/schema"
	celgo "github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/ext"
)

// evalEnv is the CEL environment shared by the expressions of one rule set.
type evalEnv struct {
	env      *celgo.Env
	vars     []string
	progOpts []celgo.ProgramOption
}

func (c *Compiler) env(s schema.Schema) (*evalEnv, error) {
	opts, err := convertSchemaToDeclarations(s)
	if err != nil {
		return nil, err
	}
	opts = append(opts, ext.Strings(), xpathFunction())
	opts = append(opts, c.envOpts...)

	env, err := celgo.NewEnv(opts...)
	if err != nil {
		return nil, err
	}

	e := &evalEnv{env: env}
	for _, d := range s.Elements {
		e.vars = append(e.vars, d.Name)
	}
	if c.costLimit > 0 {
		e.progOpts = append(e.progOpts, celgo.CostLimit(c.costLimit))
	}
	return e, nil
}

// compile parses, checks and plans the expression.
func (e *evalEnv) compile(expr string) (*expression, error) {
	ast, iss := e.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compiling '%s': %w", expr, iss.Err())
	}

	prg, err := e.env.Program(ast, e.progOpts...)
	if err != nil {
		return nil, fmt.Errorf("generating program for '%s': %w", expr, err)
	}
	return &expression{env: e, ast: ast, prg: prg, src: expr}, nil
}

// activation binds the facts in view to the CEL variables. Declared facts
// that are not in working memory are left unbound.
func (e *evalEnv) activation(v ruleswp.View) map[string]any {
	data := v.Data()
	vars := make(map[string]any, len(e.vars)+1)
	vars[FactsVariable] = data
	for _, name := range e.vars {
		if f, ok := data[name]; ok {
			vars[name] = f
		}
	}
	return vars
}

type expression struct {
	env *evalEnv
	ast *celgo.Ast
	prg celgo.Program
	src string
}

// eval evaluates the expression against the facts in view and returns the
// result as a Go value.
func (x *expression) eval(v ruleswp.View) (any, error) {
	out, _, err := x.prg.Eval(x.env.activation(v))
	if err != nil {
		return nil, fmt.Errorf("evaluating '%s': %w", x.src, err)
	}
	val, err := convertRefValToNative(out)
	if err != nil {
		return nil, fmt.Errorf("evaluating '%s': %w", x.src, err)
	}
	return val, nil
}

// condition is a rule condition backed by a boolean CEL expression.
type condition struct {
	*expression

	// facts the expression refers to, if they could all be found
	reads      []string
	readsKnown bool
}

func (c *condition) ReadsFacts() ([]string, bool) { return c.reads, c.readsKnown }

func (e *evalEnv) compileCondition(expr string) (*condition, error) {
	x, err := e.compile(expr)
	if err != nil {
		return nil, err
	}
	switch t := x.ast.OutputType(); t.String() {
	case celgo.BoolType.String(), celgo.DynType.String():
	default:
		return nil, fmt.Errorf("%w: '%s' produces %s", ErrConditionType, expr, t)
	}
	c := &condition{expression: x}
	c.reads, c.readsKnown = e.factsRead(x.ast)
	return c, nil
}

// factsRead returns the IDs of the facts the expression refers to, either as
// a declared variable or as a field of FactsVariable. It reports false when
// the expression uses FactsVariable in any other way, for example by
// indexing it or taking its size.
func (e *evalEnv) factsRead(ast *celgo.Ast) ([]string, bool) {
	seen := map[string]bool{}
	idents := celast.MatchDescendants(celast.NavigateAST(ast.NativeRep()), celast.KindMatcher(celast.IdentKind))
	for _, id := range idents {
		name := id.AsIdent()
		if name != FactsVariable {
			if slices.Contains(e.vars, name) {
				seen[name] = true
			}
			continue
		}
		p, ok := id.Parent()
		if !ok || p.Kind() != celast.SelectKind {
			return nil, false
		}
		seen[p.AsSelect().FieldName()] = true
	}
	return slices.Sorted(maps.Keys(seen)), true
}

func (c *condition) Match(v ruleswp.View) (bool, error) {
	out, _, err := c.prg.Eval(c.env.activation(v))
	if err != nil {
		return false, fmt.Errorf("evaluating '%s': %w", c.src, err)
	}
	b, ok := out.(types.Bool)
	if !ok {
		return false, fmt.Errorf("%w: '%s' produced %s", ErrConditionType, c.src, out.Type().TypeName())
	}
	return bool(b), nil
}

func (e *evalEnv) compileAction(ad ruleswp.ActionDefinition) (ruleswp.Action, error) {
	kind, err := ad.Kind()
	if err != nil {
		return nil, err
	}

	switch kind {
	case ruleswp.ActionSet:
		fact, field, err := ad.Target()
		if err != nil {
			return nil, err
		}
		value, err := e.compile(ad.Value)
		if err != nil {
			return nil, err
		}
		return &setAction{fact: fact, field: field, value: value, reassert: ad.Reassert}, nil

	case ruleswp.ActionAssert:
		a := &assertAction{id: ad.Assert.ID, typ: ad.Assert.Type}
		if a.typ == "" {
			a.typ = "record"
		}
		for _, name := range slices.Sorted(maps.Keys(ad.Assert.Fields)) {
			value, err := e.compile(ad.Assert.Fields[name])
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", name, err)
			}
			a.fields = append(a.fields, fieldExpr{name: name, value: value})
		}
		return a, nil

	case ruleswp.ActionRetract:
		return ruleswp.RetractFact(ad.Retract), nil

	case ruleswp.ActionUpdate:
		return ruleswp.UpdateFact(ad.Update), nil

	case ruleswp.ActionHalt:
		return ruleswp.Halt(), nil
	}
	return nil, fmt.Errorf("unknown action kind %s", kind)
}

// setAction sets a field of a fact to the value of an expression.
type setAction struct {
	fact     string
	field    string
	value    *expression
	reassert bool
}

func (a *setAction) Apply(v ruleswp.View, tx *ruleswp.Tx) error {
	val, err := a.value.eval(v)
	if err != nil {
		return fmt.Errorf("setting %s.%s: %w", a.fact, a.field, err)
	}
	if err := tx.Set(a.fact, a.field, val); err != nil {
		return err
	}
	if a.reassert {
		return tx.Update(a.fact)
	}
	return nil
}

type fieldExpr struct {
	name  string
	value *expression
}

// assertAction adds a new record fact, with fields computed by expressions.
type assertAction struct {
	id     string
	typ    string
	fields []fieldExpr
}

func (a *assertAction) Apply(v ruleswp.View, tx *ruleswp.Tx) error {
	fields := make(map[string]any, len(a.fields))
	for _, f := range a.fields {
		val, err := f.value.eval(v)
		if err != nil {
			return fmt.Errorf("asserting %s, field %s: %w", a.id, f.name, err)
		}
		fields[f.name] = val
	}
	return tx.Assert(ruleswp.NewRecord(a.id, a.typ, fields))
}
