package ruleswp

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultMaxCycles is the number of rule firings after which an execution is
// stopped with ErrCycleLimit.
const DefaultMaxCycles = 1000

// Engine is a forward-chaining inference engine.
//
// An Engine holds only configuration. Every call to Run works on its own
// working memory, so one Engine can run any number of executions
// concurrently, even for the same rule set.
type Engine struct {
	opts EngineOptions
}

// See the functional definitions below for the meaning.
type EngineOptions struct {
	MaxCycles int
	Logger    *slog.Logger
}

type EngineOption func(f *EngineOptions)

// Given an array of EngineOption functions, apply their effect
// on the EngineOptions struct.
func applyEngineOptions(o *EngineOptions, opts ...EngineOption) {
	for _, opt := range opts {
		opt(o)
	}
}

// MaxCycles sets the maximum number of rule firings in one execution.
// Reaching the limit while a rule is still eligible to fire is an error.
// Values below 1 are ignored.
// Default: DefaultMaxCycles
func MaxCycles(n int) EngineOption {
	return func(f *EngineOptions) {
		if n > 0 {
			f.MaxCycles = n
		}
	}
}

// WithLogger sets the logger used to report rule firings (at debug level).
// Default: slog.Default()
func WithLogger(l *slog.Logger) EngineOption {
	return func(f *EngineOptions) {
		if l != nil {
			f.Logger = l
		}
	}
}

// NewEngine initializes a new engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := Engine{
		opts: EngineOptions{
			MaxCycles: DefaultMaxCycles,
			Logger:    slog.Default(),
		},
	}
	applyEngineOptions(&e.opts, opts...)
	return &e
}

// Options returns the options the engine was created with.
func (e *Engine) Options() EngineOptions {
	return e.opts
}

// Run fires the rules in the rule set against the facts in working memory
// until no rule is eligible to fire, an action halts the engine, or the cycle
// limit is reached.
//
// Each cycle:
//
//  1. Matching: every rule's condition is evaluated, in agenda order, against
//     the current facts. A rule is eligible when its condition is true and
//     working memory has not stayed the same, as far as the condition can see,
//     since the rule last fired.
//  2. Selecting: the first eligible rule in agenda order is chosen; that is,
//     the rule with the highest priority, and among those the one declared
//     first.
//  3. Firing: the chosen rule's actions are applied and committed as a unit.
//
// The memory generation changes when facts are asserted, retracted or
// explicitly updated. A rule whose condition is a FactReader becomes eligible
// again only when one of the facts it reads changes that way; any other rule
// after any such change. Setting a field makes the new value visible to later
// conditions but does not make a rule that already fired eligible again.
//
// Actions that are not idempotent, such as halving a field, fire again each
// time their rule is re-armed. Give such rules a FactReader condition, or a
// condition that becomes false once they have fired.
//
// For a given rule set and initial facts, Run always fires the same rules in
// the same order and leaves working memory in the same state.
//
// Errors are returned as *Error with kind ErrRuleExecution. Working memory
// keeps the changes committed before the failure.
func (e *Engine) Run(ctx context.Context, rs *RuleSet, wm *WorkingMemory) (*Trace, error) {
	if rs == nil {
		return nil, &Error{Kind: ErrRuleExecution, Err: fmt.Errorf("%w: nil rule set", ErrInvalidRuleSet)}
	}
	if wm == nil {
		return nil, &Error{Kind: ErrRuleExecution, RuleSet: rs.Name, Err: fmt.Errorf("nil working memory")}
	}

	start := time.Now()
	log := e.opts.Logger.With(slog.String("rule_set", rs.Name))

	trace := &Trace{RuleSet: rs.Name}
	defer func() {
		trace.Duration = time.Since(start)
	}()

	// firedAt records the memory generation at which each rule last fired
	firedAt := make([]uint64, len(rs.rules))
	fired := make([]bool, len(rs.rules))

	for cycle := 1; ; cycle++ {
		if err := ctx.Err(); err != nil {
			return trace, &Error{Kind: ErrRuleExecution, RuleSet: rs.Name, Err: err}
		}

		// Matching
		agenda, err := e.match(rs, wm, fired, firedAt)
		if err != nil {
			return trace, err
		}

		// Quiescent
		if len(agenda) == 0 {
			log.Debug("quiescent", slog.Int("cycles", trace.Cycles))
			return trace, nil
		}

		if cycle > e.opts.MaxCycles {
			return trace, &Error{
				Kind:    ErrRuleExecution,
				RuleSet: rs.Name,
				Rule:    rs.rules[agenda[0]].ID,
				Err:     fmt.Errorf("%w: %d cycles", ErrCycleLimit, e.opts.MaxCycles),
			}
		}

		// Selecting
		selected := agenda[0]
		r := rs.rules[selected]
		generation := wm.Generation()

		// Firing
		tx := newTx(wm)
		for _, a := range r.Actions {
			if err := a.Apply(wm, tx); err != nil {
				return trace, &Error{Kind: ErrRuleExecution, RuleSet: rs.Name, Rule: r.ID, Err: err}
			}
		}
		if err := tx.commit(); err != nil {
			return trace, &Error{Kind: ErrRuleExecution, RuleSet: rs.Name, Rule: r.ID, Err: err}
		}

		fired[selected] = true
		firedAt[selected] = generation

		trace.Cycles = cycle
		trace.Firings = append(trace.Firings, Firing{
			Cycle:  cycle,
			RuleID: r.ID,
			Agenda: ruleIDs(rs, agenda),
		})
		log.Debug("rule fired",
			slog.Int("cycle", cycle),
			slog.String("rule", r.ID),
			slog.Int("agenda", len(agenda)),
		)

		if tx.halted {
			trace.Halted = true
			log.Debug("halted", slog.String("rule", r.ID), slog.Int("cycles", cycle))
			return trace, nil
		}
	}
}

// match evaluates every rule against working memory and returns the positions
// of the eligible rules, in agenda order.
func (e *Engine) match(rs *RuleSet, wm *WorkingMemory, fired []bool, firedAt []uint64) ([]int, error) {
	var agenda []int

	for i, r := range rs.rules {
		// Refraction
		if fired[i] && !changedSince(r, wm, firedAt[i]) {
			continue
		}

		ok, err := r.Condition.Match(wm)
		if err != nil {
			return nil, &Error{Kind: ErrRuleExecution, RuleSet: rs.Name, Rule: r.ID, Err: fmt.Errorf("evaluating condition: %w", err)}
		}
		if ok {
			agenda = append(agenda, i)
		}
	}
	return agenda, nil
}

// changedSince reports whether working memory changed after generation g in
// a way the rule's condition can see.
func changedSince(r *Rule, wm *WorkingMemory, g uint64) bool {
	if fr, ok := r.Condition.(FactReader); ok {
		if ids, known := fr.ReadsFacts(); known {
			for _, id := range ids {
				if wm.Version(id) > g {
					return true
				}
			}
			return false
		}
	}
	return wm.Generation() > g
}

func ruleIDs(rs *RuleSet, positions []int) []string {
	ids := make([]string, len(positions))
	for i, p := range positions {
		ids[i] = rs.rules[p].ID
	}
	return ids
}
