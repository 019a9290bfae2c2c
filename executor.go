package ruleswp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// LevelCritical is the log level used for failed executions. It ranks above
// slog.LevelError.
const LevelCritical = slog.Level(12)

// FactConstructor builds a fact from caller-supplied input, for example by
// parsing a document. Constructors run after the rule set has been resolved.
type FactConstructor func() (Fact, error)

// Provide returns a constructor for a fact that has already been built.
func Provide(f Fact) FactConstructor {
	return func() (Fact, error) { return f, nil }
}

// Request describes one execution.
type Request struct {
	// Identifier of the execution, used in log entries and the result.
	// A random UUID is generated if empty.
	ID string

	// The name of the rule set to execute (required)
	RuleSet string

	// Constructors for the initial facts, asserted in this order
	Facts []FactConstructor

	// The IDs of the facts to return in the result. If empty, every fact in
	// working memory at the end of the execution is returned.
	Extract []string
}

// ExecutionResult holds the facts the caller asked for, after the engine
// reached quiescence.
type ExecutionResult struct {
	// Unique identifier of the execution, also used in log entries
	ID string

	// The rule set executed
	RuleSet string

	// The extracted facts, keyed by ID
	Facts map[string]Fact

	// What the engine did
	Trace *Trace
}

// Fact returns the extracted fact with the id.
func (r *ExecutionResult) Fact(id string) (Fact, bool) {
	f, ok := r.Facts[id]
	return f, ok
}

// Executor runs rule sets against facts supplied by the caller. It resolves
// the rule set, builds the facts, runs the engine and extracts the results.
//
// Every failure is logged at LevelCritical and returned as an *Error, so the
// caller can report the whole operation as failed. The Executor never retries.
type Executor struct {
	rules  RuleSetProvider
	engine *Engine
	log    *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the logger used to report executions.
// Default: slog.Default()
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(x *Executor) {
		if l != nil {
			x.log = l
		}
	}
}

// NewExecutor creates an executor obtaining rule sets from the provider and
// running them on the engine.
func NewExecutor(rules RuleSetProvider, engine *Engine, opts ...ExecutorOption) *Executor {
	if rules == nil {
		panic("ruleswp: rule set provider cannot be nil")
	}
	if engine == nil {
		engine = NewEngine()
	}
	x := &Executor{
		rules:  rules,
		engine: engine,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Execute runs the request. Errors are *Error values whose Kind is one of
// ErrRuleSetNotFound, ErrFactConstruction, ErrRuleExecution or
// ErrResultExtraction.
func (x *Executor) Execute(ctx context.Context, req Request) (*ExecutionResult, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	log := x.log.With(slog.String("execution_id", id), slog.String("rule_set", req.RuleSet))
	start := time.Now()

	res, err := x.execute(ctx, id, req)
	if err != nil {
		log.Log(ctx, LevelCritical, "rule execution failed",
			slog.String("kind", KindOf(err).Error()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	log.Info("rule set executed",
		slog.Int("rules_fired", len(res.Trace.Firings)),
		slog.Bool("halted", res.Trace.Halted),
		slog.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (x *Executor) execute(ctx context.Context, id string, req Request) (*ExecutionResult, error) {
	// 1. Get the rule set
	rs, err := x.rules.RuleSet(ctx, req.RuleSet)
	if err != nil {
		kind := ErrRuleExecution
		if errors.Is(err, ErrRuleSetNotFound) {
			kind = ErrRuleSetNotFound
		}
		return nil, &Error{Kind: kind, RuleSet: req.RuleSet, Err: err}
	}

	// 2. Build the facts
	wm, err := NewWorkingMemory()
	if err != nil {
		return nil, &Error{Kind: ErrFactConstruction, RuleSet: req.RuleSet, Err: err}
	}
	for i, construct := range req.Facts {
		if construct == nil {
			return nil, &Error{Kind: ErrFactConstruction, RuleSet: req.RuleSet, Err: fmt.Errorf("nil fact constructor at position %d", i)}
		}
		f, err := construct()
		if err != nil {
			return nil, &Error{Kind: ErrFactConstruction, RuleSet: req.RuleSet, Err: err}
		}
		if err := wm.Assert(f); err != nil {
			return nil, &Error{Kind: ErrFactConstruction, RuleSet: req.RuleSet, Err: err}
		}
	}

	// 3. Run the engine
	trace, err := x.engine.Run(ctx, rs, wm)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, e
		}
		return nil, &Error{Kind: ErrRuleExecution, RuleSet: req.RuleSet, Err: err}
	}

	// 4. Extract the results
	facts, xerr := extract(wm, req.Extract)
	if xerr != nil {
		xerr.RuleSet = req.RuleSet
		return nil, xerr
	}

	return &ExecutionResult{
		ID:      id,
		RuleSet: rs.Name,
		Facts:   facts,
		Trace:   trace,
	}, nil
}

func extract(wm *WorkingMemory, ids []string) (map[string]Fact, *Error) {
	if len(ids) == 0 {
		ids = wm.IDs()
	}

	facts := make(map[string]Fact, len(ids))
	for _, id := range ids {
		f, ok := wm.Get(id)
		if !ok {
			return nil, &Error{Kind: ErrResultExtraction, Fact: id, Err: ErrFactNotFound}
		}
		if v, ok := f.(Validator); ok {
			if err := v.Validate(); err != nil {
				return nil, &Error{Kind: ErrResultExtraction, Fact: id, Err: err}
			}
		}
		facts[id] = f
	}
	return facts, nil
}
