package ruleswp_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ezachrisen/ruleswp"
	"github.com/ezachrisen/ruleswp/facts"
	"github.com/google/go-cmp/cmp"
	"github.com/matryer/is"
	"go.uber.org/goleak"
)

func contains(s, sub string) bool { return strings.Contains(s, sub) }

func TestEngine_AgendaOrder(t *testing.T) {
	defer goleak.VerifyNone(t)
	is := is.New(t)

	// All rules match at once; priority decides, then declaration order
	rs := mustRuleSet("order",
		&ruleswp.Rule{ID: "low", Priority: -1, Condition: ruleswp.Always},
		&ruleswp.Rule{ID: "first", Condition: ruleswp.Always},
		&ruleswp.Rule{ID: "high", Priority: 10, Condition: ruleswp.Always},
		&ruleswp.Rule{ID: "second", Condition: ruleswp.Always},
	)

	ids := make([]string, 0, rs.Len())
	for _, r := range rs.Rules() {
		ids = append(ids, r.ID)
	}
	is.Equal(ids, []string{"high", "first", "second", "low"})

	trace, err := ruleswp.NewEngine().Run(context.Background(), rs, mustMemory())
	is.NoErr(err)
	is.Equal(trace.FiredRules(), []string{"high", "first", "second", "low"})
	is.Equal(trace.Cycles, 4)
	is.True(!trace.Halted)
	is.Equal(trace.Firings[0].Agenda, []string{"high", "first", "second", "low"})
	is.Equal(trace.Firings[3].Agenda, []string{"low"})
}

func TestEngine_NoRules(t *testing.T) {
	is := is.New(t)

	rs := mustRuleSet("empty")
	wm := mustMemory(ruleswp.NewRecord("a", "thing", map[string]any{"n": 1}))

	trace, err := ruleswp.NewEngine().Run(context.Background(), rs, wm)
	is.NoErr(err)
	is.Equal(len(trace.Firings), 0)
	is.Equal(trace.Cycles, 0)
	is.Equal(wm.Snapshot(), map[string]map[string]any{"a": {"n": 1}})
}

func TestEngine_Chaining(t *testing.T) {
	is := is.New(t)

	// step1 sets a field, step2 reads it and asserts a fact, step3 reacts to
	// the new fact
	rs := mustRuleSet("chain",
		&ruleswp.Rule{
			ID:        "step3",
			Condition: ruleswp.Exists("done"),
			Actions:   []ruleswp.Action{ruleswp.SetField("order", "status", "closed")},
		},
		&ruleswp.Rule{
			ID:        "step2",
			Condition: fieldEquals("order", "status", "paid"),
			Actions: []ruleswp.Action{
				ruleswp.ActionFunc(func(_ ruleswp.View, tx *ruleswp.Tx) error {
					return tx.Assert(ruleswp.NewRecord("done", "marker", nil))
				}),
			},
		},
		&ruleswp.Rule{
			ID:        "step1",
			Condition: fieldEquals("order", "status", "new"),
			Actions:   []ruleswp.Action{ruleswp.SetField("order", "status", "paid")},
		},
	)

	wm := mustMemory(ruleswp.NewRecord("order", "order", map[string]any{"status": "new"}))
	trace, err := ruleswp.NewEngine().Run(context.Background(), rs, wm)
	is.NoErr(err)
	is.Equal(trace.FiredRules(), []string{"step1", "step2", "step3"})

	order, _ := wm.Get("order")
	status, _ := order.Get("status")
	is.Equal(status, "closed")
}

func TestEngine_Deterministic(t *testing.T) {
	is := is.New(t)

	build := func() *ruleswp.RuleSet {
		var rules []*ruleswp.Rule
		for i := range 20 {
			rules = append(rules, &ruleswp.Rule{
				ID:        fmt.Sprintf("r%02d", i),
				Priority:  i % 3,
				Condition: fieldMissing("counter", fmt.Sprintf("seen%02d", i)),
				Actions: []ruleswp.Action{
					ruleswp.SetField("counter", fmt.Sprintf("seen%02d", i), true),
					increment("counter", "n"),
				},
			})
		}
		return mustRuleSet("determinism", rules...)
	}

	var first *ruleswp.Trace
	var firstSnap map[string]map[string]any
	for i := range 10 {
		wm := mustMemory(ruleswp.NewRecord("counter", "counter", map[string]any{"n": 0}))
		trace, err := ruleswp.NewEngine().Run(context.Background(), build(), wm)
		is.NoErr(err)
		if i == 0 {
			first, firstSnap = trace, wm.Snapshot()
			continue
		}
		is.Equal(trace.FiredRules(), first.FiredRules())
		if diff := cmp.Diff(firstSnap, wm.Snapshot()); diff != "" {
			t.Fatalf("run %d differs (-first +got):\n%s", i, diff)
		}
	}
	is.Equal(len(first.Firings), 20)
	is.Equal(firstSnap["counter"]["n"], 20)
}

func TestEngine_Refraction(t *testing.T) {
	is := is.New(t)

	// Setting a field does not make the rule eligible again
	rs := mustRuleSet("once",
		&ruleswp.Rule{
			ID:        "bump",
			Condition: ruleswp.Exists("counter"),
			Actions:   []ruleswp.Action{increment("counter", "n")},
		},
	)
	wm := mustMemory(ruleswp.NewRecord("counter", "counter", map[string]any{"n": 0}))
	trace, err := ruleswp.NewEngine().Run(context.Background(), rs, wm)
	is.NoErr(err)
	is.Equal(trace.FiredRules(), []string{"bump"})

	// Updating the fact does, until the condition is false
	rs = mustRuleSet("loop",
		&ruleswp.Rule{
			ID: "bump",
			Condition: ruleswp.ConditionFunc(func(v ruleswp.View) (bool, error) {
				f, _ := v.Get("counter")
				n, _ := f.Get("n")
				return n.(int) < 5, nil
			}),
			Actions: []ruleswp.Action{increment("counter", "n"), ruleswp.UpdateFact("counter")},
		},
	)
	wm = mustMemory(ruleswp.NewRecord("counter", "counter", map[string]any{"n": 0}))
	trace, err = ruleswp.NewEngine().Run(context.Background(), rs, wm)
	is.NoErr(err)
	is.Equal(len(trace.Firings), 5)
	counter, _ := wm.Get("counter")
	n, _ := counter.Get("n")
	is.Equal(n, 5)
}

func TestEngine_RefractionByFact(t *testing.T) {
	is := is.New(t)

	note := ruleswp.ConditionFunc(func(v ruleswp.View) (bool, error) {
		_, ok := v.Get("note")
		return !ok, nil
	})
	addNote := ruleswp.AssertFact(ruleswp.NewRecord("note", "note", nil))

	// bump names the fact it reads, so asserting note leaves it refracted
	rs := mustRuleSet("by-fact",
		&ruleswp.Rule{ID: "bump", Priority: 1, Condition: ruleswp.Exists("counter"), Actions: []ruleswp.Action{increment("counter", "n")}},
		&ruleswp.Rule{ID: "note", Condition: note, Actions: []ruleswp.Action{addNote}},
	)
	wm := mustMemory(ruleswp.NewRecord("counter", "counter", map[string]any{"n": 0}))
	trace, err := ruleswp.NewEngine().Run(context.Background(), rs, wm)
	is.NoErr(err)
	is.Equal(trace.FiredRules(), []string{"bump", "note"})
	is.Equal(wm.Snapshot()["counter"]["n"], 1)
	is.True(wm.Version("note") > wm.Version("counter"))

	// A condition that cannot name its facts is eligible again after any
	// assert
	counter := ruleswp.ConditionFunc(func(v ruleswp.View) (bool, error) {
		_, ok := v.Get("counter")
		return ok, nil
	})
	rs = mustRuleSet("any-change",
		&ruleswp.Rule{ID: "bump", Priority: 1, Condition: counter, Actions: []ruleswp.Action{increment("counter", "n")}},
		&ruleswp.Rule{ID: "note", Condition: note, Actions: []ruleswp.Action{addNote}},
	)
	wm = mustMemory(ruleswp.NewRecord("counter", "counter", map[string]any{"n": 0}))
	trace, err = ruleswp.NewEngine().Run(context.Background(), rs, wm)
	is.NoErr(err)
	is.Equal(trace.FiredRules(), []string{"bump", "note", "bump"})
	is.Equal(wm.Snapshot()["counter"]["n"], 2)
}

func TestEngine_CycleLimit(t *testing.T) {
	is := is.New(t)

	rs := mustRuleSet("runaway",
		&ruleswp.Rule{
			ID:        "forever",
			Condition: ruleswp.Always,
			Actions:   []ruleswp.Action{increment("counter", "n"), ruleswp.UpdateFact("counter")},
		},
	)
	wm := mustMemory(ruleswp.NewRecord("counter", "counter", map[string]any{"n": 0}))

	trace, err := ruleswp.NewEngine(ruleswp.MaxCycles(50)).Run(context.Background(), rs, wm)
	is.True(errors.Is(err, ruleswp.ErrRuleExecution))
	is.True(errors.Is(err, ruleswp.ErrCycleLimit))
	is.Equal(len(trace.Firings), 50)

	var e *ruleswp.Error
	is.True(errors.As(err, &e))
	is.Equal(e.Rule, "forever")
	is.Equal(e.RuleSet, "runaway")

	// Exactly at the limit is fine
	rs = mustRuleSet("bounded",
		&ruleswp.Rule{
			ID: "bump",
			Condition: ruleswp.ConditionFunc(func(v ruleswp.View) (bool, error) {
				f, _ := v.Get("counter")
				n, _ := f.Get("n")
				return n.(int) < 3, nil
			}),
			Actions: []ruleswp.Action{increment("counter", "n"), ruleswp.UpdateFact("counter")},
		},
	)
	wm = mustMemory(ruleswp.NewRecord("counter", "counter", map[string]any{"n": 0}))
	_, err = ruleswp.NewEngine(ruleswp.MaxCycles(3)).Run(context.Background(), rs, wm)
	is.NoErr(err)
}

func TestEngine_DefaultOptions(t *testing.T) {
	is := is.New(t)
	is.Equal(ruleswp.NewEngine().Options().MaxCycles, ruleswp.DefaultMaxCycles)
	is.Equal(ruleswp.NewEngine(ruleswp.MaxCycles(0)).Options().MaxCycles, ruleswp.DefaultMaxCycles)
	is.Equal(ruleswp.NewEngine(ruleswp.MaxCycles(7)).Options().MaxCycles, 7)
}

func TestEngine_Halt(t *testing.T) {
	is := is.New(t)

	rs := mustRuleSet("halt",
		&ruleswp.Rule{ID: "stop", Priority: 1, Condition: ruleswp.Always, Actions: []ruleswp.Action{ruleswp.Halt()}},
		&ruleswp.Rule{ID: "never", Condition: ruleswp.Always},
	)
	trace, err := ruleswp.NewEngine().Run(context.Background(), rs, mustMemory())
	is.NoErr(err)
	is.True(trace.Halted)
	is.Equal(trace.FiredRules(), []string{"stop"})
}

func TestEngine_Rollback(t *testing.T) {
	is := is.New(t)

	// The second set fails when committed (empty field name); the first set,
	// the new field and the assert must be undone
	rs := mustRuleSet("rollback",
		&ruleswp.Rule{
			ID:        "broken",
			Condition: ruleswp.Always,
			Actions: []ruleswp.Action{
				ruleswp.SetField("a", "n", 2),
				ruleswp.SetField("a", "added", true),
				ruleswp.AssertFact(ruleswp.NewRecord("b", "thing", nil)),
				ruleswp.RetractFact("c"),
				ruleswp.SetField("a", " ", 3),
			},
		},
	)
	wm := mustMemory(
		ruleswp.NewRecord("a", "thing", map[string]any{"n": 1}),
		ruleswp.NewRecord("c", "thing", nil),
	)
	before := wm.Snapshot()
	generation := wm.Generation()
	version := wm.Version("c")

	_, err := ruleswp.NewEngine().Run(context.Background(), rs, wm)
	is.True(errors.Is(err, ruleswp.ErrRuleExecution))

	if diff := cmp.Diff(before, wm.Snapshot()); diff != "" {
		t.Errorf("memory changed (-before +after):\n%s", diff)
	}
	is.Equal(wm.IDs(), []string{"a", "c"})
	is.Equal(wm.Generation(), generation)
	is.Equal(wm.Version("c"), version)
	is.Equal(wm.Version("b"), uint64(0))
}

func TestEngine_RollbackDocument(t *testing.T) {
	is := is.New(t)

	// The path set creates <order> and <total>; the failing purchase set must
	// leave the document as it was, without the created elements
	rs := mustRuleSet("rollback-doc",
		&ruleswp.Rule{
			ID:        "broken",
			Condition: ruleswp.Always,
			Actions: []ruleswp.Action{
				ruleswp.SetField(facts.DocumentID, "order/total", "5"),
				ruleswp.SetField(facts.DocumentID, "@state", "done"),
				ruleswp.SetField(facts.PurchaseID, facts.FieldAmount, 1.5),
			},
		},
	)
	doc, err := facts.NewXMLDocument(facts.DocumentID, "receipt", "<doc/>")
	is.NoErr(err)
	purchase, err := facts.NewPurchase(100, "98101")
	is.NoErr(err)
	wm := mustMemory(doc, purchase)

	_, err = ruleswp.NewEngine().Run(context.Background(), rs, wm)
	is.True(errors.Is(err, ruleswp.ErrRuleExecution))
	is.Equal(doc.String(), "<doc/>")

	is.Equal(purchase.Amount, 100)
}

func TestEngine_ActionError(t *testing.T) {
	is := is.New(t)

	rs := mustRuleSet("bad-action",
		&ruleswp.Rule{
			ID:        "set-missing",
			Condition: ruleswp.Always,
			Actions:   []ruleswp.Action{ruleswp.SetField("nope", "x", 1)},
		},
	)
	_, err := ruleswp.NewEngine().Run(context.Background(), rs, mustMemory())
	is.True(errors.Is(err, ruleswp.ErrRuleExecution))
	is.True(errors.Is(err, ruleswp.ErrFactNotFound))
	is.Equal(ruleswp.KindOf(err), ruleswp.ErrRuleExecution)
}

func TestEngine_ConditionError(t *testing.T) {
	is := is.New(t)

	boom := errors.New("boom")
	rs := mustRuleSet("bad-condition",
		&ruleswp.Rule{
			ID:        "explode",
			Condition: ruleswp.ConditionFunc(func(ruleswp.View) (bool, error) { return false, boom }),
		},
	)
	_, err := ruleswp.NewEngine().Run(context.Background(), rs, mustMemory())
	is.True(errors.Is(err, boom))
	is.True(errors.Is(err, ruleswp.ErrRuleExecution))

	var e *ruleswp.Error
	is.True(errors.As(err, &e))
	is.Equal(e.Rule, "explode")
}

func TestEngine_ContextCanceled(t *testing.T) {
	is := is.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	rs := mustRuleSet("cancel",
		&ruleswp.Rule{
			ID:        "cancel",
			Condition: ruleswp.Always,
			Actions: []ruleswp.Action{
				ruleswp.ActionFunc(func(_ ruleswp.View, tx *ruleswp.Tx) error {
					cancel()
					return tx.Update("counter")
				}),
			},
		},
	)
	wm := mustMemory(ruleswp.NewRecord("counter", "counter", nil))

	trace, err := ruleswp.NewEngine().Run(ctx, rs, wm)
	is.True(errors.Is(err, context.Canceled))
	is.True(errors.Is(err, ruleswp.ErrRuleExecution))
	is.Equal(len(trace.Firings), 1)
}

func TestEngine_InvalidArguments(t *testing.T) {
	is := is.New(t)

	_, err := ruleswp.NewEngine().Run(context.Background(), nil, mustMemory())
	is.True(errors.Is(err, ruleswp.ErrInvalidRuleSet))

	_, err = ruleswp.NewEngine().Run(context.Background(), mustRuleSet("x"), nil)
	is.True(errors.Is(err, ruleswp.ErrRuleExecution))
}

func TestNewRuleSet_Errors(t *testing.T) {
	is := is.New(t)

	tests := map[string]struct {
		name  string
		rules []*ruleswp.Rule
	}{
		"no name":      {name: " ", rules: nil},
		"nil rule":     {name: "x", rules: []*ruleswp.Rule{nil}},
		"no id":        {name: "x", rules: []*ruleswp.Rule{{Condition: ruleswp.Always}}},
		"no condition": {name: "x", rules: []*ruleswp.Rule{{ID: "a"}}},
		"duplicate": {name: "x", rules: []*ruleswp.Rule{
			{ID: "a", Condition: ruleswp.Always},
			{ID: "a", Condition: ruleswp.Always},
		}},
	}

	for name, tc := range tests {
		_, err := ruleswp.NewRuleSet(tc.name, tc.rules...)
		if !errors.Is(err, ruleswp.ErrInvalidRuleSet) {
			t.Errorf("%s: expected ErrInvalidRuleSet, got %v", name, err)
		}
	}

	// The rule set keeps its own copy of the rules
	r := &ruleswp.Rule{ID: "a", Condition: ruleswp.Always}
	rs := mustRuleSet("copy", r)
	r.Priority = 100
	got, ok := rs.Rule("a")
	is.True(ok)
	is.Equal(got.Priority, 0)
	_, ok = rs.Rule("b")
	is.True(!ok)

	s := rs.String()
	is.True(contains(s, "RULE SET copy"))
}
