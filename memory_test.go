package ruleswp_test

import (
	"errors"
	"testing"

	"github.com/ezachrisen/ruleswp"
	"github.com/google/go-cmp/cmp"
	"github.com/matryer/is"
)

func TestWorkingMemory(t *testing.T) {
	is := is.New(t)

	wm := mustMemory(
		ruleswp.NewRecord("a", "thing", map[string]any{"n": 1}),
		ruleswp.NewRecord("b", "thing", nil),
	)
	is.Equal(wm.Len(), 2)
	is.Equal(wm.Generation(), uint64(2))
	is.Equal(wm.Version("a"), uint64(1))
	is.Equal(wm.Version("b"), uint64(2))

	err := wm.Assert(ruleswp.NewRecord("a", "thing", nil))
	is.True(errors.Is(err, ruleswp.ErrDuplicateFact))

	err = wm.Assert(ruleswp.NewRecord("1a", "thing", nil))
	is.True(errors.Is(err, ruleswp.ErrInvalidFact))

	err = wm.Assert(nil)
	is.True(errors.Is(err, ruleswp.ErrInvalidFact))

	is.NoErr(wm.Retract("a"))
	is.Equal(wm.Generation(), uint64(3))
	is.Equal(wm.Version("a"), uint64(3))
	_, ok := wm.Get("a")
	is.True(!ok)
	is.True(errors.Is(wm.Retract("a"), ruleswp.ErrFactNotFound))

	is.NoErr(wm.Update("b"))
	is.Equal(wm.Generation(), uint64(4))
	is.Equal(wm.Version("b"), uint64(4))
	is.Equal(wm.Version("a"), uint64(3))
	is.True(errors.Is(wm.Update("a"), ruleswp.ErrFactNotFound))

	// A retracted ID can be asserted again; it goes to the end
	is.NoErr(wm.Assert(ruleswp.NewRecord("c", "thing", nil)))
	is.NoErr(wm.Assert(ruleswp.NewRecord("a", "thing", map[string]any{"n": 2})))
	is.Equal(wm.IDs(), []string{"b", "c", "a"})

	want := map[string]map[string]any{
		"a": {"n": 2},
		"b": {},
		"c": {},
	}
	if diff := cmp.Diff(want, wm.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestWorkingMemory_DataIsACopy(t *testing.T) {
	is := is.New(t)

	rec := ruleswp.NewRecord("a", "thing", map[string]any{"n": 1})
	wm := mustMemory(rec)

	data := wm.Data()
	data["a"].(map[string]any)["n"] = 99

	n, _ := rec.Get("n")
	is.Equal(n, 1)
}

func TestValidFactID(t *testing.T) {
	is := is.New(t)

	for _, id := range []string{"purchase", "doc", "_x", "a1_b2"} {
		is.True(ruleswp.ValidFactID(id))
	}
	for _, id := range []string{"", "1a", "a-b", "a.b", "a b"} {
		is.True(!ruleswp.ValidFactID(id))
	}
}

func TestFactsTable(t *testing.T) {
	is := is.New(t)

	s := ruleswp.FactsTable([]ruleswp.Fact{
		ruleswp.NewRecord("purchase", "purchase", map[string]any{"amount": 100, "zip_code": "98101"}),
		ruleswp.NewRecord("empty", "record", nil),
	})
	for _, want := range []string{"FACTS", "purchase", "amount", "98101", "empty"} {
		is.True(contains(s, want))
	}
}
