package ruleswp_test

import (
	"fmt"

	"github.com/ezachrisen/ruleswp"
)

// fieldEquals is a condition matching when a field of a fact has the value.
func fieldEquals(id, field string, want any) ruleswp.Condition {
	return ruleswp.ConditionFunc(func(v ruleswp.View) (bool, error) {
		f, ok := v.Get(id)
		if !ok {
			return false, nil
		}
		got, ok := f.Get(field)
		return ok && got == want, nil
	})
}

// fieldMissing is a condition matching when a fact exists but the field is
// not set.
func fieldMissing(id, field string) ruleswp.Condition {
	return ruleswp.ConditionFunc(func(v ruleswp.View) (bool, error) {
		f, ok := v.Get(id)
		if !ok {
			return false, nil
		}
		_, ok = f.Get(field)
		return !ok, nil
	})
}

// increment is an action adding 1 to an int field.
func increment(id, field string) ruleswp.Action {
	return ruleswp.ActionFunc(func(v ruleswp.View, tx *ruleswp.Tx) error {
		f, ok := v.Get(id)
		if !ok {
			return fmt.Errorf("no fact %s", id)
		}
		n, _ := f.Get(field)
		i, _ := n.(int)
		return tx.Set(id, field, i+1)
	})
}

func mustRuleSet(name string, rules ...*ruleswp.Rule) *ruleswp.RuleSet {
	rs, err := ruleswp.NewRuleSet(name, rules...)
	if err != nil {
		panic(err)
	}
	return rs
}

func mustMemory(facts ...ruleswp.Fact) *ruleswp.WorkingMemory {
	wm, err := ruleswp.NewWorkingMemory(facts...)
	if err != nil {
		panic(err)
	}
	return wm
}
