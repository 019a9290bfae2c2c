// Package ruleswp is a forward-chaining rules engine for workflow documents.
//
// Rules read and change facts held in a working memory. A fact is any value
// implementing the Fact interface: a Record, an XML document, a purchase.
// Each rule pairs a Condition with the Actions to take when the condition is
// true.
//
// Typical use is as follows:
//
//  1. Write a rule set Definition in YAML (or JSON)
//  2. Compile it into a RuleSet, for example with the cel package
//  3. Serve rule sets from a Repository, which compiles each one once
//  4. Create an Executor with the repository and an Engine
//  5. Execute a Request naming the rule set and the facts
//  6. Read the changed facts from the ExecutionResult
//
// # Execution
//
// The Engine runs in cycles. In each cycle every rule's condition is matched
// against working memory, the eligible rules are ordered into an agenda
// (highest priority first, then declaration order), and the first rule on
// the agenda fires. Its actions are collected in a Tx and applied as a unit:
// if one fails, working memory is left as it was before the rule fired.
//
// Execution ends when no rule is eligible (quiescence), when an action
// halts the engine, or with ErrCycleLimit after MaxCycles firings.
//
// A rule that has fired is not eligible again until a fact is asserted,
// retracted or updated. Setting a field is visible to later conditions but
// does not re-activate rules on its own; use an update when it should.
//
// For the same rule set and initial facts, an execution always fires the
// same rules in the same order and produces the same facts.
//
// # Rule Ownership and Concurrency
//
// Rule sets are read-only once built and are shared by every execution that
// runs them. Working memory belongs to one execution. An Engine, an Executor
// and a Repository are safe for concurrent use.
//
// # Errors
//
// Every error returned by Executor.Execute is an *Error. Its Kind is one of
// ErrRuleSetNotFound, ErrFactConstruction, ErrRuleExecution or
// ErrResultExtraction, and errors.Is matches both the kind and the cause.
package ruleswp
