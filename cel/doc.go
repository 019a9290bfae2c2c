// Package cel compiles rule set definitions into rule sets whose conditions
// and action values are written in the Common Expression Language.
//
// See https://github.com/google/cel-go and https://opensource.google/projects/cel for more information
// about CEL. The expressions you write must conform to the CEL spec: https://github.com/google/cel-spec.
//
// # Facts in Expressions
//
// Every expression can use the variable facts, a map of every fact in working
// memory keyed by fact ID. Each fact is a map of its fields:
//
//	has(facts.purchase) && facts.purchase.amount > 50
//
// The facts a definition declares in its facts section are also available as
// variables of the declared type, so the same condition can be written as
//
//	has(facts.purchase) && purchase.amount > 50
//
// A declared fact that is not in working memory is unbound; referring to it
// is an evaluation error. Guard such references with has(facts.<id>).
//
// # Action Values
//
// The value of a set action, and the fields of an assert action, are
// expressions too. They are evaluated against the facts as they were before
// the rule fired:
//
//	then:
//	  - set: purchase.tax
//	    value: double(purchase.amount) * 0.08
//
// CEL does not convert between int and double implicitly; use int() and
// double() when mixing them.
//
// # Functions
//
// Besides the standard CEL functions, the string extensions
// (https://github.com/google/cel-go/tree/master/ext#strings) and this
// function are available:
//
//	xpath(string, string) -> string
//
// xpath returns the text of the first element matching a path in an XML
// document, or an attribute value if the path ends in /@name:
//
//	xpath(doc.xml, "/doc/order/@currency") == "USD"
//
// Add your own functions with WithEnvOptions.
package cel
