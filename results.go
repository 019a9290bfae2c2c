package ruleswp

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Trace records what the engine did during one execution.
type Trace struct {
	// The rule set executed
	RuleSet string

	// The rules fired, in the order they fired
	Firings []Firing

	// Number of cycles completed (equal to the number of rules fired)
	Cycles int

	// Whether a rule action halted the engine before quiescence
	Halted bool

	// How long the execution took
	Duration time.Duration
}

// Firing describes one rule firing.
type Firing struct {
	// The cycle in which the rule fired, starting at 1
	Cycle int

	// The rule that fired
	RuleID string

	// All the rules that were eligible to fire in this cycle, in agenda
	// order. The first one is the rule that fired.
	Agenda []string
}

// FiredRules returns the IDs of the rules fired, in firing order.
func (t *Trace) FiredRules() []string {
	if t == nil {
		return nil
	}
	ids := make([]string, len(t.Firings))
	for i, f := range t.Firings {
		ids[i] = f.RuleID
	}
	return ids
}

// String produces a table of the rules fired during the execution.
func (t *Trace) String() string {
	tw := table.NewWriter()
	tw.SetTitle("\nEXECUTION TRACE " + t.RuleSet + "\n")
	tw.AppendHeader(table.Row{"Cycle", "Rule Fired", "Agenda"})

	for _, f := range t.Firings {
		tw.AppendRow(table.Row{f.Cycle, f.RuleID, strings.Join(f.Agenda, ", ")})
	}

	status := "quiescent"
	if t.Halted {
		status = "halted"
	}
	tw.AppendFooter(table.Row{"", status, fmt.Sprintf("%s rules fired in %s", humanize.Comma(int64(len(t.Firings))), t.Duration)})

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, WidthMax: 50},
	})
	style := table.StyleLight
	style.Format.Header = text.FormatDefault
	style.Format.Footer = text.FormatDefault
	tw.SetStyle(style)
	return tw.Render()
}
