package ruleswp

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// A Fact is a typed value placed in working memory, where rule conditions
// can read it and rule actions can change it.
//
// Facts are mutable in place: a rule action that sets a field changes the
// fact object the caller handed to the engine, and the caller reads the
// final values from that same object once execution is over.
type Fact interface {
	// FactID is the identity of the fact within one execution. It must be
	// a valid identifier (letters, digits and underscores, not starting
	// with a digit), since rule expressions refer to facts by their ID.
	FactID() string

	// FactType is a tag describing what kind of fact this is, for
	// example "purchase" or the document type of an XML document.
	FactType() string

	// Get returns the value of the named field.
	Get(field string) (any, bool)

	// Set changes the value of the named field.
	Set(field string, v any) error

	// Fields returns a read-only view of the fact's fields, used when
	// evaluating rule conditions. Implementations must return a new map on
	// every call.
	Fields() map[string]any
}

// Validator is implemented by facts that can check their own consistency.
// The executor validates every extracted fact before returning it.
type Validator interface {
	Validate() error
}

var identifierRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidFactID reports whether id can be used as a fact ID.
func ValidFactID(id string) bool {
	return identifierRx.MatchString(id)
}

// Record is a generic fact backed by a map of fields.
// Rule actions that assert new facts create records.
type Record struct {
	ID     string
	Type   string
	values map[string]any
}

// NewRecord creates a record fact. The fields map is copied.
func NewRecord(id, typ string, fields map[string]any) *Record {
	r := &Record{
		ID:     id,
		Type:   typ,
		values: make(map[string]any, len(fields)),
	}
	maps.Copy(r.values, fields)
	return r
}

func (r *Record) FactID() string   { return r.ID }
func (r *Record) FactType() string { return r.Type }

func (r *Record) Get(field string) (any, bool) {
	v, ok := r.values[field]
	return v, ok
}

func (r *Record) Set(field string, v any) error {
	if strings.TrimSpace(field) == "" {
		return fmt.Errorf("record %s: empty field name", r.ID)
	}
	if r.values == nil {
		r.values = map[string]any{}
	}
	r.values[field] = v
	return nil
}

func (r *Record) Fields() map[string]any {
	return maps.Clone(r.values)
}

// FactsTable renders the facts and their fields as a table.
func FactsTable(facts []Fact) string {
	tw := table.NewWriter()
	tw.SetTitle("\nFACTS\n")
	tw.AppendHeader(table.Row{"ID", "Type", "Field", "Value"})

	for _, f := range facts {
		fields := f.Fields()
		keys := slices.Sorted(maps.Keys(fields))
		if len(keys) == 0 {
			tw.AppendRow(table.Row{f.FactID(), f.FactType(), "", ""})
			continue
		}
		for i, k := range keys {
			id, typ := "", ""
			if i == 0 {
				id, typ = f.FactID(), f.FactType()
			}
			tw.AppendRow(table.Row{id, typ, k, fmt.Sprintf("%v", fields[k])})
		}
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, WidthMax: 60},
	})
	style := table.StyleLight
	style.Format.Header = text.FormatDefault
	tw.SetStyle(style)
	return tw.Render()
}

// Delete removes a field from the record.
func (r *Record) Delete(field string) {
	delete(r.values, field)
}
