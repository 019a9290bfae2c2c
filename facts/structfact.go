package facts

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// StructFact is a fact backed by a protobuf Struct. HTTP callers use it to
// supply facts beyond the document and the purchase as plain JSON objects.
type StructFact struct {
	id  string
	typ string
	s   *structpb.Struct
}

// NewStructFact creates a fact from the struct. A nil struct creates an empty
// fact.
func NewStructFact(id, typ string, s *structpb.Struct) *StructFact {
	if s == nil {
		s = &structpb.Struct{}
	}
	if s.Fields == nil {
		s.Fields = map[string]*structpb.Value{}
	}
	return &StructFact{id: id, typ: typ, s: s}
}

func (f *StructFact) FactID() string   { return f.id }
func (f *StructFact) FactType() string { return f.typ }

// Struct returns the underlying struct.
func (f *StructFact) Struct() *structpb.Struct { return f.s }

func (f *StructFact) Get(field string) (any, bool) {
	v, ok := f.s.Fields[field]
	if !ok {
		return nil, false
	}
	return v.AsInterface(), true
}

func (f *StructFact) Set(field string, v any) error {
	pv, err := structpb.NewValue(v)
	if err != nil {
		return fmt.Errorf("fact %s: field %s: %w", f.id, field, err)
	}
	f.s.Fields[field] = pv
	return nil
}

func (f *StructFact) Delete(field string) {
	delete(f.s.Fields, field)
}

func (f *StructFact) Fields() map[string]any {
	return f.s.AsMap()
}
