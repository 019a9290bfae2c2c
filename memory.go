package ruleswp

import (
	"fmt"
	"maps"
	"slices"
)

// WorkingMemory holds the facts available to rules during one execution.
//
// Facts are kept in an arena of slots in the order they were asserted. A
// retracted fact leaves a tombstone behind, so the order of the remaining
// facts never changes. All() and Snapshot() therefore produce the same order
// for the same sequence of operations, which the engine relies on for
// deterministic execution.
//
// A WorkingMemory is owned by a single execution and is not safe for
// concurrent use.
type WorkingMemory struct {
	slots []slot
	index map[string]int

	// generation changes whenever a fact is asserted, retracted or updated.
	// Rules that fired at one generation are not eligible again until it
	// changes, or until one of the facts they read changes.
	generation uint64

	// versions holds the generation at which each fact ID last changed
	versions map[string]uint64
}

type slot struct {
	fact    Fact
	retired bool
}

// NewWorkingMemory creates a working memory holding the facts.
func NewWorkingMemory(facts ...Fact) (*WorkingMemory, error) {
	m := &WorkingMemory{
		index: make(map[string]int, len(facts)),
	}
	for _, f := range facts {
		if err := m.Assert(f); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Assert adds the fact to memory.
func (m *WorkingMemory) Assert(f Fact) error {
	if f == nil {
		return fmt.Errorf("%w: nil fact", ErrInvalidFact)
	}
	id := f.FactID()
	if !ValidFactID(id) {
		return fmt.Errorf("%w: fact ID '%s' is not a valid identifier", ErrInvalidFact, id)
	}
	if _, ok := m.index[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateFact, id)
	}
	if m.index == nil {
		m.index = map[string]int{}
	}
	m.slots = append(m.slots, slot{fact: f})
	m.index[id] = len(m.slots) - 1
	m.touch(id)
	return nil
}

// Retract removes the fact with the id from memory.
func (m *WorkingMemory) Retract(id string) error {
	i, ok := m.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFactNotFound, id)
	}
	m.slots[i] = slot{retired: true}
	delete(m.index, id)
	m.touch(id)
	return nil
}

// Update tells the memory that the fact has changed in a way that should make
// rules consider it again.
func (m *WorkingMemory) Update(id string) error {
	if _, ok := m.index[id]; !ok {
		return fmt.Errorf("%w: %s", ErrFactNotFound, id)
	}
	m.touch(id)
	return nil
}

func (m *WorkingMemory) touch(id string) {
	m.generation++
	if m.versions == nil {
		m.versions = map[string]uint64{}
	}
	m.versions[id] = m.generation
}

// Get returns the fact with the id.
func (m *WorkingMemory) Get(id string) (Fact, bool) {
	i, ok := m.index[id]
	if !ok {
		return nil, false
	}
	return m.slots[i].fact, true
}

// All returns the facts in memory in the order they were asserted.
func (m *WorkingMemory) All() []Fact {
	facts := make([]Fact, 0, len(m.index))
	for _, s := range m.slots {
		if !s.retired {
			facts = append(facts, s.fact)
		}
	}
	return facts
}

// IDs returns the IDs of the facts in memory in the order they were asserted.
func (m *WorkingMemory) IDs() []string {
	ids := make([]string, 0, len(m.index))
	for _, f := range m.All() {
		ids = append(ids, f.FactID())
	}
	return ids
}

// Len is the number of facts in memory.
func (m *WorkingMemory) Len() int {
	return len(m.index)
}

// Generation identifies the current set of asserted facts.
func (m *WorkingMemory) Generation() uint64 {
	return m.generation
}

// Version returns the generation at which the fact with the id was last
// asserted, retracted or updated, or 0 if it never was.
func (m *WorkingMemory) Version(id string) uint64 {
	return m.versions[id]
}

// Data returns the fields of every fact, keyed by fact ID.
func (m *WorkingMemory) Data() map[string]any {
	data := make(map[string]any, len(m.index))
	for _, f := range m.All() {
		data[f.FactID()] = f.Fields()
	}
	return data
}

// Snapshot returns a copy of the fields of every fact, keyed by fact ID.
func (m *WorkingMemory) Snapshot() map[string]map[string]any {
	snap := make(map[string]map[string]any, len(m.index))
	for _, f := range m.All() {
		snap[f.FactID()] = f.Fields()
	}
	return snap
}

// View is the read-only access to working memory given to conditions and
// actions. A condition must not change any fact it reads through a View.
type View interface {
	Get(id string) (Fact, bool)
	All() []Fact
	Data() map[string]any
	Generation() uint64
}

var _ View = (*WorkingMemory)(nil)

// Tx collects the changes made by the actions of one rule firing. Nothing is
// written to working memory until the engine commits the transaction, and a
// transaction whose action failed is discarded.
type Tx struct {
	mem    *WorkingMemory
	ops    []txOp
	halted bool
}

type opKind int

const (
	opSet opKind = iota
	opAssert
	opRetract
	opUpdate
)

type txOp struct {
	kind  opKind
	id    string
	field string
	value any
	fact  Fact
}

func newTx(m *WorkingMemory) *Tx {
	return &Tx{mem: m}
}

// Set stages a change to a field of a fact.
func (tx *Tx) Set(id, field string, v any) error {
	if _, ok := tx.lookup(id); !ok {
		return fmt.Errorf("setting %s.%s: %w: %s", id, field, ErrFactNotFound, id)
	}
	tx.ops = append(tx.ops, txOp{kind: opSet, id: id, field: field, value: v})
	return nil
}

// Assert stages a new fact.
func (tx *Tx) Assert(f Fact) error {
	if f == nil {
		return fmt.Errorf("%w: nil fact", ErrInvalidFact)
	}
	id := f.FactID()
	if !ValidFactID(id) {
		return fmt.Errorf("%w: fact ID '%s' is not a valid identifier", ErrInvalidFact, id)
	}
	if _, ok := tx.lookup(id); ok {
		return fmt.Errorf("%w: %s", ErrDuplicateFact, id)
	}
	tx.ops = append(tx.ops, txOp{kind: opAssert, id: id, fact: f})
	return nil
}

// Retract stages the removal of a fact.
func (tx *Tx) Retract(id string) error {
	if _, ok := tx.lookup(id); !ok {
		return fmt.Errorf("retracting: %w: %s", ErrFactNotFound, id)
	}
	tx.ops = append(tx.ops, txOp{kind: opRetract, id: id})
	return nil
}

// Update stages a re-assertion of a fact, making rules consider it again.
func (tx *Tx) Update(id string) error {
	if _, ok := tx.lookup(id); !ok {
		return fmt.Errorf("updating: %w: %s", ErrFactNotFound, id)
	}
	tx.ops = append(tx.ops, txOp{kind: opUpdate, id: id})
	return nil
}

// Halt stops the engine once this transaction has been committed.
func (tx *Tx) Halt() {
	tx.halted = true
}

// lookup finds a fact in memory or among the facts asserted in this
// transaction, ignoring facts retracted earlier in the transaction.
func (tx *Tx) lookup(id string) (Fact, bool) {
	for i := len(tx.ops) - 1; i >= 0; i-- {
		op := tx.ops[i]
		if op.id != id {
			continue
		}
		switch op.kind {
		case opRetract:
			return nil, false
		case opAssert:
			return op.fact, true
		}
	}
	return tx.mem.Get(id)
}

// commit applies the staged operations in order. If any of them fails, the
// changes already applied are rolled back, so working memory is left exactly
// as it was before the transaction.
func (tx *Tx) commit() (err error) {
	m := tx.mem
	slots := slices.Clone(m.slots)
	index := maps.Clone(m.index)
	generation := m.generation
	versions := maps.Clone(m.versions)
	var undo []func()

	defer func() {
		if err == nil {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		m.slots, m.index, m.generation, m.versions = slots, index, generation, versions
	}()

	for _, op := range tx.ops {
		switch op.kind {
		case opSet:
			f, ok := m.Get(op.id)
			if !ok {
				return fmt.Errorf("setting %s.%s: %w: %s", op.id, op.field, ErrFactNotFound, op.id)
			}
			restore, err := setField(f, op.field, op.value)
			if err != nil {
				return fmt.Errorf("setting %s.%s: %w", op.id, op.field, err)
			}
			undo = append(undo, restore)
		case opAssert:
			if err := m.Assert(op.fact); err != nil {
				return err
			}
		case opRetract:
			if err := m.Retract(op.id); err != nil {
				return err
			}
		case opUpdate:
			if err := m.Update(op.id); err != nil {
				return err
			}
		}
	}
	return nil
}

// FieldDeleter is implemented by facts whose fields can be removed. It is
// used to roll back a field that did not exist before a failed transaction.
type FieldDeleter interface {
	Delete(field string)
}

// UndoableSetter is implemented by facts where setting a field can change
// more than the field itself, for example by creating the elements on a
// path. SetWithUndo sets the field and returns a function that puts the fact
// back exactly as it was.
type UndoableSetter interface {
	SetWithUndo(field string, v any) (undo func(), err error)
}

// setField sets the field and returns the function undoing the change.
func setField(f Fact, field string, v any) (func(), error) {
	if u, ok := f.(UndoableSetter); ok {
		return u.SetWithUndo(field, v)
	}
	old, had := f.Get(field)
	if err := f.Set(field, v); err != nil {
		return nil, err
	}
	return fieldUndo{fact: f, field: field, value: old, existed: had}.restore, nil
}

type fieldUndo struct {
	fact    Fact
	field   string
	value   any
	existed bool
}

func (u fieldUndo) restore() {
	if !u.existed {
		if d, ok := u.fact.(FieldDeleter); ok {
			d.Delete(u.field)
			return
		}
	}
	_ = u.fact.Set(u.field, u.value)
}
