// Package function implements the rules function: it turns the parameters of
// a workflow call into facts, runs a rule set against them and returns the
// updated document with the post-tax purchase amount.
package function

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/ezachrisen/ruleswp"
	"github.com/ezachrisen/ruleswp/facts"
	"github.com/ezachrisen/ruleswp/internal/logger"
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Executor runs rule sets. It is implemented by *ruleswp.Executor.
type Executor interface {
	Execute(ctx context.Context, req ruleswp.Request) (*ruleswp.ExecutionResult, error)
}

// Request holds the parameters the function is called with.
type Request struct {
	RuleSetName    string `json:"rule_set_name"`
	DocumentType   string `json:"document_type"`
	InputXML       string `json:"input_xml"`
	PurchaseAmount int    `json:"purchase_amount"`
	ZipCode        string `json:"zip_code"`

	// Additional facts, keyed by fact ID
	Facts map[string]*structpb.Struct `json:"facts,omitempty"`
}

// UnmarshalJSON decodes the request, reading the additional facts as JSON
// objects.
func (r *Request) UnmarshalJSON(data []byte) error {
	type plain Request
	var raw struct {
		plain
		Facts map[string]json.RawMessage `json:"facts,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = Request(raw.plain)
	r.Facts = nil
	for id, msg := range raw.Facts {
		s := &structpb.Struct{}
		if err := protojson.Unmarshal(msg, s); err != nil {
			return fmt.Errorf("fact %s: %w", id, err)
		}
		if r.Facts == nil {
			r.Facts = make(map[string]*structpb.Struct, len(raw.Facts))
		}
		r.Facts[id] = s
	}
	return nil
}

// MarshalJSON encodes the request, writing the additional facts as JSON
// objects.
func (r Request) MarshalJSON() ([]byte, error) {
	type plain Request
	out := struct {
		plain
		Facts map[string]json.RawMessage `json:"facts,omitempty"`
	}{plain: plain(r)}

	for id, s := range r.Facts {
		msg, err := protojson.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("fact %s: %w", id, err)
		}
		if out.Facts == nil {
			out.Facts = make(map[string]json.RawMessage, len(r.Facts))
		}
		out.Facts[id] = msg
	}
	return json.Marshal(out)
}

// Result is returned to the caller.
type Result struct {
	// The document after the rules have run
	XMLDoc string `json:"xml_doc"`

	// The purchase amount plus the sales tax computed by the rules
	PurchaseAmountPostTax int `json:"purchase_amount_post_tax"`

	// Identifies the execution in the logs
	ExecutionID string `json:"execution_id,omitempty"`

	// The rules fired, in order
	RulesFired []string `json:"rules_fired,omitempty"`
}

// Handler runs the rules function.
type Handler struct {
	executor Executor
}

// NewHandler creates a handler running rule sets on the executor.
func NewHandler(x Executor) *Handler {
	if x == nil {
		panic("function: executor cannot be nil")
	}
	return &Handler{executor: x}
}

// RunRules executes the named rule set against the document and the
// purchase:
//
//  1. Get the rule set to execute
//  2. Check that it exists
//  3. Create the XML document fact (ID "doc")
//  4. Create the purchase fact (ID "purchase") and any additional facts
//  5. Execute the rules
//  6. Return the updated document and the post-tax amount
//
// Every failure is returned as a *ruleswp.Error. The executor logs failures
// before returning them.
func (h *Handler) RunRules(ctx context.Context, req Request) (*Result, error) {
	id := uuid.NewString()
	ctx = logger.WithExecution(ctx, id, req.RuleSetName)
	log := logger.FromContext(ctx)

	constructors := []ruleswp.FactConstructor{
		func() (ruleswp.Fact, error) {
			return facts.NewXMLDocument(facts.DocumentID, req.DocumentType, req.InputXML)
		},
		func() (ruleswp.Fact, error) {
			return facts.NewPurchase(req.PurchaseAmount, req.ZipCode)
		},
	}

	// Additional facts are asserted in ID order so executions are repeatable.
	for _, id := range slices.Sorted(maps.Keys(req.Facts)) {
		s := req.Facts[id]
		constructors = append(constructors, func() (ruleswp.Fact, error) {
			if id == facts.DocumentID || id == facts.PurchaseID {
				return nil, fmt.Errorf("%w: fact ID '%s' is reserved", ruleswp.ErrInvalidFact, id)
			}
			return facts.NewStructFact(id, "struct", s), nil
		})
	}

	res, err := h.executor.Execute(ctx, ruleswp.Request{
		ID:      id,
		RuleSet: req.RuleSetName,
		Facts:   constructors,
		Extract: []string{facts.DocumentID, facts.PurchaseID},
	})
	if err != nil {
		return nil, err
	}

	doc, ok := res.Facts[facts.DocumentID].(*facts.XMLDocument)
	if !ok {
		return nil, extractionError(req.RuleSetName, facts.DocumentID, res.Facts[facts.DocumentID])
	}
	purchase, ok := res.Facts[facts.PurchaseID].(*facts.Purchase)
	if !ok {
		return nil, extractionError(req.RuleSetName, facts.PurchaseID, res.Facts[facts.PurchaseID])
	}

	log.Debug("rules function completed",
		slog.Int("purchase_amount_post_tax", purchase.PostTaxTotal()),
	)

	return &Result{
		XMLDoc:                doc.String(),
		PurchaseAmountPostTax: purchase.PostTaxTotal(),
		ExecutionID:           res.ID,
		RulesFired:            res.Trace.FiredRules(),
	}, nil
}

// extractionError reports a fact that rules replaced with one of another type.
func extractionError(ruleSet, id string, f ruleswp.Fact) error {
	return &ruleswp.Error{
		Kind:    ruleswp.ErrResultExtraction,
		RuleSet: ruleSet,
		Fact:    id,
		Err:     fmt.Errorf("unexpected fact type %T", f),
	}
}
