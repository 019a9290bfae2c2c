package httpapi

import (
	"github.com/ezachrisen/ruleswp"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// RuleSetResponse describes a loaded rule set.
type RuleSetResponse struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Facts       []FactResponse `json:"facts,omitempty"`

	// Rules in agenda order
	Rules []*ruleswp.Rule `json:"rules"`
}

// FactResponse describes a fact the rule set expects.
type FactResponse struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

func mapRuleSetToResponse(rs *ruleswp.RuleSet) RuleSetResponse {
	resp := RuleSetResponse{
		Name:        rs.Name,
		Description: rs.Description,
		Rules:       rs.Rules(),
	}
	for _, el := range rs.Schema.Elements {
		resp.Facts = append(resp.Facts, FactResponse{ID: el.Name, Type: el.Type.String()})
	}
	return resp
}
