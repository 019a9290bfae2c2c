package function

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/ezachrisen/ruleswp"
	"github.com/ezachrisen/ruleswp/cel"
	"github.com/ezachrisen/ruleswp/internal/config"
	"github.com/ezachrisen/ruleswp/internal/logger"
	"github.com/ezachrisen/ruleswp/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func newHandler(t *testing.T, opts ...ruleswp.EngineOption) (*Handler, *bytes.Buffer) {
	t.Helper()

	var logs bytes.Buffer
	log := logger.NewWithWriter(&config.AppConfig{
		Name:        "ruleswp",
		Environment: config.EnvironmentProduction,
		LogLevel:    "info",
		LogFormat:   "json",
	}, &logs)

	src, err := store.NewDirSource("testdata")
	require.NoError(t, err)

	repo, err := ruleswp.NewRepository(
		ruleswp.NewDefinitionLoader(src, cel.NewCompiler()),
		ruleswp.WithRepositoryLogger(log),
	)
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	x := ruleswp.NewExecutor(repo, ruleswp.NewEngine(opts...), ruleswp.WithExecutorLogger(log))
	return NewHandler(x), &logs
}

func TestRunRules_Tax(t *testing.T) {
	h, _ := newHandler(t)

	res, err := h.RunRules(context.Background(), Request{
		RuleSetName:    "tax-v1",
		DocumentType:   "receipt",
		InputXML:       "<doc/>",
		PurchaseAmount: 100,
		ZipCode:        "98101",
	})
	require.NoError(t, err)

	assert.Equal(t, 108, res.PurchaseAmountPostTax)
	assert.Equal(t, "<doc/>", res.XMLDoc)
	assert.Equal(t, []string{"apply-8pct-tax"}, res.RulesFired)
	assert.NotEmpty(t, res.ExecutionID)
}

func TestRunRules_ExecutionLogging(t *testing.T) {
	h, logs := newHandler(t)

	var fnLogs bytes.Buffer
	ctx := logger.WithContext(context.Background(),
		slog.New(slog.NewJSONHandler(&fnLogs, &slog.HandlerOptions{Level: slog.LevelDebug})))

	res, err := h.RunRules(ctx, Request{
		RuleSetName:    "tax-v1",
		DocumentType:   "receipt",
		InputXML:       "<doc/>",
		PurchaseAmount: 100,
		ZipCode:        "98101",
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.ExecutionID)

	// The function and the executor log the same execution ID
	var entry map[string]any
	require.NoError(t, json.Unmarshal(fnLogs.Bytes(), &entry))
	assert.Equal(t, "rules function completed", entry["msg"])
	assert.Equal(t, res.ExecutionID, entry[logger.KeyExecutionID])
	assert.Equal(t, "tax-v1", entry[logger.KeyRuleSet])

	assert.Contains(t, logs.String(), `"execution_id":"`+res.ExecutionID+`"`)
}

func TestRunRules_Deterministic(t *testing.T) {
	h, _ := newHandler(t)

	req := Request{
		RuleSetName:    "receipt-v1",
		DocumentType:   "receipt",
		InputXML:       "<receipt/>",
		PurchaseAmount: 100,
		ZipCode:        "98101",
	}

	first, err := h.RunRules(context.Background(), req)
	require.NoError(t, err)

	for range 5 {
		again, err := h.RunRules(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first.RulesFired, again.RulesFired)
		assert.Equal(t, first.XMLDoc, again.XMLDoc)
		assert.Equal(t, first.PurchaseAmountPostTax, again.PurchaseAmountPostTax)
	}
}

func TestRunRules_Receipt(t *testing.T) {
	member, err := structpb.NewStruct(map[string]any{"member": true})
	require.NoError(t, err)

	tests := []struct {
		name      string
		zip       string
		facts     map[string]*structpb.Struct
		wantFired []string
		wantTotal int
		wantXML   string
	}{
		{
			name:      "seattle",
			zip:       "98101",
			wantFired: []string{"seattle-tax", "stamp-receipt"},
			wantTotal: 110,
			wantXML:   `<receipt><tax zip="98101">10.25</tax></receipt>`,
		},
		{
			name:      "seattle member",
			zip:       "98101",
			facts:     map[string]*structpb.Struct{"customer": member},
			wantFired: []string{"seattle-tax", "member-discount", "stamp-receipt"},
			wantTotal: 105,
			wantXML:   `<receipt><tax zip="98101">5.125</tax></receipt>`,
		},
		{
			name:      "elsewhere",
			zip:       "10001",
			wantFired: []string{"default-tax", "stamp-receipt"},
			wantTotal: 107,
			wantXML:   `<receipt><tax zip="10001">6.5</tax></receipt>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newHandler(t)

			res, err := h.RunRules(context.Background(), Request{
				RuleSetName:    "receipt-v1",
				DocumentType:   "receipt",
				InputXML:       "<receipt/>",
				PurchaseAmount: 100,
				ZipCode:        tt.zip,
				Facts:          tt.facts,
			})
			require.NoError(t, err)

			assert.Equal(t, tt.wantFired, res.RulesFired)
			assert.Equal(t, tt.wantTotal, res.PurchaseAmountPostTax)
			assert.Equal(t, tt.wantXML, res.XMLDoc)
		})
	}
}

func TestRunRules_Errors(t *testing.T) {
	valid := Request{
		RuleSetName:    "tax-v1",
		DocumentType:   "receipt",
		InputXML:       "<doc/>",
		PurchaseAmount: 100,
		ZipCode:        "98101",
	}

	tests := []struct {
		name     string
		change   func(r *Request)
		wantKind error
		wantErr  error
	}{
		{
			name:     "unknown rule set",
			change:   func(r *Request) { r.RuleSetName = "does-not-exist" },
			wantKind: ruleswp.ErrRuleSetNotFound,
		},
		{
			name:     "malformed xml",
			change:   func(r *Request) { r.InputXML = "<<doc/>" },
			wantKind: ruleswp.ErrFactConstruction,
		},
		{
			name:     "negative amount",
			change:   func(r *Request) { r.PurchaseAmount = -5 },
			wantKind: ruleswp.ErrFactConstruction,
		},
		{
			name: "reserved fact id",
			change: func(r *Request) {
				r.Facts = map[string]*structpb.Struct{"purchase": {}}
			},
			wantKind: ruleswp.ErrFactConstruction,
			wantErr:  ruleswp.ErrInvalidFact,
		},
		{
			name:     "invalid fact id",
			change:   func(r *Request) { r.Facts = map[string]*structpb.Struct{"not an id": {}} },
			wantKind: ruleswp.ErrFactConstruction,
			wantErr:  ruleswp.ErrInvalidFact,
		},
		{
			name:     "runaway rule",
			change:   func(r *Request) { r.RuleSetName = "runaway" },
			wantKind: ruleswp.ErrRuleExecution,
			wantErr:  ruleswp.ErrCycleLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, logs := newHandler(t, ruleswp.MaxCycles(20))

			req := valid
			tt.change(&req)

			res, err := h.RunRules(context.Background(), req)
			require.Error(t, err)
			assert.Nil(t, res)

			var rerr *ruleswp.Error
			require.True(t, errors.As(err, &rerr))
			assert.Equal(t, tt.wantKind, rerr.Kind)
			assert.ErrorIs(t, err, tt.wantKind)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			assert.Contains(t, logs.String(), `"level":"CRITICAL"`)
		})
	}
}

func TestNewHandler_NilExecutor(t *testing.T) {
	assert.Panics(t, func() { NewHandler(nil) })
}

func TestRequestJSON(t *testing.T) {
	var req Request
	err := req.UnmarshalJSON([]byte(`{
		"rule_set_name": "receipt-v1",
		"document_type": "receipt",
		"input_xml": "<receipt/>",
		"purchase_amount": 100,
		"zip_code": "98101",
		"facts": {"customer": {"member": true, "tier": "gold"}}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "receipt-v1", req.RuleSetName)
	assert.Equal(t, 100, req.PurchaseAmount)
	require.Contains(t, req.Facts, "customer")
	assert.Equal(t, map[string]any{"member": true, "tier": "gold"}, req.Facts["customer"].AsMap())

	data, err := req.MarshalJSON()
	require.NoError(t, err)

	var back Request
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, req.ZipCode, back.ZipCode)
	assert.Equal(t, req.Facts["customer"].AsMap(), back.Facts["customer"].AsMap())

	err = req.UnmarshalJSON([]byte(`{"facts": {"customer": [1, 2]}}`))
	assert.Error(t, err)
}
