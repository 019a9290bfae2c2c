package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ezachrisen/ruleswp/internal/function"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	DocumentType string
	XML          string
	XMLFile      string
	Amount       int
	ZipCode      string
	Facts        []string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <rule-set>",
		Short: "Run a rule set once",
		Long: `Run a rule set against a document and a purchase, and print the
updated document and the post-tax amount.

Example:
  ruleswp run tax-v1 --xml '<doc/>' --amount 100 --zip 98101
  ruleswp run receipt-v1 --xml-file receipt.xml --amount 100 --zip 98101 \
    --fact 'customer={"member": true}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DocumentType, "doc-type", "receipt", "type of the document")
	cmd.Flags().StringVar(&opts.XML, "xml", "", "the document")
	cmd.Flags().StringVar(&opts.XMLFile, "xml-file", "", "file holding the document")
	cmd.Flags().IntVar(&opts.Amount, "amount", 0, "purchase amount")
	cmd.Flags().StringVar(&opts.ZipCode, "zip", "", "zip code of the purchase (required)")
	cmd.Flags().StringArrayVar(&opts.Facts, "fact", nil, "additional fact as id=<json object>, repeatable")
	cmd.MarkFlagsMutuallyExclusive("xml", "xml-file")
	_ = cmd.MarkFlagRequired("zip")

	return cmd
}

func runRules(opts *RunOptions, ruleSet string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	req, err := opts.request(ruleSet)
	if err != nil {
		return out.Error(ExitCommandError, err)
	}

	a, err := openApp(cmd.Context(), opts.RootOptions, cmd)
	if err != nil {
		return out.Error(ExitCommandError, err)
	}
	defer a.Close()

	res, err := a.Handler.RunRules(cmd.Context(), req)
	if err != nil {
		return out.Error(ExitFailure, err)
	}

	out.VerboseLog("execution %s fired %d rule(s)", res.ExecutionID, len(res.RulesFired))
	return out.Success(res, resultTable(res))
}

// request builds the function request from the flags.
func (o *RunOptions) request(ruleSet string) (function.Request, error) {
	req := function.Request{
		RuleSetName:    ruleSet,
		DocumentType:   o.DocumentType,
		InputXML:       o.XML,
		PurchaseAmount: o.Amount,
		ZipCode:        o.ZipCode,
	}
	if o.XMLFile != "" {
		data, err := os.ReadFile(o.XMLFile)
		if err != nil {
			return req, fmt.Errorf("reading document: %w", err)
		}
		req.InputXML = string(data)
	}

	for _, f := range o.Facts {
		id, obj, ok := strings.Cut(f, "=")
		if !ok || id == "" {
			return req, fmt.Errorf("fact '%s' must be in the form id=<json object>", f)
		}
		s := &structpb.Struct{}
		if err := protojson.Unmarshal([]byte(obj), s); err != nil {
			return req, fmt.Errorf("fact %s: %w", id, err)
		}
		if req.Facts == nil {
			req.Facts = map[string]*structpb.Struct{}
		}
		req.Facts[id] = s
	}
	return req, nil
}

func resultTable(res *function.Result) string {
	tw := table.NewWriter()
	tw.AppendRows([]table.Row{
		{"Execution", res.ExecutionID},
		{"Rules fired", strings.Join(res.RulesFired, ", ")},
		{"Post-tax amount", res.PurchaseAmountPostTax},
		{"Document", res.XMLDoc},
	})
	tw.SetStyle(table.StyleLight)
	return tw.Render()
}
