package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ezachrisen/ruleswp"
	"github.com/ezachrisen/ruleswp/cel"
)

// ValidationResult describes one validated definition file.
type ValidationResult struct {
	File    string `json:"file"`
	RuleSet string `json:"rule_set"`
	Rules   int    `json:"rules"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check rule set definition files",
		Long: `Parse and compile rule set definitions without running them.

Every condition and action expression is type-checked against the facts the
definition declares.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
}

func runValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	out := newFormatter(opts, cmd)
	compiler := cel.NewCompiler()

	var results []ValidationResult
	for _, file := range files {
		rs, err := compileFile(compiler, file)
		if err != nil {
			return out.Error(ExitFailure, fmt.Errorf("%s: %w", file, err))
		}
		out.VerboseLog("%s", rs)
		results = append(results, ValidationResult{File: file, RuleSet: rs.Name, Rules: rs.Len()})
	}

	text := ""
	for i, r := range results {
		if i > 0 {
			text += "\n"
		}
		text += fmt.Sprintf("✓ %s: rule set %s, %d rule(s)", r.File, r.RuleSet, r.Rules)
	}
	return out.Success(results, text)
}

func readDefinition(file string) (*ruleswp.Definition, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return ruleswp.ParseDefinition(data)
}

func compileFile(c ruleswp.Compiler, file string) (*ruleswp.RuleSet, error) {
	def, err := readDefinition(file)
	if err != nil {
		return nil, err
	}
	return c.Compile(def)
}
