package cli

import (
	"github.com/spf13/cobra"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <rule-set>",
		Short: "Print a rule set in agenda order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)

			a, err := openApp(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return out.Error(ExitCommandError, err)
			}
			defer a.Close()

			rs, err := a.Repository.RuleSet(cmd.Context(), args[0])
			if err != nil {
				return out.Error(ExitFailure, err)
			}
			return out.Success(rs.Rules(), rs.String())
		},
	}
}
