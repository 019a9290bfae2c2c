package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <file>...",
		Short: "Store rule set definitions in the configured source",
		Long: `Validate rule set definition files and store them in the configured
SQLite, PostgreSQL or Redis source. A stored definition replaces any earlier
one with the same name. Running services pick it up when their cached copy
expires (RULESWP_RULES_CACHE_TTL).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(rootOpts, cmd)

			a, err := openApp(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return out.Error(ExitCommandError, err)
			}
			defer a.Close()

			var names []string
			for _, file := range args {
				def, err := readDefinition(file)
				if err != nil {
					return out.Error(ExitFailure, fmt.Errorf("%s: %w", file, err))
				}
				if err := a.Publish(cmd.Context(), def); err != nil {
					return out.Error(ExitFailure, fmt.Errorf("%s: %w", file, err))
				}
				names = append(names, def.Name)
			}
			return out.Success(names, fmt.Sprintf("✓ published %d rule set(s)", len(names)))
		},
	}
}
