package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) newPollerCmd() *cobra.Command {
	pollerCmd := &cobra.Command{
		Use:   "poller",
		Short: "Push configuration to a poller",
	}

	steps := []struct {
		use   string
		short string
		done  string
		op    func(s *session) func(context.Context, string) error
	}{
		{"generate", "Generate the configuration files", "generated", func(s *session) func(context.Context, string) error { return s.client.ConfigGenerate }},
		{"move", "Move the generated files to the poller", "moved", func(s *session) func(context.Context, string) error { return s.client.ConfigMove }},
		{"reload", "Reload the monitoring engine", "reloaded", func(s *session) func(context.Context, string) error { return s.client.ConfigReload }},
		{"apply", "Generate, move and reload, stopping at the first failure", "applied", func(s *session) func(context.Context, string) error { return s.client.ConfigApply }},
	}

	for _, step := range steps {
		step := step
		pollerCmd.AddCommand(&cobra.Command{
			Use:   step.use + " POLLER",
			Short: step.short,
			Args:  cobra.MatchAll(cobra.ExactArgs(1), fieldArgs("poller")),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(cmd, fmt.Sprintf("configuration %s on %s", step.done, args[0]), func(ctx context.Context, s *session) error {
					return step.op(s)(ctx, args[0])
				})
			},
		})
	}
	return pollerCmd
}
