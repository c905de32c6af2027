package cmd

import (
	"github.com/ledgerops/ledger-network-runner/pkg/color"
	"github.com/ledgerops/ledger-network-runner/scenario"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newScenarioCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Run scenarios made of operations.",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "run <file|builtin>",
			Short: "Run a scenario file or a builtin scenario.",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runScenario(v, args[0])
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List the builtin scenarios.",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				for _, name := range scenario.BuiltinNames() {
					s, _ := scenario.Builtin(name)
					color.Outf("{{cyan}}%s{{/}} (%d steps)\n", name, len(s.Steps))
				}
			},
		},
	)
	return cmd
}

func runScenario(v *viper.Viper, nameOrPath string) error {
	s, err := scenario.LoadFile(nameOrPath)
	if err != nil {
		return err
	}
	r, err := newRunner(v)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	report, err := r.Run(ctx, s)
	if report != nil {
		report.Log(log)
		for _, step := range report.Steps {
			if step.Err != nil {
				color.Redf("✗ %d %s (%s)\n", step.Index, step.Step, step.Elapsed)
				continue
			}
			color.Greenf("✓ %d %s (%s)\n", step.Index, step.Step, step.Elapsed)
		}
		for _, f := range report.Faults {
			color.Outf("node %d faulty: %s\n", f.NodeID, color.Bool(f.Faulty))
		}
	}
	return err
}
