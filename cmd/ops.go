package cmd

import (
	"github.com/ledgerops/ledger-network-runner/pkg/color"
	"github.com/ledgerops/ledger-network-runner/scenario"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newOpCommand(v *viper.Viper, op scenario.Op) *cobra.Command {
	return &cobra.Command{
		Use:   op.Name + " [key=value...]",
		Short: op.Short,
		Long:  op.Short + "\n\nKeys and defaults:\n  " + op.Usage,
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := newRunner(v)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			if err := r.ExecArgs(ctx, op.Name, args); err != nil {
				return err
			}
			color.Greenf("%s succeeded\n", op.Name)
			return nil
		},
	}
}
