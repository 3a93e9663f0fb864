package commands

import (
	"context"

	"github.com/spf13/cobra"
)

var copyCmd = &cobra.Command{
	Use:   "copy <dss_name> <path>",
	Short: "Stripe the file at path into the DSS",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		return runCopyInteractive(ctx, c, args[0], args[1])
	},
}
