package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var decommissionCmd = &cobra.Command{
	Use:   "decommission <dss_name>",
	Short: "Retire a DSS, wiping its disks and freeing them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(context.Background())
		if err != nil {
			return err
		}
		if err := c.Decommission(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Println("decommissioned:", args[0])
		return nil
	},
}
