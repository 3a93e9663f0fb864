package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var configureCmd = &cobra.Command{
	Use:   "configure <dss_name> <n> <striping_unit>",
	Short: "Create a new DSS from the currently Free disks",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("n: %w", err)
		}
		b, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("striping_unit: %w", err)
		}
		c, err := newClient(context.Background())
		if err != nil {
			return err
		}
		disks, err := c.Configure(context.Background(), args[0], n, b)
		if err != nil {
			return err
		}
		fmt.Println("dss configured:", args[0], "disks:", disks)
		return nil
	},
}
