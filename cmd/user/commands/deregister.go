package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var deregisterCmd = &cobra.Command{
	Use:   "deregister",
	Short: "Deregister this user from the manager",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(context.Background())
		if err != nil {
			return err
		}
		if err := c.Deregister(context.Background()); err != nil {
			return err
		}
		fmt.Println("deregistered:", userName)
		return nil
	},
}
