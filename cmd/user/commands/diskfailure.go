package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var diskFailureCmd = &cobra.Command{
	Use:   "disk-failure <dss_name>",
	Short: "Run the failure-injection/recovery drill against a DSS",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(context.Background())
		if err != nil {
			return err
		}
		report, err := c.DiskFailure(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Println("recovered disk:", report.FailedDisk, "files rebuilt:", report.FilesRebuilt)
		return nil
	},
}
