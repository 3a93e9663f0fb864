package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var readCmd = &cobra.Command{
	Use:   "read <dss_name> <file_name> <out_path> [fault_percent]",
	Short: "Reconstruct a file from the DSS and write it to out_path",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		dssName, fileName, outPath := args[0], args[1], args[2]
		faultPercent := 0
		if len(args) == 4 {
			p, err := strconv.Atoi(args[3])
			if err != nil {
				return fmt.Errorf("fault_percent: %w", err)
			}
			faultPercent = p
		}
		ctx := context.Background()
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		return runReadInteractive(ctx, c, dssName, fileName, outPath, faultPercent)
	},
}
