package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rgranger/stripefs/internal/cli/output"
	"github.com/rgranger/stripefs/internal/wire"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List registered users, disks, and DSSes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(context.Background())
		if err != nil {
			return err
		}
		reply, err := c.Ls(context.Background())
		if err != nil {
			return err
		}
		printLsReply(os.Stdout, reply)
		return nil
	},
}

func printLsReply(w io.Writer, reply wire.LsReply) {
	users := output.NewTableData("USER", "IP", "M_PORT", "C_PORT")
	for _, u := range reply.Users {
		users.AddRow(u.UserName, u.IP, strconv.Itoa(u.MPort), strconv.Itoa(u.CPort))
	}
	fmt.Fprintln(w, "Users:")
	output.PrintTable(w, users)

	disks := output.NewTableData("DISK", "IP", "C_PORT", "STATE")
	for _, d := range reply.Disks {
		disks.AddRow(d.DiskName, d.IP, strconv.Itoa(d.CPort), d.State)
	}
	fmt.Fprintln(w, "\nDisks:")
	output.PrintTable(w, disks)

	dsses := output.NewTableData("DSS", "N", "B", "DISKS", "FILES")
	for _, dss := range reply.DSSes {
		dsses.AddRow(dss.DSSName, strconv.Itoa(dss.N), strconv.Itoa(dss.StripingUnit),
			fmt.Sprint(dss.Disks), strconv.Itoa(len(dss.Files)))
	}
	fmt.Fprintln(w, "\nDSSes:")
	output.PrintTable(w, dsses)

	fmt.Fprintln(w, "\nFree disks:", reply.FreeDisks)
}
