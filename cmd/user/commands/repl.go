package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rgranger/stripefs/internal/cli/prompt"
	"github.com/rgranger/stripefs/pkg/config"
	"github.com/rgranger/stripefs/pkg/userclient"
)

var replCmd = &cobra.Command{
	Use:   "repl <user_name> <manager_ip> <manager_port> <m_port> <c_port>",
	Short: "Interactive shell: ls, configure, copy, read, disk-failure, decommission, deregister, quit",
	Args:  cobra.ExactArgs(5),
	RunE:  runRepl,
}

var replVerbs = []string{"ls", "configure", "copy", "read", "disk-failure", "decommission", "deregister", "quit"}

func runRepl(cmd *cobra.Command, args []string) error {
	name, ip := args[0], args[1]
	mgrPort, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("manager_port: %w", err)
	}
	thisM, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("m_port: %w", err)
	}
	thisC, err := strconv.Atoi(args[4])
	if err != nil {
		return fmt.Errorf("c_port: %w", err)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	managerAddr := &net.UDPAddr{IP: net.ParseIP(ip), Port: mgrPort}
	c := userclient.New(name, ip, thisM, thisC, managerAddr, cfg.RPCTimeout)
	c.MaxRetries = cfg.MaxStripeRetries

	ctx := context.Background()
	if err := c.Register(ctx); err != nil {
		return fmt.Errorf("register-user: %w", err)
	}
	fmt.Printf("registered as %q against manager %s:%d\n", name, ip, mgrPort)

	for {
		verb, err := prompt.SelectString("command", replVerbs)
		if err != nil {
			if prompt.IsAborted(err) {
				return nil
			}
			return err
		}
		if verb == "quit" {
			return nil
		}
		if err := dispatchReplVerb(ctx, c, verb); err != nil {
			if errors.Is(err, prompt.ErrAborted) {
				continue
			}
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}

func dispatchReplVerb(ctx context.Context, c *userclient.Client, verb string) error {
	switch verb {
	case "ls":
		reply, err := c.Ls(ctx)
		if err != nil {
			return err
		}
		printLsReply(os.Stdout, reply)
		return nil

	case "configure":
		dss, err := prompt.InputRequired("dss_name")
		if err != nil {
			return err
		}
		n, err := prompt.InputInt("n", 3)
		if err != nil {
			return err
		}
		b, err := prompt.InputInt("striping_unit", 128)
		if err != nil {
			return err
		}
		disks, err := c.Configure(ctx, dss, n, b)
		if err != nil {
			return err
		}
		fmt.Println("dss configured:", dss, "disks:", disks)
		return nil

	case "copy":
		dss, err := prompt.InputRequired("dss_name")
		if err != nil {
			return err
		}
		path, err := prompt.InputRequired("path")
		if err != nil {
			return err
		}
		return runCopyInteractive(ctx, c, dss, path)

	case "read":
		dss, err := prompt.InputRequired("dss_name")
		if err != nil {
			return err
		}
		file, err := prompt.InputRequired("file_name")
		if err != nil {
			return err
		}
		out, err := prompt.InputRequired("out_path")
		if err != nil {
			return err
		}
		p, err := prompt.InputInt("fault_percent", 0)
		if err != nil {
			return err
		}
		return runReadInteractive(ctx, c, dss, file, out, p)

	case "disk-failure":
		dss, err := prompt.InputRequired("dss_name")
		if err != nil {
			return err
		}
		report, err := c.DiskFailure(ctx, dss)
		if err != nil {
			return err
		}
		fmt.Println("recovered disk:", report.FailedDisk, "files rebuilt:", report.FilesRebuilt)
		return nil

	case "decommission":
		dss, err := prompt.InputRequired("dss_name")
		if err != nil {
			return err
		}
		if err := c.Decommission(ctx, dss); err != nil {
			return err
		}
		fmt.Println("decommissioned:", dss)
		return nil

	case "deregister":
		if err := c.Deregister(ctx); err != nil {
			return err
		}
		fmt.Println("deregistered")
		return nil
	}
	return fmt.Errorf("unknown verb %q", verb)
}
