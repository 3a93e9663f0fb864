// Package commands implements the user binary's CLI surface: an
// interactive promptui-driven REPL plus one-shot subcommands usable for
// scripting, both thin shells over pkg/userclient.
package commands

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rgranger/stripefs/internal/logger"
	"github.com/rgranger/stripefs/pkg/config"
	"github.com/rgranger/stripefs/pkg/userclient"
)

var (
	userName        string
	managerEndpoint string
	userIP          string
	mPort           int
	cPort           int
	configFile      string
)

var rootCmd = &cobra.Command{
	Use:           "user",
	Short:         "Striped-storage user client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		return logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&userName, "user", "", "this user's registered name")
	rootCmd.PersistentFlags().StringVar(&managerEndpoint, "manager", "", "manager endpoint as ip:port")
	rootCmd.PersistentFlags().StringVar(&userIP, "ip", "127.0.0.1", "this user's advertised IP")
	rootCmd.PersistentFlags().IntVar(&mPort, "m-port", 0, "this user's management port (0 = ephemeral)")
	rootCmd.PersistentFlags().IntVar(&cPort, "c-port", 0, "this user's content-reply port (0 = ephemeral)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional tunables YAML file")

	rootCmd.AddCommand(replCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(configureCmd)
	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(diskFailureCmd)
	rootCmd.AddCommand(decommissionCmd)
	rootCmd.AddCommand(deregisterCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newClient builds and registers a userclient.Client from the persistent
// --user/--manager/--ip/--m-port/--c-port flags, shared by every one-shot
// subcommand.
func newClient(ctx context.Context) (*userclient.Client, error) {
	if userName == "" {
		return nil, fmt.Errorf("--user is required")
	}
	addr, err := parseManagerEndpoint(managerEndpoint)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	c := userclient.New(userName, userIP, mPort, cPort, addr, cfg.RPCTimeout)
	c.MaxRetries = cfg.MaxStripeRetries
	if err := c.Register(ctx); err != nil {
		return nil, fmt.Errorf("register-user: %w", err)
	}
	return c, nil
}

func parseManagerEndpoint(endpoint string) (*net.UDPAddr, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return nil, fmt.Errorf("--manager must be ip:port: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("--manager port: %w", err)
	}
	return &net.UDPAddr{IP: net.ParseIP(host), Port: port}, nil
}
