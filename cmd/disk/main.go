package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rgranger/stripefs/internal/logger"
	"github.com/rgranger/stripefs/pkg/config"
	"github.com/rgranger/stripefs/pkg/diskstore"
	"github.com/rgranger/stripefs/pkg/metrics"
)

var (
	metricsPort int
	configFile  string
)

var rootCmd = &cobra.Command{
	Use:   "disk",
	Short: "Run a striped-storage disk node",
}

var serveCmd = &cobra.Command{
	Use:   "serve <disk_name> <manager_ip> <manager_port> <m_port> <c_port>",
	Short: "Register with the manager and serve block requests on c_port",
	Args:  cobra.ExactArgs(5),
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "serve Prometheus /metrics on this port (0 disables)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional tunables YAML file")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	diskName := args[0]
	managerIP := args[1]
	managerPort, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("invalid manager_port %q: %w", args[2], err)
	}
	mPort, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("invalid m_port %q: %w", args[3], err)
	}
	cPort, err := strconv.Atoi(args[4])
	if err != nil {
		return fmt.Errorf("invalid c_port %q: %w", args[4], err)
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if metricsPort == 0 {
		metricsPort = cfg.MetricsPort
	}
	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if metricsPort != 0 {
		metrics.InitRegistry()
	}

	managerAddr := &net.UDPAddr{IP: net.ParseIP(managerIP), Port: managerPort}
	localIP := resolveLocalIP(managerAddr)
	d := diskstore.New(diskName, localIP, mPort, cPort, managerAddr, cfg.RPCTimeout)

	if metricsPort != 0 {
		go serveMetrics(metricsPort)
	}

	serverDone := make(chan error, 1)
	go func() { serverDone <- d.Serve(ctx) }()

	if err := d.Register(ctx); err != nil {
		cancel()
		return fmt.Errorf("register-disk: %w", err)
	}
	logger.Info("disk serving", "disk", diskName, "ip", localIP, "m_port", mPort, "c_port", cPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
		cancel()
		d.Stop()
		<-serverDone
	case err := <-serverDone:
		if err != nil {
			return err
		}
	}
	return nil
}

// resolveLocalIP picks the local address used to reach the manager, so the
// disk advertises a routable IP rather than a hardcoded loopback address.
func resolveLocalIP(managerAddr *net.UDPAddr) string {
	conn, err := net.DialUDP("udp", nil, managerAddr)
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", port)
	logger.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
