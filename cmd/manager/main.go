package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rgranger/stripefs/internal/logger"
	"github.com/rgranger/stripefs/pkg/config"
	"github.com/rgranger/stripefs/pkg/manager"
	"github.com/rgranger/stripefs/pkg/metrics"
)

var (
	metricsPort int
	configFile  string
)

var rootCmd = &cobra.Command{
	Use:   "manager",
	Short: "Run the striped-storage manager node",
}

var serveCmd = &cobra.Command{
	Use:   "serve <port>",
	Short: "Listen for register/configure/copy/read/recovery requests on port",
	Args:  cobra.ExactArgs(1),
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
	port, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", args[0], err)
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
	m := manager.New()

	if metricsPort != 0 {
		go serveMetrics(metricsPort)
	}

	serverDone := make(chan error, 1)
	go func() { serverDone <- m.Serve(ctx, port) }()

	logger.Info("manager listening", "port", port, "metrics_port", metricsPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
		cancel()
		m.Stop()
		<-serverDone
	case err := <-serverDone:
		if err != nil {
			return err
		}
	}
	return nil
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
