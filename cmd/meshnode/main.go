package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meshnode/meshnode/internal/config"
	"github.com/meshnode/meshnode/internal/engine"
	"github.com/meshnode/meshnode/internal/logging"
	"github.com/meshnode/meshnode/internal/metrics"
)

var metricsAddr string

var rootCmd = &cobra.Command{
	Use:   "meshnode [config_path] [server_id]",
	Short: "meshnode runs one node of a clustered RPC-forwarding server",
	Long: `meshnode starts a single node in a cluster of front/back servers:
it registers with the configured master, connects its peers, and forwards
front-plane RPC requests to whichever back server_type handles them.

config_path defaults to bin/config.xml, server_id defaults to 1.`,
	Args: cobra.MaximumNArgs(2),
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /metrics on (disabled if empty)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	configPath := "bin/config.xml"
	if len(args) > 0 {
		configPath = args[0]
	}
	serverID := uint32(1)
	if len(args) > 1 {
		n, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid server_id %q: %w", args[1], err)
		}
		serverID = uint32(n)
	}

	bootLog, _ := zap.NewDevelopment()
	defer bootLog.Sync()

	cfg, err := config.Load(configPath, bootLog)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := logging.Build(cfg, "meshnode.log")
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer closeLog()

	m, reg := metrics.New()
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, reg, log)
	}

	node, err := engine.Bootstrap(cfg, serverID, log, m)
	if err != nil {
		return fmt.Errorf("bootstrap node %d: %w", serverID, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting node", zap.Uint32("server_id", serverID), zap.String("config", configPath))
	return node.Run(ctx)
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	log.Info("serving metrics", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", zap.Error(err))
	}
}
