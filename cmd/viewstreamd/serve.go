package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/user/viewstream/internal/admin"
	"github.com/user/viewstream/internal/admin/rpc"
	"github.com/user/viewstream/internal/config"
	"github.com/user/viewstream/internal/engine"
	"github.com/user/viewstream/internal/graphstore"
	"github.com/user/viewstream/internal/logging"
	"github.com/user/viewstream/internal/processor"
	"github.com/user/viewstream/internal/resultcache"
)

var serveConfigPath string

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config-file", "", "YAML config path (defaults built in if empty)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the query engine and its admin gRPC/metrics surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg := config.Default()
	if serveConfigPath != "" {
		loaded, err := config.LoadConfig(serveConfigPath)
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		cfg = loaded
	}

	log := logging.New("engine")

	store := graphstore.New(log)
	cache := resultcache.New()
	proc := processor.New(store, cache, log, nil)
	registry := engine.NewRegistry(store, cache, proc, log, engine.Config{
		QueueCapacity:      cfg.Queue.Capacity,
		HealthWindow:       cfg.Engine.HealthWindow,
		UnhealthyErrorRate: cfg.Engine.UnhealthyErrorRate,
	})
	svc := admin.New(registry)

	lis, err := net.Listen("tcp", cfg.Admin.ListenAddress)
	if err != nil {
		return fmt.Errorf("serve: listen on %s: %w", cfg.Admin.ListenAddress, err)
	}

	grpcServer := grpc.NewServer()
	rpc.RegisterAdminServer(grpcServer, rpc.NewServer(svc))

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		log.Info("metrics server listening", "address", ":9090")
		if err := http.ListenAndServe(":9090", mux); err != nil {
			log.Error("metrics server stopped", "error", err)
		}
	}()

	go func() {
		log.Info("admin gRPC server listening", "address", cfg.Admin.ListenAddress)
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("admin gRPC server stopped", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down", "reason", "signal received")
	grpcServer.GracefulStop()
	return nil
}
