package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/albeach/DIVE-V3-sub010/internal/config"
	"github.com/albeach/DIVE-V3-sub010/internal/keystore"
	"github.com/albeach/DIVE-V3-sub010/internal/service"
	"github.com/albeach/DIVE-V3-sub010/internal/storage"
	"github.com/albeach/DIVE-V3-sub010/internal/storage/memory"
	"github.com/albeach/DIVE-V3-sub010/internal/storage/mongodb"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the key access service",
		Long: `Assembles the key access service from a configuration file and runs it
until interrupted. Policy files are watched for changes when
policy.watch is enabled; Prometheus metrics are served when
observability.metrics.enabled is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, addr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "divekas.yaml", "Config file path")
	cmd.Flags().StringVar(&addr, "addr", ":9090", "Metrics listen address")
	return cmd
}

func serve(configPath, addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := slog.Default()

	keys, err := keystore.NewProvider(cfg.Keys)
	if err != nil {
		return err
	}

	var store storage.Store
	if cfg.Storage.MongoDB.URI != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		store, err = mongodb.NewStore(connectCtx, &mongodb.Config{
			URI:      cfg.Storage.MongoDB.URI,
			Database: cfg.Storage.MongoDB.Database,
		})
		cancel()
		if err != nil {
			return err
		}
	} else {
		logger.Warn("no MongoDB URI configured, using in-memory storage")
		store = memory.NewStore()
	}

	svc, err := service.New(cfg, store, keys, logger)
	if err != nil {
		return err
	}
	defer svc.Close(context.Background())

	if cfg.Policy.Watch {
		go func() {
			if err := svc.Watch(ctx); err != nil && ctx.Err() == nil {
				logger.Error("policy watcher stopped", "error", err)
			}
		}()
	}

	if cfg.Metrics.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Metrics.Path, svc.MetricsHandler())
		server := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", "addr", addr, "path", cfg.Metrics.Metrics.Path)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("key access service running",
		"clearance_table", cfg.Policy.ClearanceTable,
		"coi_registry", cfg.Policy.COIRegistry)

	<-ctx.Done()
	fmt.Println("shutting down")
	return nil
}
