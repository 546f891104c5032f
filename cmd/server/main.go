package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"warden/api/grpcserver"
	"warden/infra/arena"
	"warden/infra/config"
	"warden/infra/journal"
	"warden/infra/logging"
	"warden/infra/metrics"
	"warden/jobs/broadcaster"
	"warden/service"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "warden",
		Short:         "Ownership, epoch reclamation and region transfer service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to a YAML config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin gRPC server, metrics endpoint and journal broadcaster",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.NewViper(cfgPath)
			if err != nil {
				return err
			}
			for flag, key := range map[string]string{
				"grpc-addr":    "grpc.addr",
				"metrics-addr": "metrics.addr",
				"log-level":    "log.level",
				"manual":       "reclaim.manual",
			} {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	serve.Flags().String("grpc-addr", "", "admin gRPC listen address")
	serve.Flags().String("metrics-addr", "", "prometheus listen address; empty disables it")
	serve.Flags().String("log-level", "", "debug, info, warn or error")
	serve.Flags().Bool("manual", false, "start with manual-only rotation")

	root.AddCommand(serve, &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return root
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(os.Stderr, cfg.Log.Level)

	// ---------------- Metrics ----------------

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// ---------------- Allocator ----------------

	alloc, err := arena.ByName(cfg.Arena.Allocator)
	if err != nil {
		return err
	}

	// ---------------- Journal ----------------

	var jr *journal.Journal
	opts := service.Options{
		MinRotate: cfg.Reclaim.MinRotate,
		MaxRotate: cfg.Reclaim.MaxRotate,
		Manual:    cfg.Reclaim.Manual,
		MaskLimit: cfg.Mask.LimitBits,
		Allocator: alloc,
		Metrics:   m,
		Logger:    logger,
	}
	if cfg.Journal.Enabled {
		jopts := []journal.Option{journal.WithLogger(logger)}
		if cfg.Journal.InMemory {
			jopts = append(jopts, journal.InMemory())
		}
		jr, err = journal.Open(cfg.Journal.Dir, jopts...)
		if err != nil {
			return err
		}
		defer jr.Close()
		opts.Observer = jr
	}

	// ---------------- Service ----------------

	svc := service.New(opts)
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("service close", "err", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	// ---------------- Broadcaster ----------------

	if cfg.Broadcast.Enabled && jr != nil {
		pub, err := newPublisher(cfg.Broadcast)
		if err != nil {
			return err
		}
		bc := broadcaster.New(jr, pub,
			broadcaster.WithInterval(cfg.Broadcast.Interval),
			broadcaster.WithLogger(logger),
		)
		defer bc.Close()
		g.Go(func() error { return bc.Run(ctx) })
	}

	// ---------------- Snapshots ----------------

	if cfg.Snapshot.Interval > 0 {
		g.Go(func() error { return svc.RunSnapshotJob(ctx, cfg.Snapshot.Dir, cfg.Snapshot.Interval) })
	}

	// ---------------- gRPC ----------------

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return err
	}
	grpcSrv := grpcserver.Register(grpcserver.NewServer(svc, logger))
	g.Go(func() error {
		logger.Info("admin gRPC listening", "addr", lis.Addr().String())
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		<-ctx.Done()
		grpcSrv.GracefulStop()
		return nil
	})

	// ---------------- /metrics ----------------

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		httpSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("shutting down", slog.Uint64("epoch", svc.Epoch()))
	return err
}
