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

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/gatekeeper/internal/config"
	"github.com/alfredjeanlab/gatekeeper/internal/enforce"
	"github.com/alfredjeanlab/gatekeeper/internal/engine"
	"github.com/alfredjeanlab/gatekeeper/internal/events"
	"github.com/alfredjeanlab/gatekeeper/internal/oracle"
	"github.com/alfredjeanlab/gatekeeper/internal/server"
	"github.com/alfredjeanlab/gatekeeper/internal/store"
	"github.com/alfredjeanlab/gatekeeper/internal/store/memory"
	"github.com/alfredjeanlab/gatekeeper/internal/store/postgres"
	gksync "github.com/alfredjeanlab/gatekeeper/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run the gatekeeper on the router",
	GroupID: "system",
	// Override PersistentPreRunE so we don't build an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		tun, err := config.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			return err
		}

		st, err := openStore(cfg, logger)
		if err != nil {
			return err
		}

		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				st.Close()
				return err
			}
			publisher = pub
			logger.Info("events enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("events disabled (GATEKEEPER_NATS_URL not set)")
		}

		runner := enforce.ExecRunner{}
		backend := newBackend(cfg, runner, logger)
		orc := newOracle(cmd.Context(), cfg, logger)

		health := server.NewEnforcementHealth()
		eng, err := engine.New(engine.Config{
			Store:         st,
			Publisher:     publisher,
			Backend:       backend,
			Oracle:        orc,
			Policy:        tun.Policy,
			Schedule:      tun.Schedule,
			FocusDomains:  tun.FocusDomains,
			OracleTimeout: cfg.OracleTimeout,
			Logger:        logger,
			OnModeApplied: health.Observe,
		})
		if err != nil {
			publisher.Close()
			st.Close()
			return err
		}
		if err := eng.Start(context.Background()); err != nil {
			publisher.Close()
			st.Close()
			return fmt.Errorf("starting engine: %w", err)
		}

		srv := server.New(server.Config{
			Engine: eng,
			Identifier: server.IdentifierFunc(func(ctx context.Context, ip string) (string, bool) {
				return enforce.LookupMAC(ctx, runner, ip)
			}),
			Health:        health,
			AuthToken:     cfg.AuthToken,
			PortalURL:     cfg.PortalURL,
			RatePerMinute: tun.RatePerMinute,
			RateBurst:     tun.RateBurst,
		})
		grpcServer := server.NewGRPCServer(health, cfg.AuthToken)

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			srv.Close()
			eng.Stop()
			publisher.Close()
			st.Close()
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr, "portal", cfg.PortalURL)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		scheduler := startSync(cfg, st, logger)

		logger.Info("gatekeeper started",
			"mode", eng.CurrentMode(),
			"enforcer", cfg.Enforcer,
			"http_addr", cfg.HTTPAddr,
			"grpc_addr", cfg.GRPCAddr,
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("sync scheduler stopped")
		}

		health.Shutdown()
		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		srv.Close()
		logger.Info("HTTP server stopped")

		eng.Stop()

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := st.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// openStore returns the postgres history when a database is configured,
// otherwise an in-memory one that is lost on restart.
func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("history is in memory only (GATEKEEPER_DATABASE_URL not set)")
		return memory.New(), nil
	}
	st, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func newBackend(cfg *config.Config, runner enforce.Runner, logger *slog.Logger) enforce.Backend {
	if cfg.Enforcer == "noop" {
		logger.Warn("enforcement disabled: router rules will not change")
		return enforce.NewNoop()
	}
	return enforce.NewExec(enforce.ExecConfig{
		LANInterface: cfg.LANInterface,
		WANInterface: cfg.WANInterface,
		KickWiFi:     cfg.KickWiFi,
		Runner:       runner,
		Resolver:     enforce.NewResolver(cfg.DNSServer),
	})
}

func newOracle(ctx context.Context, cfg *config.Config, logger *slog.Logger) oracle.Oracle {
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY not set: every negotiation will be denied")
		return oracle.Unavailable("GEMINI_API_KEY not set")
	}
	g, err := oracle.NewGemini(ctx, oracle.GeminiConfig{
		APIKey:  cfg.GeminiAPIKey,
		Model:   cfg.OracleModel,
		Timeout: cfg.OracleTimeout,
	})
	if err != nil {
		logger.Error("oracle unavailable", "err", err)
		return oracle.Unavailable(err.Error())
	}
	logger.Info("oracle ready", "model", g.Model())
	return g
}

// startSync starts the history export when any destination is configured.
func startSync(cfg *config.Config, st store.Store, logger *slog.Logger) *gksync.Scheduler {
	if cfg.SyncInterval <= 0 {
		return nil
	}
	var dests []gksync.Destination
	if cfg.SyncS3Bucket != "" {
		s3Dest, err := gksync.NewS3Destination(
			context.Background(),
			cfg.SyncS3Bucket,
			cfg.SyncS3Key,
			cfg.SyncS3Region,
			cfg.SyncS3Endpoint,
		)
		if err != nil {
			logger.Error("failed to create S3 sync destination", "err", err)
		} else {
			dests = append(dests, s3Dest)
			logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
		}
	}
	if cfg.SyncGitRepo != "" {
		dests = append(dests, gksync.NewGitDestination(cfg.SyncGitRepo, cfg.SyncGitFile, cfg.SyncGitBranch))
		logger.Info("sync git destination enabled", "repo", cfg.SyncGitRepo, "file", cfg.SyncGitFile)
	}
	if len(dests) == 0 {
		return nil
	}
	scheduler := gksync.NewScheduler(st, dests, cfg.SyncInterval, logger)
	scheduler.Start()
	logger.Info("sync scheduler started", "interval", cfg.SyncInterval)
	return scheduler
}
