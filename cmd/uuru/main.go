package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/uuru/uuru/internal/api"
	"github.com/uuru/uuru/internal/asterisk"
	"github.com/uuru/uuru/internal/config"
	"github.com/uuru/uuru/internal/database"
	"github.com/uuru/uuru/internal/database/models"
	"github.com/uuru/uuru/internal/extension"
	"github.com/uuru/uuru/internal/federation"
	"github.com/uuru/uuru/internal/flavor"
	"github.com/uuru/uuru/internal/flavors"
	"github.com/uuru/uuru/internal/metrics"
	"github.com/uuru/uuru/internal/omm"
	"github.com/uuru/uuru/internal/websip"
)

func main() {
	if err := run(); err != nil {
		slog.Error("uuru failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	started := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(cfg.SlogHandler(os.Stdout)))

	slog.Info("starting uuru",
		"http_port", cfg.HTTPPort,
		"web_host", cfg.WebHost,
		"data_dir", cfg.DataDir,
		"pbx_driver", cfg.PBXDriver,
	)

	db, err := database.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := bootstrapRoot(context.Background(), db, cfg); err != nil {
		return err
	}

	pbx, err := asterisk.Open(cfg.PBXDriver, cfg.PBXDSN, cfg.MediaBaseURL())
	if err != nil {
		return err
	}
	defer pbx.Close()
	if err := pbx.EnsureSchema(context.Background()); err != nil {
		return fmt.Errorf("preparing asterisk schema: %w", err)
	}

	secret, err := cfg.JWTSecretBytes()
	if err != nil {
		return err
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	deps := flavors.Deps{Config: cfg, DB: db, PBX: pbx}
	if cfg.OMMHost != "" {
		deps.OMM = omm.New(omm.Config{
			Host:       cfg.OMMHost,
			Port:       cfg.OMMPort,
			User:       cfg.OMMUser,
			Password:   cfg.OMMPassword,
			VerifyCert: cfg.OMMVerifyCert,
		})
		defer deps.OMM.Close()
	}
	registry, err := flavor.NewRegistry(cfg.AllExtensionTypesPublic, flavors.Enabled(deps)...)
	if err != nil {
		return fmt.Errorf("building flavor registry: %w", err)
	}

	extensions := extension.NewService(cfg, db, pbx, registry)
	fed := federation.NewService(db, pbx, federation.NewClient(), federation.Identity{
		UURUHost:        cfg.FederationUURUHost,
		IAXHost:         cfg.FederationIAXHost,
		ExtensionLength: cfg.ExtensionDigits,
	})

	scheduler := flavor.NewScheduler(registry.Jobs()...)

	var phones *websip.Manager
	var sessions metrics.SessionCounter
	if cfg.EnableWebSIP {
		phones = websip.NewManager(cfg, pbx)
		sessions = phones
		scheduler.Add(flavor.Job{Name: "websip-reap", Interval: time.Minute, Run: phones.Reap})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(
			database.NewExtensionRepository(db),
			pbx,
			database.NewPeerRepository(db),
			sessions,
			started,
		),
	)

	handler := api.NewServer(appCtx, api.Deps{
		Config:     cfg,
		DB:         db,
		JWTSecret:  secret,
		Registry:   registry,
		Extensions: extensions,
		Federation: fed,
		WebSIP:     phones,
		Metrics:    reg,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(appCtx)
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case <-gctx.Done():
		runErr = context.Cause(gctx)
		slog.Error("background task failed", "error", runErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	appCancel()
	if err := g.Wait(); err != nil && runErr == nil {
		runErr = err
	}

	if phones != nil {
		if err := phones.Teardown(ctx); err != nil {
			slog.Error("removing browser phones", "error", err)
		}
	}

	slog.Info("uuru stopped")
	return runErr
}

// bootstrapRoot creates the admin account on an empty database.
func bootstrapRoot(ctx context.Context, db *database.DB, cfg *config.Config) error {
	users := database.NewUserRepository(db)
	n, err := users.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}
	if n > 0 {
		return nil
	}
	if cfg.RootPassword == "" {
		slog.Warn("no users exist and root-password is unset, create one with uuru-admin")
		return nil
	}
	hash, err := database.HashPassword(cfg.RootPassword)
	if err != nil {
		return err
	}
	if err := users.Create(ctx, &models.User{Username: cfg.RootUser, PasswordHash: hash, Role: models.RoleAdmin}); err != nil {
		return fmt.Errorf("creating root user: %w", err)
	}
	slog.Info("created root user", "username", cfg.RootUser)
	return nil
}
