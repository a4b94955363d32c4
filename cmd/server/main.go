// Copyright 2026 The Chorus Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

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

	"github.com/robfig/cron/v3"

	"github.com/chorus-chat/chorus/internal/audit"
	"github.com/chorus-chat/chorus/internal/config"
	"github.com/chorus-chat/chorus/internal/member"
	"github.com/chorus-chat/chorus/internal/observability/logger"
	"github.com/chorus-chat/chorus/internal/observability/metrics"
	"github.com/chorus-chat/chorus/internal/observability/tracing"
	"github.com/chorus-chat/chorus/internal/resolver"
	"github.com/chorus-chat/chorus/internal/role"
	"github.com/chorus-chat/chorus/internal/store/postgres"
	"github.com/chorus-chat/chorus/internal/sweeper"
	"github.com/chorus-chat/chorus/internal/tenantlock"
	transportHTTP "github.com/chorus-chat/chorus/internal/transport/http"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting chorus authorization service")

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(cfg); err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	_, err = metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
	}

	// Initialize database
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize repositories
	roleRepo := postgres.NewRoleRepository(db)
	assignmentRepo := postgres.NewAssignmentRepository(db)
	tenantRepo := postgres.NewTenantRepository(db)
	memberRepo := postgres.NewMemberRepository(db)
	activityRepo := postgres.NewActivityRepository(db)

	auditLogger := audit.NewSlogLogger()
	locks := tenantlock.New()

	// The graph cache snapshots whole tenant role graphs; every role
	// mutation invalidates its tenant's entry.
	graphCache, err := resolver.NewGraphCache(roleRepo, cfg.Resolver.GraphCacheSize)
	if err != nil {
		slog.Error("failed to initialize graph cache", logger.Error(err))
		os.Exit(1)
	}

	// Initialize services
	memberService := member.NewService(assignmentRepo, roleRepo, tenantRepo, locks, auditLogger)
	roleService := role.NewService(roleRepo, memberService, tenantRepo, locks, graphCache, auditLogger)
	permResolver := resolver.New(graphCache, memberService, tenantRepo)
	evaluator := sweeper.New(graphCache, memberService, assignmentRepo, tenantRepo, memberRepo, activityRepo)

	// Rate limiter
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	// Initialize HTTP handler
	handler := transportHTTP.NewHandler(
		roleService,
		memberService,
		permResolver,
		evaluator,
		tenantRepo,
		memberRepo,
		activityRepo,
		auditLogger,
		transportHTTP.AuthConfig{
			JWTSecret: cfg.Auth.JWTSecret,
			JWTIssuer: cfg.Auth.JWTIssuer,
		},
	)

	router := transportHTTP.NewRouter(handler, rateLimiter)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// In-process sweep: elapsed-time and activity rules plus temporary
	// grant expiry. The standalone sweeper binary covers deployments that
	// scale the API separately.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Sweeper.Interval), func() {
		if err := evaluator.Sweep(ctx); err != nil {
			slog.ErrorContext(ctx, "sweep failed", logger.Error(err))
		}
	}); err != nil {
		slog.Error("failed to schedule sweep", logger.Error(err))
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Start server
	go func() {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"))
		slog.Info(fmt.Sprintf("listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", logger.Error(err))
	}

	slog.Info("server stopped")
}

func runMigrate(cfg *config.Config) error {
	ctx := context.Background()
	db, err := postgres.New(ctx, postgres.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying initial schema...")
	if err := db.Migrate(ctx, postgres.InitialSchema); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}
