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

// The sweeper runs the auto-assignment and expiry sweep on a schedule,
// for deployments that do not want the sweep inside the API process. It
// shares the server's configuration.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/chorus-chat/chorus/internal/audit"
	"github.com/chorus-chat/chorus/internal/config"
	"github.com/chorus-chat/chorus/internal/member"
	"github.com/chorus-chat/chorus/internal/observability/logger"
	"github.com/chorus-chat/chorus/internal/store/postgres"
	"github.com/chorus-chat/chorus/internal/sweeper"
	"github.com/chorus-chat/chorus/internal/tenantlock"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName + "-sweeper",
	})
	slog.Info("starting chorus sweeper")

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
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	roleRepo := postgres.NewRoleRepository(db)
	assignmentRepo := postgres.NewAssignmentRepository(db)
	tenantRepo := postgres.NewTenantRepository(db)
	memberRepo := postgres.NewMemberRepository(db)
	activityRepo := postgres.NewActivityRepository(db)

	auditLogger := audit.NewSlogLogger()
	locks := tenantlock.New()

	memberService := member.NewService(assignmentRepo, roleRepo, tenantRepo, locks, auditLogger)
	evaluator := sweeper.New(roleRepo, memberService, assignmentRepo, tenantRepo, memberRepo, activityRepo)

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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down sweeper")
	<-scheduler.Stop().Done()
	slog.Info("sweeper stopped")
}
