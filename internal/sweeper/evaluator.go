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

// Package sweeper applies declarative auto-assignment rules and expires
// temporary role grants, independent of any caller. One failing user or
// rule is logged and skipped; it never aborts the rest of the sweep.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chorus-chat/chorus/internal/member"
	"github.com/chorus-chat/chorus/internal/observability/logger"
	"github.com/chorus-chat/chorus/internal/role"
	"github.com/chorus-chat/chorus/internal/tenant"
)

// GraphSource supplies role-graph snapshots.
type GraphSource interface {
	Graph(ctx context.Context, tenantID string) (*role.Graph, error)
}

// AssignmentWriter is the slice of the member service the evaluator
// drives. Both methods take the tenant's mutation lock themselves, so an
// automatic expiry and a manual revoke on the same (user, role) serialize.
type AssignmentWriter interface {
	Assign(ctx context.Context, actorID, tenantID, userID, roleID string, opts member.AssignOptions) (*member.Assignment, error)
	Expire(ctx context.Context, tenantID, userID, roleID string) error
}

// AssignmentLister supplies a tenant's current assignments.
type AssignmentLister interface {
	ListForTenant(ctx context.Context, tenantID string) ([]*member.Assignment, error)
}

// ActivityMetrics supplies the monotonic per-user activity counter that
// activity-threshold rules compare against. Optional: without it, those
// rules are skipped.
type ActivityMetrics interface {
	CounterFor(ctx context.Context, userID, tenantID string) (int64, error)
}

// Evaluator grants and revokes roles from declarative rules: on-join,
// after-elapsed-time, activity-threshold, plus temporary-grant expiry.
type Evaluator struct {
	graphs      GraphSource
	writer      AssignmentWriter
	assignments AssignmentLister
	tenants     tenant.Repository
	memberships tenant.MemberRepository
	activity    ActivityMetrics

	// now is swappable for tests.
	now func() time.Time
}

// New creates an evaluator. activity may be nil when no tenant uses
// activity-threshold rules.
func New(
	graphs GraphSource,
	writer AssignmentWriter,
	assignments AssignmentLister,
	tenants tenant.Repository,
	memberships tenant.MemberRepository,
	activity ActivityMetrics,
) *Evaluator {
	return &Evaluator{
		graphs:      graphs,
		writer:      writer,
		assignments: assignments,
		tenants:     tenants,
		memberships: memberships,
		activity:    activity,
		now:         time.Now,
	}
}

// HandleMemberJoined fires every on-join rule for a freshly joined user,
// in ascending role position order, each rule independently. The platform
// invokes it exactly once per membership creation.
func (e *Evaluator) HandleMemberJoined(ctx context.Context, tenantID, userID string) error {
	graph, err := e.graphs.Graph(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load role graph: %w", err)
	}

	for _, r := range graph.Roles() {
		if r.AutoAssign == nil || r.AutoAssign.Trigger != role.TriggerOnJoin {
			continue
		}
		if _, err := e.writer.Assign(ctx, member.SystemActorID, tenantID, userID, r.ID, member.AssignOptions{
			Source:     member.SourceAuto,
			Idempotent: true,
		}); err != nil {
			e.skip(ctx, tenantID, userID, r.ID, "on_join", err)
		}
	}
	return nil
}

// Sweep runs one pass over every tenant: elapsed-time rules, activity
// rules, and temporary-grant expiry. Per-tenant failures are logged and
// the sweep moves on.
func (e *Evaluator) Sweep(ctx context.Context) error {
	tenantIDs, err := e.tenants.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants: %w", err)
	}

	for _, tenantID := range tenantIDs {
		if err := e.sweepTenant(ctx, tenantID); err != nil {
			slog.WarnContext(ctx, "tenant sweep failed",
				logger.Component("sweeper"),
				logger.TenantID(tenantID),
				logger.Error(err),
			)
		}
	}
	return nil
}

func (e *Evaluator) sweepTenant(ctx context.Context, tenantID string) error {
	graph, err := e.graphs.Graph(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to load role graph: %w", err)
	}
	assignments, err := e.assignments.ListForTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list assignments: %w", err)
	}

	assigned := make(map[string]bool, len(assignments))
	for _, a := range assignments {
		assigned[a.UserID+"/"+a.RoleID] = true
	}

	e.applyRules(ctx, tenantID, graph, assigned)
	e.expireDue(ctx, tenantID, graph, assignments)
	return nil
}

func (e *Evaluator) applyRules(ctx context.Context, tenantID string, graph *role.Graph, assigned map[string]bool) {
	var members []*tenant.Member
	for _, r := range graph.Roles() {
		if r.AutoAssign == nil {
			continue
		}
		if r.AutoAssign.Trigger != role.TriggerAfterElapsed && r.AutoAssign.Trigger != role.TriggerActivity {
			continue
		}
		if r.AutoAssign.Trigger == role.TriggerActivity && e.activity == nil {
			continue
		}

		if members == nil {
			var err error
			members, err = e.memberships.List(ctx, tenantID)
			if err != nil {
				slog.WarnContext(ctx, "failed to list tenant members",
					logger.Component("sweeper"), logger.TenantID(tenantID), logger.Error(err))
				return
			}
		}

		for _, m := range members {
			if assigned[m.UserID+"/"+r.ID] {
				continue
			}
			due, err := e.ruleDue(ctx, r, m)
			if err != nil {
				e.skip(ctx, tenantID, m.UserID, r.ID, string(r.AutoAssign.Trigger), err)
				continue
			}
			if !due {
				continue
			}
			if _, err := e.writer.Assign(ctx, member.SystemActorID, tenantID, m.UserID, r.ID, member.AssignOptions{
				Source:     member.SourceAuto,
				Idempotent: true,
			}); err != nil {
				e.skip(ctx, tenantID, m.UserID, r.ID, string(r.AutoAssign.Trigger), err)
				continue
			}
			assigned[m.UserID+"/"+r.ID] = true
		}
	}
}

func (e *Evaluator) ruleDue(ctx context.Context, r *role.Role, m *tenant.Member) (bool, error) {
	switch r.AutoAssign.Trigger {
	case role.TriggerAfterElapsed:
		return e.now().Sub(m.JoinedAt) >= r.AutoAssign.After, nil
	case role.TriggerActivity:
		counter, err := e.activity.CounterFor(ctx, m.UserID, m.TenantID)
		if err != nil {
			return false, fmt.Errorf("failed to read activity counter: %w", err)
		}
		return counter >= r.AutoAssign.ActivityThreshold, nil
	default:
		return false, nil
	}
}

func (e *Evaluator) expireDue(ctx context.Context, tenantID string, graph *role.Graph, assignments []*member.Assignment) {
	now := e.now()
	for _, a := range assignments {
		r, ok := graph.ByID(a.RoleID)
		if !ok || r.Temporary == nil || !r.Temporary.AutoRemove {
			continue
		}
		if a.ExpiresAt == nil || now.Before(*a.ExpiresAt) {
			continue
		}
		if err := e.writer.Expire(ctx, tenantID, a.UserID, a.RoleID); err != nil {
			e.skip(ctx, tenantID, a.UserID, a.RoleID, "temporary_expiry", err)
		}
	}
}

func (e *Evaluator) skip(ctx context.Context, tenantID, userID, roleID, rule string, err error) {
	slog.WarnContext(ctx, "auto-assignment skipped",
		logger.Component("sweeper"),
		logger.TenantID(tenantID),
		logger.UserID(userID),
		logger.RoleID(roleID),
		logger.String("rule", rule),
		logger.Error(err),
	)
}
