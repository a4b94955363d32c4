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

package member

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chorus-chat/chorus/internal/audit"
	"github.com/chorus-chat/chorus/internal/role"
	"github.com/chorus-chat/chorus/internal/tenant"
	"github.com/chorus-chat/chorus/internal/tenantlock"
)

// Service drives the assignment state machine: unassigned → assigned →
// (expired | revoked). Mutations for one tenant are serialized on the
// tenant's mutation lock, so a manual revoke and an automatic expiry on
// the same (user, role) cannot race.
type Service struct {
	repo        Repository
	roles       role.Repository
	ownership   tenant.Ownership
	locks       *tenantlock.Map
	auditLogger audit.Logger
}

// NewService creates a new assignment service.
func NewService(
	repo Repository,
	roles role.Repository,
	ownership tenant.Ownership,
	locks *tenantlock.Map,
	auditLogger audit.Logger,
) *Service {
	return &Service{
		repo:        repo,
		roles:       roles,
		ownership:   ownership,
		locks:       locks,
		auditLogger: auditLogger,
	}
}

// AssignOptions tune a single Assign call.
type AssignOptions struct {
	// Source records the assignment provenance; zero value is manual.
	Source Source

	// Idempotent turns ErrAlreadyAssigned into a no-op success. The
	// auto-assignment evaluator asks for this; manual callers get the
	// conflict surfaced.
	Idempotent bool
}

// RoleIDsFor returns the role ids a user explicitly holds in a tenant.
// The default role is implicit and not included here; the resolver and
// hierarchy ranking add it themselves.
func (s *Service) RoleIDsFor(ctx context.Context, tenantID, userID string) ([]string, error) {
	assignments, err := s.repo.ListForUser(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignments: %w", err)
	}
	ids := make([]string, 0, len(assignments))
	for _, a := range assignments {
		ids = append(ids, a.RoleID)
	}
	return ids, nil
}

// Assign grants a role to a user: unassigned → assigned. Fails with
// role.ErrHierarchyViolation when the actor cannot manage the target
// role and with ErrAlreadyAssigned on a duplicate grant unless the caller
// asked for idempotency.
func (s *Service) Assign(ctx context.Context, actorID, tenantID, userID, roleID string, opts AssignOptions) (*Assignment, error) {
	if opts.Source == "" {
		opts.Source = SourceManual
	}

	defer s.locks.Lock(tenantID)()

	graph, err := s.roles.Graph(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	target, ok := graph.ByID(roleID)
	if !ok {
		return nil, role.ErrRoleNotFound
	}
	if target.IsDefault {
		// Every member holds the default role implicitly; an explicit
		// grant is always a duplicate.
		if opts.Idempotent {
			return nil, nil
		}
		return nil, ErrAlreadyAssigned
	}

	if err := s.requireManage(ctx, graph, actorID, tenantID, target); err != nil {
		return nil, err
	}

	now := time.Now()
	a := &Assignment{
		ID:         uuid.Must(uuid.NewV7()).String(),
		TenantID:   tenantID,
		UserID:     userID,
		RoleID:     roleID,
		AssignedAt: now,
		AssignedBy: actorID,
		Source:     opts.Source,
	}
	if target.Temporary != nil {
		expires := now.Add(target.Temporary.Duration)
		a.ExpiresAt = &expires
	}

	if err := s.repo.Assign(ctx, a); err != nil {
		if errors.Is(err, ErrAlreadyAssigned) && opts.Idempotent {
			return nil, nil
		}
		return nil, err
	}

	eventType := audit.TypeRoleAssigned
	if opts.Source == SourceAuto {
		eventType = audit.TypeRoleAutoAssigned
	}
	s.auditLogger.Log(ctx, audit.Event{
		Type:     eventType,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: roleID,
		Metadata: map[string]any{"user_id": userID, "source": string(opts.Source)},
	})

	return a, nil
}

// Revoke removes a role from a user: assigned → revoked. The default
// role can never be revoked from anyone.
func (s *Service) Revoke(ctx context.Context, actorID, tenantID, userID, roleID string) error {
	defer s.locks.Lock(tenantID)()

	graph, err := s.roles.Graph(ctx, tenantID)
	if err != nil {
		return err
	}
	target, ok := graph.ByID(roleID)
	if !ok {
		return role.ErrRoleNotFound
	}
	if target.IsDefault {
		return ErrCannotRevokeDefaultRole
	}
	if err := s.requireManage(ctx, graph, actorID, tenantID, target); err != nil {
		return err
	}

	if err := s.repo.Remove(ctx, tenantID, userID, roleID); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRoleRevoked,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: roleID,
		Metadata: map[string]any{"user_id": userID},
	})

	return nil
}

// Expire removes a due temporary assignment: assigned → expired. Called
// by the auto-assignment sweep; expiry is not an act of management, so no
// hierarchy check applies. Functionally identical to Revoke but recorded
// with expiry provenance for audit.
func (s *Service) Expire(ctx context.Context, tenantID, userID, roleID string) error {
	defer s.locks.Lock(tenantID)()

	if err := s.repo.Remove(ctx, tenantID, userID, roleID); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRoleExpired,
		TenantID: tenantID,
		ActorID:  SystemActorID,
		Resource: roleID,
		Metadata: map[string]any{"user_id": userID},
	})

	return nil
}

// Leave clears every role assignment of a departing member so a later
// rejoin starts from the default grant alone, with no dormant elevated
// roles waiting. No hierarchy check applies: removing a member is gated
// by the caller, and their grants leave with them.
func (s *Service) Leave(ctx context.Context, actorID, tenantID, userID string) error {
	defer s.locks.Lock(tenantID)()

	if err := s.repo.RemoveAllForUser(ctx, tenantID, userID); err != nil {
		return fmt.Errorf("failed to clear assignments: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeMemberLeft,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: userID,
	})

	return nil
}

func (s *Service) requireManage(ctx context.Context, graph *role.Graph, actorID, tenantID string, target *role.Role) error {
	if actorID == SystemActorID {
		// The system actor ranks at the tenant's top role: strictly
		// greater wins, so the top role itself stays out of automation's
		// reach.
		roles := graph.Roles()
		top := roles[len(roles)-1]
		if !graph.CanManage(top, target, false) {
			return fmt.Errorf("%w: automation cannot manage role %s", role.ErrHierarchyViolation, target.ID)
		}
		return nil
	}

	isOwner, err := s.ownership.IsOwner(ctx, actorID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to check tenant ownership: %w", err)
	}
	if isOwner {
		return nil
	}
	actorRoleIDs, err := s.RoleIDsFor(ctx, tenantID, actorID)
	if err != nil {
		return err
	}
	if !graph.CanManage(graph.HighestRole(actorRoleIDs), target, false) {
		return fmt.Errorf("%w: role %s", role.ErrHierarchyViolation, target.ID)
	}
	return nil
}
