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

package role

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chorus-chat/chorus/internal/audit"
	"github.com/chorus-chat/chorus/internal/permission"
	"github.com/chorus-chat/chorus/internal/tenant"
	"github.com/chorus-chat/chorus/internal/tenantlock"
)

// Service provides role management with hierarchy enforcement. Every
// mutation runs under the tenant's mutation lock; reads take no lock.
type Service struct {
	repo        Repository
	assignments AssignmentReader
	ownership   tenant.Ownership
	locks       *tenantlock.Map
	invalidator GraphInvalidator
	auditLogger audit.Logger
}

// NewService creates a new role service. invalidator may be nil when no
// graph cache is in play (tests, CLI tools).
func NewService(
	repo Repository,
	assignments AssignmentReader,
	ownership tenant.Ownership,
	locks *tenantlock.Map,
	invalidator GraphInvalidator,
	auditLogger audit.Logger,
) *Service {
	return &Service{
		repo:        repo,
		assignments: assignments,
		ownership:   ownership,
		locks:       locks,
		invalidator: invalidator,
		auditLogger: auditLogger,
	}
}

// CreateInput carries the caller-settable fields of a new role. A nil
// Position appends at the top of the hierarchy; an explicit position
// must be above the default role and no higher than one past the top.
type CreateInput struct {
	Name        string
	Color       string
	Icon        string
	Position    *int
	Permissions permission.Set
	Mentionable bool
	Hoist       bool
	AutoAssign  *AutoAssignRule
	Temporary   *TemporaryGrant
}

// UpdateInput carries partial role updates; nil fields are unchanged.
// ClearAutoAssign and ClearTemporary drop the respective rules.
type UpdateInput struct {
	Name            *string
	Color           *string
	Icon            *string
	Permissions     *permission.Set
	Mentionable     *bool
	Hoist           *bool
	AutoAssign      *AutoAssignRule
	ClearAutoAssign bool
	Temporary       *TemporaryGrant
	ClearTemporary  bool
}

// Graph loads the tenant's role graph.
func (s *Service) Graph(ctx context.Context, tenantID string) (*Graph, error) {
	return s.repo.Graph(ctx, tenantID)
}

// EnsureDefaultRole provisions the tenant's default role at position 0 if
// it does not exist yet. Called once when a tenant is created; safe to
// call again.
func (s *Service) EnsureDefaultRole(ctx context.Context, tenantID, name string, perms permission.Set) (*Role, error) {
	defer s.locks.Lock(tenantID)()

	graph, err := s.repo.Graph(ctx, tenantID)
	if err == nil {
		return graph.Default(), nil
	}
	if !errors.Is(err, ErrMissingDefaultRole) {
		return nil, err
	}

	now := time.Now()
	r := &Role{
		ID:          uuid.Must(uuid.NewV7()).String(),
		TenantID:    tenantID,
		Name:        name,
		Position:    DefaultRolePosition,
		Permissions: perms,
		IsDefault:   true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, r, map[string]int{r.ID: DefaultRolePosition}); err != nil {
		return nil, fmt.Errorf("failed to create default role: %w", err)
	}
	s.invalidate(tenantID)

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRoleCreated,
		TenantID: tenantID,
		ActorID:  "system",
		Resource: r.ID,
		Metadata: map[string]any{"name": r.Name, "default": true},
	})

	return r, nil
}

// CreateRole inserts a new role. The acting user must outrank the
// position the role lands at (owners excepted), so a moderator cannot
// create a role above their own.
func (s *Service) CreateRole(ctx context.Context, actorID, tenantID string, input CreateInput) (*Role, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("role name is required")
	}
	if err := validateAutoAssign(input.AutoAssign); err != nil {
		return nil, err
	}
	if err := validateTemporary(input.Temporary); err != nil {
		return nil, err
	}

	defer s.locks.Lock(tenantID)()

	graph, err := s.repo.Graph(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	position := graph.NextPosition()
	if input.Position != nil {
		position = *input.Position
	}

	now := time.Now()
	r := &Role{
		ID:          uuid.Must(uuid.NewV7()).String(),
		TenantID:    tenantID,
		Name:        input.Name,
		Color:       input.Color,
		Icon:        input.Icon,
		Position:    position,
		Permissions: input.Permissions,
		Mentionable: input.Mentionable,
		Hoist:       input.Hoist,
		AutoAssign:  input.AutoAssign,
		Temporary:   input.Temporary,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := graph.Insert(r); err != nil {
		return nil, err
	}

	isOwner, highest, err := s.actorRank(ctx, graph, actorID, tenantID)
	if err != nil {
		return nil, err
	}
	if !graph.CanManage(highest, r, isOwner) {
		return nil, fmt.Errorf("%w: cannot create role at position %d", ErrHierarchyViolation, r.Position)
	}

	if err := s.repo.Create(ctx, r, graph.Positions()); err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}
	s.invalidate(tenantID)

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRoleCreated,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: r.ID,
		Metadata: map[string]any{"name": r.Name, "position": r.Position, "permissions": r.Permissions.String()},
	})

	return r, nil
}

// UpdateRole mutates a role's fields. The default role accepts only
// permission changes; its name, hoist, and presentation fields are fixed.
func (s *Service) UpdateRole(ctx context.Context, actorID, tenantID, roleID string, input UpdateInput) (*Role, error) {
	if err := validateAutoAssign(input.AutoAssign); err != nil {
		return nil, err
	}
	if err := validateTemporary(input.Temporary); err != nil {
		return nil, err
	}

	defer s.locks.Lock(tenantID)()

	graph, err := s.repo.Graph(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	target, ok := graph.ByID(roleID)
	if !ok {
		return nil, ErrRoleNotFound
	}

	if err := s.requireManage(ctx, graph, actorID, tenantID, target); err != nil {
		return nil, err
	}

	if target.IsDefault {
		if input.Name != nil || input.Hoist != nil || input.Color != nil ||
			input.Icon != nil || input.Mentionable != nil {
			return nil, ErrCannotEditDefaultRole
		}
	}

	if input.Name != nil && *input.Name != target.Name {
		if _, exists := graph.ByName(*input.Name); exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateName, *input.Name)
		}
		target.Name = *input.Name
	}
	if input.Color != nil {
		target.Color = *input.Color
	}
	if input.Icon != nil {
		target.Icon = *input.Icon
	}
	if input.Permissions != nil {
		target.Permissions = *input.Permissions
	}
	if input.Mentionable != nil {
		target.Mentionable = *input.Mentionable
	}
	if input.Hoist != nil {
		target.Hoist = *input.Hoist
	}
	if input.ClearAutoAssign {
		target.AutoAssign = nil
	} else if input.AutoAssign != nil {
		target.AutoAssign = input.AutoAssign
	}
	if input.ClearTemporary {
		target.Temporary = nil
	} else if input.Temporary != nil {
		target.Temporary = input.Temporary
	}
	target.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, target); err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	s.invalidate(tenantID)

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRoleUpdated,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: target.ID,
		Metadata: map[string]any{"name": target.Name, "permissions": target.Permissions.String()},
	})

	return target, nil
}

// SetChannelOverride replaces a role's allow/deny override for one
// channel. Empty allow and deny masks clear the override. Overlapping
// allow and deny bits are rejected at write time so stored overrides stay
// unambiguous; at resolution deny would win anyway.
func (s *Service) SetChannelOverride(ctx context.Context, actorID, tenantID, roleID string, override ChannelOverride) error {
	if override.ChannelID == "" {
		return fmt.Errorf("channel id is required")
	}
	if !override.Allow.Intersect(override.Deny).IsEmpty() {
		return fmt.Errorf("allow and deny masks overlap on %s", override.Allow.Intersect(override.Deny))
	}

	defer s.locks.Lock(tenantID)()

	graph, err := s.repo.Graph(ctx, tenantID)
	if err != nil {
		return err
	}
	target, ok := graph.ByID(roleID)
	if !ok {
		return ErrRoleNotFound
	}
	if err := s.requireManage(ctx, graph, actorID, tenantID, target); err != nil {
		return err
	}

	target.SetOverride(override)
	target.UpdatedAt = time.Now()

	if err := s.repo.Update(ctx, target); err != nil {
		return fmt.Errorf("failed to update channel override: %w", err)
	}
	s.invalidate(tenantID)

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeOverrideChanged,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: target.ID,
		Metadata: map[string]any{
			"channel_id": override.ChannelID,
			"allow":      override.Allow.String(),
			"deny":       override.Deny.String(),
		},
	})

	return nil
}

// DeleteRole removes a role, cascading the removal to every member
// assignment and closing the position gap. The default role can never be
// deleted.
func (s *Service) DeleteRole(ctx context.Context, actorID, tenantID, roleID string) error {
	defer s.locks.Lock(tenantID)()

	graph, err := s.repo.Graph(ctx, tenantID)
	if err != nil {
		return err
	}
	target, ok := graph.ByID(roleID)
	if !ok {
		return ErrRoleNotFound
	}
	if target.IsDefault {
		return ErrCannotDeleteDefaultRole
	}
	if err := s.requireManage(ctx, graph, actorID, tenantID, target); err != nil {
		return err
	}

	removed, err := graph.Remove(roleID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, tenantID, roleID, graph.Positions()); err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	s.invalidate(tenantID)

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRoleDeleted,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: removed.ID,
		Metadata: map[string]any{"name": removed.Name},
	})

	return nil
}

// ReorderRole moves a role to a new position. Non-owner actors may
// neither touch a role at or above their own nor move one there.
func (s *Service) ReorderRole(ctx context.Context, actorID, tenantID, roleID string, newPosition int) error {
	defer s.locks.Lock(tenantID)()

	graph, err := s.repo.Graph(ctx, tenantID)
	if err != nil {
		return err
	}
	target, ok := graph.ByID(roleID)
	if !ok {
		return ErrRoleNotFound
	}
	if err := s.requireManage(ctx, graph, actorID, tenantID, target); err != nil {
		return err
	}

	isOwner, highest, err := s.actorRank(ctx, graph, actorID, tenantID)
	if err != nil {
		return err
	}
	if !isOwner && newPosition >= highest.Position {
		return fmt.Errorf("%w: cannot move role to position %d", ErrHierarchyViolation, newPosition)
	}

	oldPosition := target.Position
	if err := graph.Reorder(roleID, newPosition); err != nil {
		return err
	}
	if err := s.repo.SaveOrder(ctx, tenantID, graph.Positions()); err != nil {
		return fmt.Errorf("failed to reorder role: %w", err)
	}
	s.invalidate(tenantID)

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRoleReordered,
		TenantID: tenantID,
		ActorID:  actorID,
		Resource: roleID,
		Metadata: map[string]any{"from": oldPosition, "to": newPosition},
	})

	return nil
}

// CanManageRole reports whether the acting user may manage the target
// role under the hierarchy rules.
func (s *Service) CanManageRole(ctx context.Context, actorID, tenantID, targetRoleID string) (bool, error) {
	graph, err := s.repo.Graph(ctx, tenantID)
	if err != nil {
		return false, err
	}
	target, ok := graph.ByID(targetRoleID)
	if !ok {
		return false, ErrRoleNotFound
	}
	isOwner, highest, err := s.actorRank(ctx, graph, actorID, tenantID)
	if err != nil {
		return false, err
	}
	return graph.CanManage(highest, target, isOwner), nil
}

func (s *Service) requireManage(ctx context.Context, graph *Graph, actorID, tenantID string, target *Role) error {
	isOwner, highest, err := s.actorRank(ctx, graph, actorID, tenantID)
	if err != nil {
		return err
	}
	if !graph.CanManage(highest, target, isOwner) {
		return fmt.Errorf("%w: role %s", ErrHierarchyViolation, target.ID)
	}
	return nil
}

func (s *Service) actorRank(ctx context.Context, graph *Graph, actorID, tenantID string) (bool, *Role, error) {
	isOwner, err := s.ownership.IsOwner(ctx, actorID, tenantID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to check tenant ownership: %w", err)
	}
	if isOwner {
		return true, nil, nil
	}
	roleIDs, err := s.assignments.RoleIDsFor(ctx, tenantID, actorID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to load actor roles: %w", err)
	}
	return false, graph.HighestRole(roleIDs), nil
}

func (s *Service) invalidate(tenantID string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(tenantID)
	}
}

func validateAutoAssign(rule *AutoAssignRule) error {
	if rule == nil {
		return nil
	}
	switch rule.Trigger {
	case TriggerOnJoin:
		if rule.After != 0 || rule.ActivityThreshold != 0 {
			return fmt.Errorf("on_join rule takes no threshold")
		}
	case TriggerAfterElapsed:
		if rule.After <= 0 {
			return fmt.Errorf("after_elapsed rule requires a positive duration")
		}
		if rule.ActivityThreshold != 0 {
			return fmt.Errorf("after_elapsed rule takes no activity threshold")
		}
	case TriggerActivity:
		if rule.ActivityThreshold <= 0 {
			return fmt.Errorf("activity_threshold rule requires a positive threshold")
		}
		if rule.After != 0 {
			return fmt.Errorf("activity_threshold rule takes no duration")
		}
	default:
		return fmt.Errorf("unknown auto-assign trigger %q", rule.Trigger)
	}
	return nil
}

func validateTemporary(grant *TemporaryGrant) error {
	if grant == nil {
		return nil
	}
	if grant.Duration <= 0 {
		return fmt.Errorf("temporary grant requires a positive duration")
	}
	return nil
}
