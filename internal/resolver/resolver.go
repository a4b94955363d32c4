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

// Package resolver computes a user's effective permission set for a
// (user, tenant, optional channel) tuple. It is the sole authorization
// entry point: every other subsystem must resolve here before permitting
// a mutating action.
package resolver

import (
	"context"
	"fmt"

	"github.com/chorus-chat/chorus/internal/permission"
	"github.com/chorus-chat/chorus/internal/role"
	"github.com/chorus-chat/chorus/internal/tenant"
)

// GraphSource supplies role-graph snapshots. Satisfied by role.Repository
// directly or by GraphCache in front of it.
type GraphSource interface {
	Graph(ctx context.Context, tenantID string) (*role.Graph, error)
}

// AssignmentSource supplies the role ids a user explicitly holds.
type AssignmentSource interface {
	RoleIDsFor(ctx context.Context, tenantID, userID string) ([]string, error)
}

// Decision is the outcome of a resolution. When IsOwner or
// IsAdministrator is set, Permissions is already expanded to the full
// flag set; call sites check flags on Permissions and never re-implement
// the bypasses.
type Decision struct {
	Permissions     permission.Set `json:"permissions"`
	IsOwner         bool           `json:"is_owner"`
	IsAdministrator bool           `json:"is_administrator"`
}

// Allows reports whether the decision grants every flag in mask.
func (d Decision) Allows(mask permission.Set) bool {
	return d.Permissions.HasAll(mask)
}

// Resolver merges a user's assigned roles, the tenant's role graph, and
// per-channel overrides into one effective permission set. Resolution
// performs no writes and is safe to call from any number of concurrent
// requests.
type Resolver struct {
	graphs      GraphSource
	assignments AssignmentSource
	ownership   tenant.Ownership
}

// New creates a resolver.
func New(graphs GraphSource, assignments AssignmentSource, ownership tenant.Ownership) *Resolver {
	return &Resolver{
		graphs:      graphs,
		assignments: assignments,
		ownership:   ownership,
	}
}

// Resolve computes the effective permissions of a user in a tenant,
// optionally within one channel (empty channelID means tenant scope).
//
// Order is load-bearing:
//  1. Tenant owner → all flags, nothing else consulted.
//  2. Union the base permissions of the user's roles plus the default
//     role; position does not matter for the base grant.
//  3. Administrator in the base mask → all flags, channel ignored.
//  4. With a channel: apply each held role's override for that channel in
//     ascending position order, so more senior roles win conflicts;
//     within one role's override deny beats allow.
//
// A tenant whose graph lacks a default role fails loudly with
// role.ErrMissingDefaultRole rather than resolving to an empty mask.
func (r *Resolver) Resolve(ctx context.Context, userID, tenantID, channelID string) (Decision, error) {
	isOwner, err := r.ownership.IsOwner(ctx, userID, tenantID)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to check tenant ownership: %w", err)
	}
	if isOwner {
		return Decision{Permissions: permission.All, IsOwner: true}, nil
	}

	graph, err := r.graphs.Graph(ctx, tenantID)
	if err != nil {
		return Decision{}, err
	}

	assignedIDs, err := r.assignments.RoleIDsFor(ctx, tenantID, userID)
	if err != nil {
		return Decision{}, err
	}

	// Collect held roles in ascending position order: the default role
	// first, then every assigned role. An assignment pointing at a role
	// the graph does not know indicates a broken deletion cascade and
	// fails loudly instead of shrinking the mask silently.
	held := make(map[string]bool, len(assignedIDs)+1)
	held[graph.Default().ID] = true
	for _, id := range assignedIDs {
		if _, ok := graph.ByID(id); !ok {
			return Decision{}, fmt.Errorf("%w: assigned role %s missing from tenant %s", role.ErrRoleNotFound, id, tenantID)
		}
		held[id] = true
	}

	var base permission.Set
	for _, ro := range graph.Roles() {
		if held[ro.ID] {
			base = base.Union(ro.Permissions)
		}
	}

	if base.Has(permission.Administrator) {
		return Decision{Permissions: permission.All, IsAdministrator: true}, nil
	}

	if channelID == "" {
		return Decision{Permissions: base}, nil
	}

	mask := base
	for _, ro := range graph.Roles() {
		if !held[ro.ID] {
			continue
		}
		override, ok := ro.OverrideFor(channelID)
		if !ok {
			continue
		}
		// Allow first, deny second: deny wins within a single role, and
		// because roles apply in ascending position order a later role's
		// explicit allow or deny overrides an earlier role's.
		mask = mask.Union(override.Allow)
		mask = mask.Without(override.Deny)
	}

	return Decision{Permissions: mask}, nil
}
