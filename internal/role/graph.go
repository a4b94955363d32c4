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
	"fmt"
	"sort"
)

// Graph is a tenant's role hierarchy: the tenant's roles ordered by
// position, ascending. A Graph is a snapshot; reads are safe from any
// number of goroutines, mutations (Insert, Remove, Reorder) must happen
// under the tenant's mutation lock and be persisted atomically by the
// caller.
type Graph struct {
	tenantID string
	roles    []*Role
}

// NewGraph builds a graph from a tenant's roles and validates the
// structural invariants: positions unique, exactly one default role, the
// default role at DefaultRolePosition. A tenant without a default role is
// a configuration error and must surface loudly, never be coerced.
func NewGraph(tenantID string, roles []*Role) (*Graph, error) {
	sorted := make([]*Role, len(roles))
	copy(sorted, roles)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	var defaults int
	seen := make(map[int]string, len(sorted))
	for _, r := range sorted {
		if prev, dup := seen[r.Position]; dup {
			return nil, fmt.Errorf("%w: roles %s and %s share position %d", ErrInvalidPosition, prev, r.ID, r.Position)
		}
		seen[r.Position] = r.ID
		if r.IsDefault {
			defaults++
			if r.Position != DefaultRolePosition {
				return nil, fmt.Errorf("%w: default role %s at position %d", ErrInvalidPosition, r.ID, r.Position)
			}
		}
	}
	if defaults == 0 {
		return nil, fmt.Errorf("%w: tenant %s", ErrMissingDefaultRole, tenantID)
	}
	if defaults > 1 {
		return nil, fmt.Errorf("%w: tenant %s has %d default roles", ErrInvalidPosition, tenantID, defaults)
	}

	return &Graph{tenantID: tenantID, roles: sorted}, nil
}

// TenantID returns the owning tenant.
func (g *Graph) TenantID() string {
	return g.tenantID
}

// Roles returns the roles in ascending position order. Callers must not
// mutate the returned slice.
func (g *Graph) Roles() []*Role {
	return g.roles
}

// Default returns the tenant's default role. NewGraph guarantees it
// exists and sits at the lowest position.
func (g *Graph) Default() *Role {
	return g.roles[0]
}

// ByID returns the role with the given id.
func (g *Graph) ByID(roleID string) (*Role, bool) {
	for _, r := range g.roles {
		if r.ID == roleID {
			return r, true
		}
	}
	return nil, false
}

// ByName returns the role with the given name.
func (g *Graph) ByName(name string) (*Role, bool) {
	for _, r := range g.roles {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// HighestRole returns the role with the greatest position among the given
// ids. Ids not present in the graph are ignored. A user with no explicit
// roles ranks at the default role.
func (g *Graph) HighestRole(roleIDs []string) *Role {
	highest := g.Default()
	for _, id := range roleIDs {
		if r, ok := g.ByID(id); ok && r.Position > highest.Position {
			highest = r
		}
	}
	return highest
}

// CanManage reports whether an actor whose highest role is actorHighest
// may manage target. Tenant owners manage everything; everyone else only
// roles strictly below their own. Operations that would delete, reorder,
// or rename the default role are refused separately regardless of this
// check.
func (g *Graph) CanManage(actorHighest, target *Role, actorIsOwner bool) bool {
	if actorIsOwner {
		return true
	}
	if actorHighest == nil || target == nil {
		return false
	}
	return actorHighest.Position > target.Position
}

// NextPosition returns the position one above the current top of the
// hierarchy, where a newly appended role lands.
func (g *Graph) NextPosition() int {
	return g.roles[len(g.roles)-1].Position + 1
}

// Insert adds a role to the graph at r.Position; inserting below the top
// shifts the roles at and above that position up by one. The position
// must land in [1, NextPosition()]: the default slot and anything below
// it is never a valid target, and neither is a gap above the top. Fails
// with ErrDuplicateName on a name collision.
func (g *Graph) Insert(r *Role) error {
	if _, exists := g.ByName(r.Name); exists {
		return fmt.Errorf("%w: %q", ErrDuplicateName, r.Name)
	}
	if r.IsDefault {
		// The default role only ever enters a graph at tenant creation,
		// through NewGraph.
		return fmt.Errorf("%w: default role already present", ErrInvalidPosition)
	}

	next := g.NextPosition()
	switch {
	case r.Position <= DefaultRolePosition:
		return fmt.Errorf("%w: position %d would sit at or below the default role", ErrInvalidPosition, r.Position)
	case r.Position > next:
		return fmt.Errorf("%w: position %d beyond top %d", ErrInvalidPosition, r.Position, next)
	case r.Position < next:
		for _, existing := range g.roles {
			if existing.Position >= r.Position {
				existing.Position++
			}
		}
	}

	g.roles = append(g.roles, r)
	g.sort()
	return nil
}

// Remove deletes a role from the graph, closing the position gap it
// leaves. The default role cannot be removed. Returns the removed role so
// the caller can cascade assignment cleanup.
func (g *Graph) Remove(roleID string) (*Role, error) {
	target, ok := g.ByID(roleID)
	if !ok {
		return nil, ErrRoleNotFound
	}
	if target.IsDefault {
		return nil, ErrCannotDeleteDefaultRole
	}

	kept := g.roles[:0]
	for _, r := range g.roles {
		if r.ID == roleID {
			continue
		}
		if r.Position > target.Position {
			r.Position--
		}
		kept = append(kept, r)
	}
	g.roles = kept
	return target, nil
}

// Reorder moves a role to newPosition, shifting the intervening roles by
// one to keep positions dense and unique. The default role stays at
// DefaultRolePosition and no other role may take that slot.
func (g *Graph) Reorder(roleID string, newPosition int) error {
	target, ok := g.ByID(roleID)
	if !ok {
		return ErrRoleNotFound
	}
	if target.IsDefault {
		return fmt.Errorf("%w: default role is fixed at position %d", ErrInvalidPosition, DefaultRolePosition)
	}
	top := g.roles[len(g.roles)-1].Position
	if newPosition <= DefaultRolePosition || newPosition > top {
		return fmt.Errorf("%w: position %d out of range [1, %d]", ErrInvalidPosition, newPosition, top)
	}
	if newPosition == target.Position {
		return nil
	}

	old := target.Position
	for _, r := range g.roles {
		switch {
		case r.ID == roleID:
			r.Position = newPosition
		case old < newPosition && r.Position > old && r.Position <= newPosition:
			r.Position--
		case old > newPosition && r.Position >= newPosition && r.Position < old:
			r.Position++
		}
	}
	g.sort()
	return nil
}

// Positions returns the current role id → position mapping, for atomic
// persistence after Insert, Remove, or Reorder.
func (g *Graph) Positions() map[string]int {
	positions := make(map[string]int, len(g.roles))
	for _, r := range g.roles {
		positions[r.ID] = r.Position
	}
	return positions
}

func (g *Graph) sort() {
	sort.Slice(g.roles, func(i, j int) bool { return g.roles[i].Position < g.roles[j].Position })
}
