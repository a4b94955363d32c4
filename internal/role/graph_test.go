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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus-chat/chorus/internal/permission"
)

func testRoles() []*Role {
	return []*Role{
		{ID: "r-default", TenantID: "t1", Name: "everyone", Position: 0, IsDefault: true, Permissions: permission.ViewChannels | permission.SendMessages},
		{ID: "r-member", TenantID: "t1", Name: "member", Position: 1, Permissions: permission.EmbedLinks},
		{ID: "r-mod", TenantID: "t1", Name: "moderator", Position: 2, Permissions: permission.ManageMessages | permission.KickMembers},
		{ID: "r-admin", TenantID: "t1", Name: "admin", Position: 3, Permissions: permission.Administrator},
	}
}

// TestPurpose: Validates the structural invariants enforced when a role
// graph is built: exactly one default role pinned at the bottom, and
// unique positions throughout.
// Scope: Unit Test
// Expected: ErrMissingDefaultRole without a default, ErrInvalidPosition
// for duplicate positions or a misplaced default.
// Test Case ID: ROL-01
func TestRole_NewGraph_Validation(t *testing.T) {
	g, err := NewGraph("t1", testRoles())
	require.NoError(t, err)
	assert.Equal(t, "r-default", g.Default().ID)
	assert.Equal(t, "t1", g.TenantID())

	_, err = NewGraph("t1", []*Role{
		{ID: "a", Name: "a", Position: 1},
		{ID: "b", Name: "b", Position: 2},
	})
	assert.ErrorIs(t, err, ErrMissingDefaultRole)

	_, err = NewGraph("t1", []*Role{
		{ID: "a", Name: "a", Position: 0, IsDefault: true},
		{ID: "b", Name: "b", Position: 0},
	})
	assert.ErrorIs(t, err, ErrInvalidPosition)

	_, err = NewGraph("t1", []*Role{
		{ID: "a", Name: "a", Position: 1, IsDefault: true},
	})
	assert.ErrorIs(t, err, ErrInvalidPosition)

	_, err = NewGraph("t1", []*Role{
		{ID: "a", Name: "a", Position: 0, IsDefault: true},
		{ID: "b", Name: "b", Position: 1, IsDefault: true},
	})
	assert.ErrorIs(t, err, ErrInvalidPosition)
}

// TestPurpose: Validates insertion semantics: append at NextPosition,
// displacement of existing roles for a lower explicit position, and
// rejection of duplicate names, unreachable positions, and positions at
// or below the default slot.
// Scope: Unit Test
// Expected: Dense unique positions after every insert; ErrInvalidPosition
// for position zero and negatives.
// Test Case ID: ROL-02
func TestRole_Graph_Insert(t *testing.T) {
	g, err := NewGraph("t1", testRoles())
	require.NoError(t, err)

	appended := &Role{ID: "r-new", Name: "helper", Position: g.NextPosition()}
	require.NoError(t, g.Insert(appended))
	assert.Equal(t, 4, appended.Position)

	// Explicit position displaces the roles at and above it.
	squeezed := &Role{ID: "r-sq", Name: "squeezed", Position: 2}
	require.NoError(t, g.Insert(squeezed))
	mod, _ := g.ByID("r-mod")
	admin, _ := g.ByID("r-admin")
	assert.Equal(t, 2, squeezed.Position)
	assert.Equal(t, 3, mod.Position)
	assert.Equal(t, 4, admin.Position)

	err = g.Insert(&Role{ID: "r-dup", Name: "member"})
	assert.ErrorIs(t, err, ErrDuplicateName)

	err = g.Insert(&Role{ID: "r-far", Name: "far", Position: 42})
	assert.ErrorIs(t, err, ErrInvalidPosition)

	// The default slot and anything below it is never a valid target;
	// the request is refused, not silently rewritten.
	err = g.Insert(&Role{ID: "r-zero", Name: "zero", Position: 0})
	assert.ErrorIs(t, err, ErrInvalidPosition)
	_, found := g.ByID("r-zero")
	assert.False(t, found)

	err = g.Insert(&Role{ID: "r-neg", Name: "neg", Position: -3})
	assert.ErrorIs(t, err, ErrInvalidPosition)

	// Positions stay dense and unique.
	seen := map[int]bool{}
	for i, r := range g.Roles() {
		assert.Equal(t, i, r.Position)
		assert.False(t, seen[r.Position])
		seen[r.Position] = true
	}
}

// TestPurpose: Validates removal semantics: the gap left by a deleted
// role closes, and the default role is never removable.
// Scope: Unit Test
// Expected: Positions renumbered densely; ErrCannotDeleteDefaultRole for
// the default role.
// Test Case ID: ROL-03
func TestRole_Graph_Remove(t *testing.T) {
	g, err := NewGraph("t1", testRoles())
	require.NoError(t, err)

	removed, err := g.Remove("r-member")
	require.NoError(t, err)
	assert.Equal(t, "r-member", removed.ID)

	mod, _ := g.ByID("r-mod")
	admin, _ := g.ByID("r-admin")
	assert.Equal(t, 1, mod.Position)
	assert.Equal(t, 2, admin.Position)

	_, err = g.Remove("r-default")
	assert.ErrorIs(t, err, ErrCannotDeleteDefaultRole)

	_, err = g.Remove("missing")
	assert.ErrorIs(t, err, ErrRoleNotFound)
}

// TestPurpose: Validates reorder semantics in both directions, bounds
// checking, and the fixed position of the default role.
// Scope: Unit Test
// Expected: Intervening roles shift by one; moves onto position 0 or past
// the top are rejected.
// Test Case ID: ROL-04
func TestRole_Graph_Reorder(t *testing.T) {
	g, err := NewGraph("t1", testRoles())
	require.NoError(t, err)

	// Move moderator above admin.
	require.NoError(t, g.Reorder("r-mod", 3))
	mod, _ := g.ByID("r-mod")
	admin, _ := g.ByID("r-admin")
	member, _ := g.ByID("r-member")
	assert.Equal(t, 3, mod.Position)
	assert.Equal(t, 2, admin.Position)
	assert.Equal(t, 1, member.Position)

	// And back down.
	require.NoError(t, g.Reorder("r-mod", 1))
	mod, _ = g.ByID("r-mod")
	member, _ = g.ByID("r-member")
	assert.Equal(t, 1, mod.Position)
	assert.Equal(t, 2, member.Position)

	assert.ErrorIs(t, g.Reorder("r-mod", 0), ErrInvalidPosition)
	assert.ErrorIs(t, g.Reorder("r-mod", 7), ErrInvalidPosition)
	assert.ErrorIs(t, g.Reorder("r-default", 1), ErrInvalidPosition)
	assert.ErrorIs(t, g.Reorder("missing", 1), ErrRoleNotFound)
}

// TestPurpose: Validates hierarchy ranking: the highest held role decides
// what an actor may manage, strictly-greater position wins, owners bypass
// the comparison, and roleless users rank at the default role.
// Scope: Unit Test
// Expected: Equal positions cannot manage each other; owner manages all.
// Test Case ID: ROL-05
func TestRole_Graph_Hierarchy(t *testing.T) {
	g, err := NewGraph("t1", testRoles())
	require.NoError(t, err)

	assert.Equal(t, "r-mod", g.HighestRole([]string{"r-member", "r-mod"}).ID)
	assert.Equal(t, "r-default", g.HighestRole(nil).ID)
	assert.Equal(t, "r-default", g.HighestRole([]string{"ghost"}).ID)

	mod, _ := g.ByID("r-mod")
	member, _ := g.ByID("r-member")
	admin, _ := g.ByID("r-admin")

	assert.True(t, g.CanManage(mod, member, false))
	assert.False(t, g.CanManage(member, mod, false))
	assert.False(t, g.CanManage(mod, mod, false), "equal position must not manage itself")
	assert.False(t, g.CanManage(mod, admin, false))
	assert.True(t, g.CanManage(nil, admin, true), "owner manages everything")
}
