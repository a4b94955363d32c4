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

package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus-chat/chorus/internal/permission"
	"github.com/chorus-chat/chorus/internal/role"
	"github.com/chorus-chat/chorus/internal/tenant"
)

// MockGraphSource serves fixed role graphs per tenant.
type MockGraphSource struct {
	graphs map[string][]*role.Role
	loads  int
}

func (m *MockGraphSource) Graph(ctx context.Context, tenantID string) (*role.Graph, error) {
	m.loads++
	roles, ok := m.graphs[tenantID]
	if !ok {
		return nil, errors.New("unknown tenant")
	}
	return role.NewGraph(tenantID, roles)
}

// MockAssignmentSource maps user id to held role ids.
type MockAssignmentSource map[string][]string

func (m MockAssignmentSource) RoleIDsFor(ctx context.Context, tenantID, userID string) ([]string, error) {
	return m[userID], nil
}

// MockOwnership treats one user id as the tenant owner.
type MockOwnership string

func (m MockOwnership) IsOwner(ctx context.Context, userID, tenantID string) (bool, error) {
	return userID == string(m), nil
}

// A small chat server: everyone can look and talk, members embed, mods
// moderate, admins hold the Administrator flag. The moderator role denies
// SendMessages in the announcements channel for members but re-allows it
// for moderators.
func chatRoles() []*role.Role {
	return []*role.Role{
		{
			ID: "r-everyone", Name: "everyone", Position: 0, IsDefault: true,
			Permissions: permission.ViewChannels | permission.SendMessages,
			ChannelOverrides: []role.ChannelOverride{
				{ChannelID: "ch-announce", Deny: permission.SendMessages},
			},
		},
		{
			ID: "r-member", Name: "member", Position: 1,
			Permissions: permission.EmbedLinks | permission.AttachFiles,
			ChannelOverrides: []role.ChannelOverride{
				{ChannelID: "ch-lounge", Allow: permission.MentionEveryone},
			},
		},
		{
			ID: "r-mod", Name: "moderator", Position: 2,
			Permissions: permission.ManageMessages | permission.KickMembers,
			ChannelOverrides: []role.ChannelOverride{
				{ChannelID: "ch-announce", Allow: permission.SendMessages},
				{ChannelID: "ch-lounge", Deny: permission.MentionEveryone},
			},
		},
		{
			ID: "r-admin", Name: "admin", Position: 3,
			Permissions: permission.Administrator,
			ChannelOverrides: []role.ChannelOverride{
				// Contradictory deny that must never bite an administrator.
				{ChannelID: "ch-announce", Deny: permission.ViewChannels},
			},
		},
	}
}

func newTestResolver(assignments MockAssignmentSource) *Resolver {
	return New(
		&MockGraphSource{graphs: map[string][]*role.Role{"t1": chatRoles()}},
		assignments,
		MockOwnership("owner"),
	)
}

// TestPurpose: Validates tenant-scope resolution: the base mask is the
// union of the default role and every assigned role, independent of
// position.
// Scope: Unit Test
// Expected: A member gets everyone's flags plus their own; a roleless
// user gets exactly the default grant.
// Test Case ID: RES-01
func TestResolver_Resolve_BaseUnion(t *testing.T) {
	r := newTestResolver(MockAssignmentSource{"u-member": {"r-member"}})
	ctx := context.Background()

	d, err := r.Resolve(ctx, "u-member", "t1", "")
	require.NoError(t, err)
	assert.Equal(t,
		permission.ViewChannels|permission.SendMessages|permission.EmbedLinks|permission.AttachFiles,
		d.Permissions)
	assert.False(t, d.IsOwner)
	assert.False(t, d.IsAdministrator)

	d, err = r.Resolve(ctx, "u-nobody", "t1", "")
	require.NoError(t, err)
	assert.Equal(t, permission.ViewChannels|permission.SendMessages, d.Permissions)
}

// TestPurpose: Validates the two bypasses: tenant ownership short-
// circuits everything, and a base mask containing Administrator expands
// to every flag with channel overrides ignored.
// Scope: Unit Test
// Security: Bypass semantics must not leak into channel override logic
// Expected: Full flag set both times, even in a channel whose override
// denies the admin flags.
// Test Case ID: RES-02
func TestResolver_Resolve_OwnerAndAdministrator(t *testing.T) {
	r := newTestResolver(MockAssignmentSource{"u-admin": {"r-admin"}})
	ctx := context.Background()

	d, err := r.Resolve(ctx, "owner", "t1", "ch-announce")
	require.NoError(t, err)
	assert.True(t, d.IsOwner)
	assert.Equal(t, permission.All, d.Permissions)

	d, err = r.Resolve(ctx, "u-admin", "t1", "ch-announce")
	require.NoError(t, err)
	assert.True(t, d.IsAdministrator)
	assert.Equal(t, permission.All, d.Permissions)
	assert.True(t, d.Allows(permission.ViewChannels), "admin ignores the channel deny")
}

// TestPurpose: Validates channel override precedence in both directions:
// overrides apply in ascending position order, so a senior allow restores
// what a junior deny took, and a senior deny strips what a junior allow
// granted.
// Scope: Unit Test
// Expected: Members lose SendMessages in the announcements channel while
// moderators keep it; members gain MentionEveryone in the lounge while
// moderators lose it again.
// Test Case ID: RES-03
func TestResolver_Resolve_ChannelOverridePrecedence(t *testing.T) {
	r := newTestResolver(MockAssignmentSource{
		"u-member": {"r-member"},
		"u-mod":    {"r-member", "r-mod"},
	})
	ctx := context.Background()

	d, err := r.Resolve(ctx, "u-member", "t1", "ch-announce")
	require.NoError(t, err)
	assert.False(t, d.Allows(permission.SendMessages), "everyone's deny silences members")
	assert.True(t, d.Allows(permission.ViewChannels))

	d, err = r.Resolve(ctx, "u-mod", "t1", "ch-announce")
	require.NoError(t, err)
	assert.True(t, d.Allows(permission.SendMessages), "moderator allow overrides the junior deny")

	// The reverse direction: the member role allows MentionEveryone in
	// the lounge, the senior moderator role denies it again. A user
	// holding both roles ends up denied.
	d, err = r.Resolve(ctx, "u-member", "t1", "ch-lounge")
	require.NoError(t, err)
	assert.True(t, d.Allows(permission.MentionEveryone), "member allow grants the flag")

	d, err = r.Resolve(ctx, "u-mod", "t1", "ch-lounge")
	require.NoError(t, err)
	assert.False(t, d.Allows(permission.MentionEveryone), "moderator deny overrides the junior allow")

	// No override for this channel: base mask unchanged.
	d, err = r.Resolve(ctx, "u-member", "t1", "ch-general")
	require.NoError(t, err)
	assert.True(t, d.Allows(permission.SendMessages))
}

// TestPurpose: Validates that one role's override with both masks set
// applies allow before deny, so deny wins within the role.
// Scope: Unit Test
// Expected: The flag present in both masks ends up denied.
// Test Case ID: RES-04
func TestResolver_Resolve_DenyWinsWithinRole(t *testing.T) {
	roles := []*role.Role{
		{ID: "r-def", Name: "everyone", Position: 0, IsDefault: true,
			Permissions: permission.ViewChannels,
			ChannelOverrides: []role.ChannelOverride{{
				ChannelID: "ch1",
				Allow:     permission.SendMessages,
				Deny:      permission.SendMessages,
			}},
		},
	}
	r := New(&MockGraphSource{graphs: map[string][]*role.Role{"t1": roles}}, MockAssignmentSource{}, MockOwnership("owner"))

	d, err := r.Resolve(context.Background(), "u1", "t1", "ch1")
	require.NoError(t, err)
	assert.False(t, d.Allows(permission.SendMessages))
}

// TestPurpose: Validates loud failure modes: a tenant without a default
// role and an assignment pointing at a role the graph does not know must
// both error instead of resolving to a shrunken mask.
// Scope: Unit Test
// Security: Fail-closed resolution
// Expected: role.ErrMissingDefaultRole and role.ErrRoleNotFound.
// Test Case ID: RES-05
func TestResolver_Resolve_FailsLoudly(t *testing.T) {
	broken := &MockGraphSource{graphs: map[string][]*role.Role{
		"t-nodefault": {{ID: "a", Name: "a", Position: 1}},
	}}
	r := New(broken, MockAssignmentSource{}, MockOwnership("owner"))
	_, err := r.Resolve(context.Background(), "u1", "t-nodefault", "")
	assert.ErrorIs(t, err, role.ErrMissingDefaultRole)

	r = newTestResolver(MockAssignmentSource{"u1": {"r-deleted"}})
	_, err = r.Resolve(context.Background(), "u1", "t1", "")
	assert.ErrorIs(t, err, role.ErrRoleNotFound)
}

// errOwnership fails every ownership check with a fixed error.
type errOwnership struct{ err error }

func (e errOwnership) IsOwner(ctx context.Context, userID, tenantID string) (bool, error) {
	return false, e.err
}

// TestPurpose: Validates resolution against a tenant that does not exist:
// the not-found from the ownership check surfaces as-is instead of being
// reported as a tenant missing its default role.
// Scope: Unit Test
// Expected: tenant.ErrTenantNotFound, still matchable through errors.Is
// after the resolver's wrapping.
// Test Case ID: RES-08
func TestResolver_Resolve_TenantNotFound(t *testing.T) {
	r := New(
		&MockGraphSource{graphs: map[string][]*role.Role{}},
		MockAssignmentSource{},
		errOwnership{err: fmt.Errorf("failed to get tenant owner: %w", tenant.ErrTenantNotFound)},
	)

	_, err := r.Resolve(context.Background(), "u1", "t-ghost", "")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
	assert.NotErrorIs(t, err, role.ErrMissingDefaultRole)
}

// TestPurpose: Validates that resolution is pure: repeated calls with the
// same inputs return identical decisions and never mutate stored roles.
// Scope: Unit Test
// Expected: Identical masks across repeated resolutions.
// Test Case ID: RES-06
func TestResolver_Resolve_Pure(t *testing.T) {
	r := newTestResolver(MockAssignmentSource{"u-mod": {"r-member", "r-mod"}})
	ctx := context.Background()

	first, err := r.Resolve(ctx, "u-mod", "t1", "ch-announce")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Resolve(ctx, "u-mod", "t1", "ch-announce")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}
