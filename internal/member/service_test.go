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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus-chat/chorus/internal/audit"
	"github.com/chorus-chat/chorus/internal/role"
	"github.com/chorus-chat/chorus/internal/tenantlock"
)

// MockRoleStore serves a fixed role graph. Only Graph is exercised by the
// assignment service.
type MockRoleStore struct {
	roles []*role.Role
}

func (m *MockRoleStore) Graph(ctx context.Context, tenantID string) (*role.Graph, error) {
	return role.NewGraph(tenantID, m.roles)
}

func (m *MockRoleStore) GetByID(ctx context.Context, tenantID, roleID string) (*role.Role, error) {
	for _, r := range m.roles {
		if r.ID == roleID {
			return r, nil
		}
	}
	return nil, role.ErrRoleNotFound
}

func (m *MockRoleStore) Create(ctx context.Context, r *role.Role, positions map[string]int) error {
	m.roles = append(m.roles, r)
	return nil
}

func (m *MockRoleStore) Update(ctx context.Context, r *role.Role) error { return nil }

func (m *MockRoleStore) Delete(ctx context.Context, tenantID, roleID string, positions map[string]int) error {
	return nil
}

func (m *MockRoleStore) SaveOrder(ctx context.Context, tenantID string, positions map[string]int) error {
	return nil
}

// MockAssignmentRepo is a simple in-memory implementation of Repository
type MockAssignmentRepo struct {
	assignments map[string]*Assignment
}

func NewMockAssignmentRepo() *MockAssignmentRepo {
	return &MockAssignmentRepo{assignments: make(map[string]*Assignment)}
}

func key(tenantID, userID, roleID string) string {
	return tenantID + "/" + userID + "/" + roleID
}

func (m *MockAssignmentRepo) ListForUser(ctx context.Context, tenantID, userID string) ([]*Assignment, error) {
	var out []*Assignment
	for _, a := range m.assignments {
		if a.TenantID == tenantID && a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MockAssignmentRepo) ListForTenant(ctx context.Context, tenantID string) ([]*Assignment, error) {
	var out []*Assignment
	for _, a := range m.assignments {
		if a.TenantID == tenantID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MockAssignmentRepo) Assign(ctx context.Context, a *Assignment) error {
	k := key(a.TenantID, a.UserID, a.RoleID)
	if _, exists := m.assignments[k]; exists {
		return ErrAlreadyAssigned
	}
	m.assignments[k] = a
	return nil
}

func (m *MockAssignmentRepo) Remove(ctx context.Context, tenantID, userID, roleID string) error {
	k := key(tenantID, userID, roleID)
	if _, exists := m.assignments[k]; !exists {
		return ErrNotAssigned
	}
	delete(m.assignments, k)
	return nil
}

func (m *MockAssignmentRepo) RemoveAllForUser(ctx context.Context, tenantID, userID string) error {
	for k, a := range m.assignments {
		if a.TenantID == tenantID && a.UserID == userID {
			delete(m.assignments, k)
		}
	}
	return nil
}

// MockOwnership treats one user id as the tenant owner.
type MockOwnership string

func (m MockOwnership) IsOwner(ctx context.Context, userID, tenantID string) (bool, error) {
	return userID == string(m), nil
}

func testGraphRoles() []*role.Role {
	return []*role.Role{
		{ID: "r-default", TenantID: "t1", Name: "everyone", Position: 0, IsDefault: true},
		{ID: "r-member", TenantID: "t1", Name: "member", Position: 1},
		{ID: "r-temp", TenantID: "t1", Name: "event-crew", Position: 2,
			Temporary: &role.TemporaryGrant{Duration: time.Hour, AutoRemove: true}},
		{ID: "r-top", TenantID: "t1", Name: "admin", Position: 3},
	}
}

func newTestService(repo *MockAssignmentRepo) *Service {
	return NewService(repo, &MockRoleStore{roles: testGraphRoles()}, MockOwnership("owner"), tenantlock.New(), audit.NewSlogLogger())
}

// TestPurpose: Validates the assignment state machine's happy path and
// its duplicate handling: a second grant of the same role conflicts
// unless the caller asked for idempotency.
// Scope: Unit Test
// Expected: Assignment recorded with actor provenance; ErrAlreadyAssigned
// on repeat; nil no-op under AssignOptions.Idempotent.
// Test Case ID: MBR-01
func TestMember_Service_Assign(t *testing.T) {
	repo := NewMockAssignmentRepo()
	s := newTestService(repo)
	ctx := context.Background()

	a, err := s.Assign(ctx, "owner", "t1", "u1", "r-member", AssignOptions{})
	require.NoError(t, err)
	assert.Equal(t, "owner", a.AssignedBy)
	assert.Equal(t, SourceManual, a.Source)
	assert.Nil(t, a.ExpiresAt)

	_, err = s.Assign(ctx, "owner", "t1", "u1", "r-member", AssignOptions{})
	assert.ErrorIs(t, err, ErrAlreadyAssigned)

	a, err = s.Assign(ctx, "owner", "t1", "u1", "r-member", AssignOptions{Idempotent: true})
	require.NoError(t, err)
	assert.Nil(t, a, "idempotent duplicate is a silent no-op")

	_, err = s.Assign(ctx, "owner", "t1", "u1", "ghost", AssignOptions{})
	assert.ErrorIs(t, err, role.ErrRoleNotFound)
}

// TestPurpose: Validates that assigning a role marked temporary stamps
// the assignment with an expiry derived from the grant duration.
// Scope: Unit Test
// Expected: ExpiresAt about one hour out.
// Test Case ID: MBR-02
func TestMember_Service_Assign_TemporaryExpiry(t *testing.T) {
	repo := NewMockAssignmentRepo()
	s := newTestService(repo)

	a, err := s.Assign(context.Background(), "owner", "t1", "u1", "r-temp", AssignOptions{})
	require.NoError(t, err)
	require.NotNil(t, a.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *a.ExpiresAt, time.Minute)
}

// TestPurpose: Validates hierarchy enforcement on grants and revokes: an
// actor may only hand out or take away roles strictly below their own
// highest role, and automation ranks at the tenant's top role.
// Scope: Unit Test
// Security: Privilege escalation via role grants
// Expected: ErrHierarchyViolation for a peer-level grant and for the
// system actor touching the top role.
// Test Case ID: MBR-03
func TestMember_Service_Assign_Hierarchy(t *testing.T) {
	repo := NewMockAssignmentRepo()
	s := newTestService(repo)
	ctx := context.Background()

	// u-mod holds r-member (position 1); r-temp sits above them.
	_, err := s.Assign(ctx, "owner", "t1", "u-mod", "r-member", AssignOptions{})
	require.NoError(t, err)

	_, err = s.Assign(ctx, "u-mod", "t1", "u2", "r-temp", AssignOptions{})
	assert.ErrorIs(t, err, role.ErrHierarchyViolation)

	_, err = s.Assign(ctx, "u-mod", "t1", "u2", "r-member", AssignOptions{})
	assert.ErrorIs(t, err, role.ErrHierarchyViolation, "own rank is not strictly below itself")

	// The system actor ranks at the top role, which strictly-greater
	// comparison keeps out of automation's reach.
	_, err = s.Assign(ctx, SystemActorID, "t1", "u2", "r-top", AssignOptions{})
	assert.ErrorIs(t, err, role.ErrHierarchyViolation)

	a, err := s.Assign(ctx, SystemActorID, "t1", "u2", "r-temp", AssignOptions{Source: SourceAuto})
	require.NoError(t, err)
	assert.Equal(t, SourceAuto, a.Source)
}

// TestPurpose: Validates revocation: the default role is never revocable,
// absent assignments surface ErrNotAssigned, and expiry removes the row
// without a hierarchy check.
// Scope: Unit Test
// Expected: ErrCannotRevokeDefaultRole, ErrNotAssigned, successful
// Expire.
// Test Case ID: MBR-04
func TestMember_Service_RevokeAndExpire(t *testing.T) {
	repo := NewMockAssignmentRepo()
	s := newTestService(repo)
	ctx := context.Background()

	err := s.Revoke(ctx, "owner", "t1", "u1", "r-default")
	assert.ErrorIs(t, err, ErrCannotRevokeDefaultRole)

	err = s.Revoke(ctx, "owner", "t1", "u1", "r-member")
	assert.ErrorIs(t, err, ErrNotAssigned)

	_, err = s.Assign(ctx, "owner", "t1", "u1", "r-member", AssignOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Revoke(ctx, "owner", "t1", "u1", "r-member"))

	// Explicit default-role grants never exist, so the explicit grant
	// list never contains it.
	ids, err := s.RoleIDsFor(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = s.Assign(ctx, "owner", "t1", "u1", "r-temp", AssignOptions{})
	require.NoError(t, err)
	require.NoError(t, s.Expire(ctx, "t1", "u1", "r-temp"))
	assert.ErrorIs(t, s.Expire(ctx, "t1", "u1", "r-temp"), ErrNotAssigned)
}

// TestPurpose: Validates that the default role cannot be granted
// explicitly since every member holds it implicitly.
// Scope: Unit Test
// Expected: ErrAlreadyAssigned, or a silent no-op when idempotent.
// Test Case ID: MBR-05
func TestMember_Service_Assign_DefaultRole(t *testing.T) {
	repo := NewMockAssignmentRepo()
	s := newTestService(repo)
	ctx := context.Background()

	_, err := s.Assign(ctx, "owner", "t1", "u1", "r-default", AssignOptions{})
	assert.ErrorIs(t, err, ErrAlreadyAssigned)

	a, err := s.Assign(ctx, "owner", "t1", "u1", "r-default", AssignOptions{Idempotent: true})
	require.NoError(t, err)
	assert.Nil(t, a)
}

// TestPurpose: Validates that a departing member's assignments are all
// cleared, so rejoining the tenant starts from the default grant alone
// instead of resurrecting previously held elevated roles.
// Scope: Unit Test
// Security: Privilege persistence across membership removal
// Expected: RoleIDsFor empty after Leave; a fresh grant after rejoin
// succeeds without conflicting with stale rows.
// Test Case ID: MBR-06
func TestMember_Service_Leave(t *testing.T) {
	repo := NewMockAssignmentRepo()
	s := newTestService(repo)
	ctx := context.Background()

	_, err := s.Assign(ctx, "owner", "t1", "u1", "r-member", AssignOptions{})
	require.NoError(t, err)
	_, err = s.Assign(ctx, "owner", "t1", "u1", "r-temp", AssignOptions{})
	require.NoError(t, err)

	// An assignment in another tenant must survive.
	_, err = s.Assign(ctx, "owner", "t2", "u1", "r-member", AssignOptions{})
	require.NoError(t, err)

	require.NoError(t, s.Leave(ctx, "owner", "t1", "u1"))

	ids, err := s.RoleIDsFor(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	other, err := s.RoleIDsFor(ctx, "t2", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r-member"}, other)

	// Leaving twice is harmless.
	require.NoError(t, s.Leave(ctx, "owner", "t1", "u1"))

	// Rejoin: the old elevated grant is gone, so a fresh assignment is
	// not a duplicate.
	a, err := s.Assign(ctx, "owner", "t1", "u1", "r-member", AssignOptions{})
	require.NoError(t, err)
	assert.Equal(t, "r-member", a.RoleID)
}
