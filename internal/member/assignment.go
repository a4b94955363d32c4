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

// Package member maintains the many-to-many relation between users and
// the roles they hold in a tenant, with assignment provenance and the
// assign/revoke/expire state machine.
package member

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrAlreadyAssigned         = errors.New("role already assigned to user")
	ErrNotAssigned             = errors.New("role not assigned to user")
	ErrCannotRevokeDefaultRole = errors.New("default role cannot be revoked")
)

// SystemActorID identifies the auto-assignment evaluator when it acts as
// the assigning actor. The system actor ranks at the tenant's highest
// role, so a rule whose target role is reordered to the very top fails
// the hierarchy check instead of silently granting it.
const SystemActorID = "system"

// Source records how an assignment came to be.
type Source string

const (
	SourceManual Source = "manual"
	SourceAuto   Source = "auto"
)

// Assignment is one (tenant, user, role) grant. ExpiresAt is set when the
// role carries a temporary marker; the sweep removes due assignments when
// the marker asks for auto-removal.
type Assignment struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	AssignedAt time.Time  `json:"assigned_at"`
	AssignedBy string     `json:"assigned_by"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Source     Source     `json:"source"`
}

// Repository defines the interface for assignment persistence. Assign and
// Remove must be atomic per row; the service serializes them per tenant.
type Repository interface {
	// ListForUser returns the user's assignments in a tenant.
	ListForUser(ctx context.Context, tenantID, userID string) ([]*Assignment, error)

	// ListForTenant returns every assignment in a tenant, for the sweep.
	ListForTenant(ctx context.Context, tenantID string) ([]*Assignment, error)

	// Assign inserts an assignment; ErrAlreadyAssigned if the (tenant,
	// user, role) row exists.
	Assign(ctx context.Context, a *Assignment) error

	// Remove deletes an assignment; ErrNotAssigned if absent.
	Remove(ctx context.Context, tenantID, userID, roleID string) error

	// RemoveAllForUser deletes every assignment a user holds in a tenant.
	// Holding no assignments is not an error.
	RemoveAllForUser(ctx context.Context, tenantID, userID string) error
}
