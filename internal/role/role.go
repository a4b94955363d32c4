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

// Package role holds the Role entity and the per-tenant role graph that
// orders roles by position and answers hierarchy questions.
package role

import (
	"errors"
	"time"

	"github.com/chorus-chat/chorus/internal/permission"
)

// Domain errors
var (
	ErrRoleNotFound            = errors.New("role not found")
	ErrDuplicateName           = errors.New("role name already exists in tenant")
	ErrInvalidPosition         = errors.New("invalid role position")
	ErrCannotDeleteDefaultRole = errors.New("default role cannot be deleted")
	ErrCannotEditDefaultRole   = errors.New("default role cannot be renamed, hoisted, or reordered")
	ErrMissingDefaultRole      = errors.New("tenant has no default role configured")
	ErrHierarchyViolation      = errors.New("actor cannot manage a role at or above their own")
)

// DefaultRolePosition is the fixed position of a tenant's default role.
// The default role is never reordered away from it and no other role may
// occupy it.
const DefaultRolePosition = 0

// AutoAssignTrigger identifies the single active trigger kind of an
// auto-assignment rule.
type AutoAssignTrigger string

const (
	// TriggerOnJoin fires once, when a user's tenant membership is created.
	TriggerOnJoin AutoAssignTrigger = "on_join"

	// TriggerAfterElapsed fires once the user's membership age reaches
	// AutoAssignRule.After.
	TriggerAfterElapsed AutoAssignTrigger = "after_elapsed"

	// TriggerActivity fires once the user's activity counter reaches
	// AutoAssignRule.ActivityThreshold.
	TriggerActivity AutoAssignTrigger = "activity_threshold"
)

// AutoAssignRule is a declarative grant rule attached to a role. At most
// one trigger kind is active per role.
type AutoAssignRule struct {
	Trigger           AutoAssignTrigger `json:"trigger"`
	After             time.Duration     `json:"after,omitempty"`
	ActivityThreshold int64             `json:"activity_threshold,omitempty"`
}

// TemporaryGrant marks assignments of a role as self-expiring.
type TemporaryGrant struct {
	Duration   time.Duration `json:"duration"`
	AutoRemove bool          `json:"auto_remove"`
}

// ChannelOverride is a per-channel allow/deny adjustment layered on top of
// the owning role's base grant. A role holds at most one override per
// channel. Overrides are never persisted apart from their role.
type ChannelOverride struct {
	ChannelID string         `json:"channel_id"`
	Allow     permission.Set `json:"allow"`
	Deny      permission.Set `json:"deny"`
}

// Role is a named, colored, positioned permission grant scoped to one
// tenant. Position is the authoritative hierarchy order: strictly
// increasing with seniority, unique within the tenant, with the default
// role fixed at DefaultRolePosition.
type Role struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	Name        string         `json:"name"`
	Color       string         `json:"color,omitempty"`
	Icon        string         `json:"icon,omitempty"`
	Position    int            `json:"position"`
	Permissions permission.Set `json:"permissions"`
	IsDefault   bool           `json:"is_default"`
	Mentionable bool           `json:"mentionable"`
	Hoist       bool           `json:"hoist"`

	ChannelOverrides []ChannelOverride `json:"channel_overrides,omitempty"`
	AutoAssign       *AutoAssignRule   `json:"auto_assign,omitempty"`
	Temporary        *TemporaryGrant   `json:"temporary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OverrideFor returns the role's override for a channel, if any.
func (r *Role) OverrideFor(channelID string) (ChannelOverride, bool) {
	for _, o := range r.ChannelOverrides {
		if o.ChannelID == channelID {
			return o, true
		}
	}
	return ChannelOverride{}, false
}

// SetOverride replaces or adds the role's override for a channel. An
// override with empty allow and deny masks clears the entry instead.
func (r *Role) SetOverride(o ChannelOverride) {
	for i, existing := range r.ChannelOverrides {
		if existing.ChannelID == o.ChannelID {
			if o.Allow.IsEmpty() && o.Deny.IsEmpty() {
				r.ChannelOverrides = append(r.ChannelOverrides[:i], r.ChannelOverrides[i+1:]...)
			} else {
				r.ChannelOverrides[i] = o
			}
			return
		}
	}
	if !o.Allow.IsEmpty() || !o.Deny.IsEmpty() {
		r.ChannelOverrides = append(r.ChannelOverrides, o)
	}
}
