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

// Package permission defines the closed, versioned permission flag
// enumeration and the bitmask algebra every authorization decision in the
// platform is expressed in.
package permission

import "strings"

// Set is a fixed-width bitmask over the permission flags below.
// The zero value grants nothing.
type Set uint64

// Permission flags. Values are append-only: once a flag has shipped its bit
// position never changes meaning. New flags are appended before the blank
// line above Administrator and Administrator is moved up.
const (
	ViewChannels Set = 1 << iota
	SendMessages
	ManageMessages
	EmbedLinks
	AttachFiles
	AddReactions
	MentionEveryone
	CreateInvites
	Connect
	Speak
	Stream
	ManageChannels
	ManageRoles
	ManageEvents
	StartEvents
	KickMembers
	BanMembers
	ManageServer

	// Administrator is a sentinel flag: a resolved set containing it is
	// treated as granting every flag, everywhere. Consumers must not check
	// it themselves; the resolver expands it before returning.
	Administrator
)

// All is the set with every defined flag granted. It relies on the flags
// occupying a contiguous run of low bits ending at Administrator.
const All = Administrator<<1 - 1

// None is the empty set.
const None Set = 0

// MemberDefaults is the baseline grant a tenant's default role starts
// with: participation flags only, no management flags.
const MemberDefaults = ViewChannels | SendMessages | EmbedLinks | AttachFiles |
	AddReactions | CreateInvites | Connect | Speak | Stream

var flagNames = map[Set]string{
	ViewChannels:    "VIEW_CHANNELS",
	SendMessages:    "SEND_MESSAGES",
	ManageMessages:  "MANAGE_MESSAGES",
	EmbedLinks:      "EMBED_LINKS",
	AttachFiles:     "ATTACH_FILES",
	AddReactions:    "ADD_REACTIONS",
	MentionEveryone: "MENTION_EVERYONE",
	CreateInvites:   "CREATE_INVITES",
	Connect:         "CONNECT",
	Speak:           "SPEAK",
	Stream:          "STREAM",
	ManageChannels:  "MANAGE_CHANNELS",
	ManageRoles:     "MANAGE_ROLES",
	ManageEvents:    "MANAGE_EVENTS",
	StartEvents:     "START_EVENTS",
	KickMembers:     "KICK_MEMBERS",
	BanMembers:      "BAN_MEMBERS",
	ManageServer:    "MANAGE_SERVER",
	Administrator:   "ADMINISTRATOR",
}

// Union returns the set of flags present in either s or other.
func (s Set) Union(other Set) Set {
	return s | other
}

// Intersect returns the set of flags present in both s and other.
func (s Set) Intersect(other Set) Set {
	return s & other
}

// Without returns s with every flag in other removed.
func (s Set) Without(other Set) Set {
	return s &^ other
}

// Has reports whether every flag in flag is present in s. For a single
// flag this is plain membership.
func (s Set) Has(flag Set) bool {
	return s&flag == flag
}

// HasAll reports whether s contains every flag in mask. It is Has under a
// name that reads better when mask spans several flags.
func (s Set) HasAll(mask Set) bool {
	return s&mask == mask
}

// HasAny reports whether s contains at least one flag from mask.
func (s Set) HasAny(mask Set) bool {
	return s&mask != 0
}

// IsEmpty reports whether s grants nothing.
func (s Set) IsEmpty() bool {
	return s == 0
}

// Names returns the flag names present in s, in bit order. Unknown bits
// are ignored.
func (s Set) Names() []string {
	var names []string
	for bit := Set(1); bit != 0 && bit <= Administrator; bit <<= 1 {
		if s&bit != 0 {
			if name, ok := flagNames[bit]; ok {
				names = append(names, name)
			}
		}
	}
	return names
}

// String renders s as a comma-separated flag list for logs and audit
// records.
func (s Set) String() string {
	if s == 0 {
		return "NONE"
	}
	if s == All {
		return "ALL"
	}
	return strings.Join(s.Names(), ",")
}

// FromNames builds a Set from flag names, ignoring names it does not
// recognize. Used when ingesting configuration or API payloads that speak
// in names rather than raw masks.
func FromNames(names []string) Set {
	var s Set
	for _, name := range names {
		for bit, n := range flagNames {
			if n == name {
				s |= bit
				break
			}
		}
	}
	return s
}
