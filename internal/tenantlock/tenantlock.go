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

// Package tenantlock provides the per-tenant mutual-exclusion scope every
// role-graph and assignment mutation must run under. Different tenants
// never contend on a shared lock; reads take no lock at all.
package tenantlock

import "sync"

// Map hands out one mutex per tenant id, created on first use.
type Map struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an empty lock map.
func New() *Map {
	return &Map{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the tenant's mutation lock and returns the matching
// unlock function:
//
//	defer locks.Lock(tenantID)()
func (m *Map) Lock(tenantID string) func() {
	m.mu.Lock()
	l, ok := m.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[tenantID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}
