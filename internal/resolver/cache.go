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

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/chorus-chat/chorus/internal/role"
)

// GraphCache keeps recently used role-graph snapshots in an LRU cache so
// the hot resolution path skips the repository. Graphs are immutable
// snapshots; the role and member services invalidate a tenant's entry
// after every mutation, which makes a stale read impossible within one
// process.
type GraphCache struct {
	source GraphSource
	cache  *lru.Cache[string, *role.Graph]
}

// NewGraphCache wraps a graph source with an LRU of the given size.
func NewGraphCache(source GraphSource, size int) (*GraphCache, error) {
	cache, err := lru.New[string, *role.Graph](size)
	if err != nil {
		return nil, err
	}
	return &GraphCache{source: source, cache: cache}, nil
}

// Graph returns the cached snapshot for a tenant, loading it on a miss.
func (c *GraphCache) Graph(ctx context.Context, tenantID string) (*role.Graph, error) {
	if graph, ok := c.cache.Get(tenantID); ok {
		return graph, nil
	}
	graph, err := c.source.Graph(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	c.cache.Add(tenantID, graph)
	return graph, nil
}

// Invalidate drops a tenant's cached snapshot. Implements
// role.GraphInvalidator.
func (c *GraphCache) Invalidate(tenantID string) {
	c.cache.Remove(tenantID)
}
