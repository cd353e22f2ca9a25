/*
 * Copyright 2019 The CacheFarm Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package refresher defines the pluggable cache refresher contract and the
// registry the sync processing loop dispatches against.
package refresher

import (
	"sync"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

var (
	// ErrNotFound represents a refresher id with no registered refresher.
	// This is a deployment mismatch between farm members, not a transient
	// condition.
	ErrNotFound = errors.New("refresher not found")
	// ErrDuplicateRefresher represents a refresher id registered twice.
	ErrDuplicateRefresher = errors.New("refresher already registered")
	// ErrPayloadNotSupported represents a json refresh dispatched to a
	// refresher without the payload capability.
	ErrPayloadNotSupported = errors.New("refresher does not support payload refresh")
)

// Refresher knows how to invalidate one category of local cache. All
// invalidation entry points must be idempotent: a cold boot may cause an
// instruction to be replayed twice.
//
// Invocation safety against concurrent request threads is the refresher's
// own responsibility.
type Refresher interface {
	// UniqueID identifies the refresher across every server of the farm.
	UniqueID() uuid.UUID
	// Name is a human readable refresher name for logging.
	Name() string

	RefreshAll() error
	RefreshByID(id int64) error
	RefreshByGUID(guid uuid.UUID) error
	RemoveByID(id int64) error
}

// PayloadRefresher is the optional capability of refreshers that accept an
// opaque JSON payload.
type PayloadRefresher interface {
	Refresher

	RefreshByPayload(payload string) error
}

// Registry maps refresher ids to refresher instances.
type Registry struct {
	mu         sync.RWMutex
	refreshers map[uuid.UUID]Refresher
}

// NewRegistry returns an empty refresher registry.
func NewRegistry() *Registry {
	return &Registry{
		refreshers: make(map[uuid.UUID]Refresher),
	}
}

// Register adds a refresher to the registry.
func (r *Registry) Register(ref Refresher) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := ref.UniqueID()
	if _, ok := r.refreshers[id]; ok {
		return errors.Wrapf(ErrDuplicateRefresher, "refresher %s id %s", ref.Name(), id)
	}

	r.refreshers[id] = ref
	return
}

// Lookup resolves a refresher by id.
func (r *Registry) Lookup(id uuid.UUID) (ref Refresher, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ok bool
	if ref, ok = r.refreshers[id]; !ok {
		err = errors.Wrapf(ErrNotFound, "refresher id %s", id)
	}
	return
}

// All returns every registered refresher, used by the cold boot rebuild.
func (r *Registry) All() (refs []Refresher) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refs = make([]Refresher, 0, len(r.refreshers))
	for _, ref := range r.refreshers {
		refs = append(refs, ref)
	}
	return
}

// Clear removes all registered refreshers.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refreshers = make(map[uuid.UUID]Refresher)
}
