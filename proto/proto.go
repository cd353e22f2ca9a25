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

// Package proto contains the shared identity types of a cachefarm server farm.
package proto

import (
	"strings"

	"github.com/pkg/errors"
)

// ServerID is the opaque identity of one application server process in the farm.
// Instruction rows are tagged with the identity of the server that appended them,
// so that every server can recognize and skip its own rows while tailing.
type ServerID string

// IsEmpty returns true if the server id is empty.
func (id ServerID) IsEmpty() bool {
	return len(id) == 0
}

func (id ServerID) String() string {
	return string(id)
}

// ServerRole defines the role of a server in the farm, which determines its
// pruning authority over the shared instruction log.
type ServerRole int

const (
	// Unknown is an unresolved role, it carries no pruning authority.
	Unknown ServerRole = iota
	// Single is the only server against the content store, it always prunes.
	Single
	// Master is the elected pruner of a multi-server farm.
	Master
	// Replica is a non-elected member of a multi-server farm, it never prunes.
	Replica
)

func (s ServerRole) String() string {
	switch s {
	case Single:
		return "Single"
	case Master:
		return "Master"
	case Replica:
		return "Replica"
	}
	return "Unknown"
}

// CanPrune returns whether the role holds pruning authority over the log.
func (s ServerRole) CanPrune() bool {
	return s == Single || s == Master
}

// ErrInvalidServerRole represents an unrecognized role literal in config.
var ErrInvalidServerRole = errors.New("invalid server role")

// ParseServerRole parses a role literal as it appears in config files.
func ParseServerRole(raw string) (role ServerRole, err error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "single":
		role = Single
	case "master":
		role = Master
	case "replica":
		role = Replica
	default:
		err = errors.Wrapf(ErrInvalidServerRole, "role %#v", raw)
	}
	return
}

// MarshalYAML implements the yaml.Marshaler interface.
func (s ServerRole) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalYAML implements the yaml.Unmarshaler interface.
func (s *ServerRole) UnmarshalYAML(unmarshal func(interface{}) error) (err error) {
	var str string
	if err = unmarshal(&str); err != nil {
		return
	}

	*s, err = ParseServerRole(str)
	return
}

// RoleAccessor reports the current role of the local server. The role of a
// farm member may change at runtime when the elected master goes away, so the
// syncer consults the accessor on every pruning decision instead of caching
// the role.
type RoleAccessor interface {
	CurrentServerRole() ServerRole
}

// StaticRole is a RoleAccessor with a fixed role, used by single-server
// deployments and by tests.
type StaticRole ServerRole

// CurrentServerRole implements RoleAccessor.
func (r StaticRole) CurrentServerRole() ServerRole {
	return ServerRole(r)
}
