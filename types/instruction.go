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

// Package types defines the shared value types of the cache instruction
// synchronization protocol.
package types

import (
	uuid "github.com/satori/go.uuid"
)

// RefreshType selects which invalidation operation a refresh instruction
// carries. Exactly one of the id/payload fields of RefreshInstruction is
// meaningful for a given refresh type.
type RefreshType int

const (
	// RefreshAll invalidates the whole cache owned by the refresher.
	RefreshAll RefreshType = iota + 1
	// RefreshByGUID invalidates a single entry addressed by GUID.
	RefreshByGUID
	// RefreshByID invalidates a single entry addressed by integer id.
	RefreshByID
	// RefreshByIDs invalidates a set of entries addressed by a JSON integer array.
	RefreshByIDs
	// RefreshByJSON passes an opaque JSON payload to a payload-capable refresher.
	RefreshByJSON
	// RemoveByID removes a single entry addressed by integer id.
	RemoveByID
)

func (t RefreshType) String() string {
	switch t {
	case RefreshAll:
		return "RefreshAll"
	case RefreshByGUID:
		return "RefreshByGUID"
	case RefreshByID:
		return "RefreshByID"
	case RefreshByIDs:
		return "RefreshByIDs"
	case RefreshByJSON:
		return "RefreshByJSON"
	case RemoveByID:
		return "RemoveByID"
	}
	return "Unknown"
}

// RefreshInstruction is one directive to invalidate or update a local cache.
//
// It is a value type: two instructions are equal when all fields are equal,
// which the processing loop relies on for structural de-duplication. All
// fields are comparable, so the struct can key a map directly.
type RefreshInstruction struct {
	RefresherID uuid.UUID   `json:"refresherId"`
	Type        RefreshType `json:"refreshType"`
	IntID       int64       `json:"intId,omitempty"`
	GUIDID      uuid.UUID   `json:"guidId,omitempty"`
	JSONIDs     string      `json:"jsonIds,omitempty"`
	JSONPayload string      `json:"jsonPayload,omitempty"`
}

// NewRefreshAll creates a RefreshAll instruction for the refresher.
func NewRefreshAll(refresherID uuid.UUID) RefreshInstruction {
	return RefreshInstruction{RefresherID: refresherID, Type: RefreshAll}
}

// NewRefreshByGUID creates a RefreshByGUID instruction for a single entry.
func NewRefreshByGUID(refresherID uuid.UUID, guid uuid.UUID) RefreshInstruction {
	return RefreshInstruction{RefresherID: refresherID, Type: RefreshByGUID, GUIDID: guid}
}

// NewRefreshByID creates a RefreshByID instruction for a single entry.
func NewRefreshByID(refresherID uuid.UUID, id int64) RefreshInstruction {
	return RefreshInstruction{RefresherID: refresherID, Type: RefreshByID, IntID: id}
}

// NewRefreshByIDs creates a RefreshByIDs instruction from a JSON integer array.
func NewRefreshByIDs(refresherID uuid.UUID, jsonIDs string) RefreshInstruction {
	return RefreshInstruction{RefresherID: refresherID, Type: RefreshByIDs, JSONIDs: jsonIDs}
}

// NewRefreshByJSON creates a RefreshByJSON instruction with an opaque payload.
func NewRefreshByJSON(refresherID uuid.UUID, payload string) RefreshInstruction {
	return RefreshInstruction{RefresherID: refresherID, Type: RefreshByJSON, JSONPayload: payload}
}

// NewRemoveByID creates a RemoveByID instruction for a single entry.
func NewRemoveByID(refresherID uuid.UUID, id int64) RefreshInstruction {
	return RefreshInstruction{RefresherID: refresherID, Type: RemoveByID, IntID: id}
}
