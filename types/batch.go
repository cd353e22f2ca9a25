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

package types

import (
	"time"

	"github.com/cachefarm/cachefarm/proto"
)

// InstructionBatch is one durable row of the shared instruction log.
//
// A row is immutable once written. Its id is assigned by the log store,
// strictly increasing in insertion order and never reused; the only mutation
// a row ever sees is deletion during pruning.
type InstructionBatch struct {
	// ID is the monotonic row id assigned by the store on insert.
	ID int64
	// CreatedUTC is the insert timestamp, always UTC.
	CreatedUTC time.Time
	// Instructions holds the serialized instruction array, possibly nested.
	Instructions string
	// OriginID identifies the server that appended the row.
	OriginID proto.ServerID
	// InstructionCount is the number of instructions contained in the row.
	InstructionCount int
}

// InitResult is the outcome of the bootstrap decision.
type InitResult struct {
	// Initialized is false when bootstrap was short-circuited by shutdown;
	// the caller must not start tailing.
	Initialized bool
	// ColdBoot tells the caller to rebuild all local caches from the primary
	// data before tailing resumes.
	ColdBoot bool
	// MaxID is the log position to resume tailing from after a cold boot
	// rebuild, captured before any rebuild work. Zero when not cold booting.
	MaxID int64
	// LastID is the repaired cursor.
	LastID int64
}

// ProcessResult is the outcome of one processing pass.
type ProcessResult struct {
	// InstructionsProcessed counts rows whose instructions were dispatched,
	// excluding own-origin rows and rows that failed to apply.
	InstructionsProcessed int
	// LastID is the resulting cursor.
	LastID int64
	// Pruned reports whether this pass performed a prune.
	Pruned bool
}
