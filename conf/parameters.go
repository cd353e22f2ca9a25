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

package conf

import "time"

// These parameters should be kept consistent across all servers of one farm.
const (
	// DefaultMaxProcessingInstructionCount bounds the backlog a server is
	// willing to replay instruction-by-instruction before preferring a full
	// rebuild, and bounds the instruction count of one delivered row.
	DefaultMaxProcessingInstructionCount = 1000
	// DefaultTimeToRetainInstructions is how long instruction rows stay in
	// the log before the pruner may delete them.
	DefaultTimeToRetainInstructions = 48 * time.Hour
)

// These parameters only affect the local server.
const (
	// DefaultSyncInterval is the tailing period.
	DefaultSyncInterval = 5 * time.Second
	// DefaultTimeBetweenPruneOperations is the minimum prune interval.
	DefaultTimeBetweenPruneOperations = time.Minute
	// ProcessBatchLimit is the maximum row count fetched per processing pass.
	ProcessBatchLimit = 100
)
