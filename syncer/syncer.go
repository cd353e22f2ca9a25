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

// Package syncer implements the cache instruction synchronization protocol.
//
// Every server of the farm treats the shared database as an append-only,
// totally ordered log of cache instructions: it appends the instructions it
// generates locally and periodically replays the instructions appended by
// other servers against its own cache refreshers. Servers never talk to each
// other directly.
//
// Consistency across the farm is eventual: a server may lag arbitrarily far
// behind the log head, and the only cross-server ordering is the log's row id
// sequence.
package syncer

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/cachefarm/cachefarm/conf"
	"github.com/cachefarm/cachefarm/eventbus"
	"github.com/cachefarm/cachefarm/proto"
	"github.com/cachefarm/cachefarm/refresher"
	"github.com/cachefarm/cachefarm/types"
	"github.com/cachefarm/cachefarm/utils/log"
	"github.com/cachefarm/cachefarm/utils/timer"
)

// LogStore is the append-only instruction log the syncer tails and appends
// to, implemented by the storage package.
type LogStore interface {
	Add(batch *types.InstructionBatch) error
	AddBatch(batches []*types.InstructionBatch) error
	CountAll() (int64, error)
	Exists(id int64) (bool, error)
	CountPendingInstructions(sinceID int64) (int64, error)
	GetMaxID() (int64, error)
	GetPendingInstructions(sinceID int64, limit int) ([]*types.InstructionBatch, error)
	DeleteInstructionsOlderThan(cutoff time.Time) error
}

// Registry resolves refresher ids to refresher instances, implemented by the
// refresher package.
type Registry interface {
	Lookup(id uuid.UUID) (refresher.Refresher, error)
}

// Config defines the syncer configuration.
type Config struct {
	// Store is the shared instruction log. Required.
	Store LogStore
	// Registry resolves refresher ids during replay. Required.
	Registry Registry
	// Roles reports the current server role for pruning decisions.
	// Defaults to a static Single role.
	Roles proto.RoleAccessor
	// Bus receives sync lifecycle events. Defaults to a private bus.
	Bus eventbus.Bus

	// MaxProcessingInstructionCount is the pending-instruction ceiling that
	// triggers a cold boot, and the chunk size of batched delivery.
	MaxProcessingInstructionCount int
	// ProcessBatchLimit is the maximum row count fetched per processing pass.
	ProcessBatchLimit int
	// TimeBetweenPruneOperations is the minimum interval between prunes.
	TimeBetweenPruneOperations time.Duration
	// TimeToRetainInstructions is the prune retention window.
	TimeToRetainInstructions time.Duration
}

// Syncer owns the synchronization protocol: bootstrap, instruction delivery,
// instruction replay and log pruning.
//
// EnsureInitialized and ProcessInstructions are driven by a single scheduling
// loop per process; ProcessInstructions must not be invoked concurrently from
// two goroutines of the same process, as both would race to read and advance
// the same cursor. Deliver may be called from any request goroutine.
type Syncer struct {
	store    LogStore
	registry Registry
	roles    proto.RoleAccessor
	bus      eventbus.Bus

	maxProcessingCount int
	processBatchLimit  int
	pruneInterval      time.Duration
	retention          time.Duration

	// initMu serializes the bootstrap decision, which must never run twice
	// concurrently on one process.
	initMu sync.Mutex
}

// NewSyncer creates a Syncer from config.
func NewSyncer(cfg *Config) (s *Syncer, err error) {
	if cfg == nil {
		err = errors.Wrap(ErrInvalidConfig, "nil config")
		return
	}
	if cfg.Store == nil {
		err = errors.Wrap(ErrInvalidConfig, "nil store")
		return
	}
	if cfg.Registry == nil {
		err = errors.Wrap(ErrInvalidConfig, "nil registry")
		return
	}

	s = &Syncer{
		store:    cfg.Store,
		registry: cfg.Registry,
		roles:    cfg.Roles,
		bus:      cfg.Bus,

		maxProcessingCount: cfg.MaxProcessingInstructionCount,
		processBatchLimit:  cfg.ProcessBatchLimit,
		pruneInterval:      cfg.TimeBetweenPruneOperations,
		retention:          cfg.TimeToRetainInstructions,
	}

	if s.roles == nil {
		s.roles = proto.StaticRole(proto.Single)
	}
	if s.bus == nil {
		s.bus = eventbus.New()
	}
	if s.maxProcessingCount <= 0 {
		s.maxProcessingCount = conf.DefaultMaxProcessingInstructionCount
	}
	if s.processBatchLimit <= 0 {
		s.processBatchLimit = conf.ProcessBatchLimit
	}
	if s.pruneInterval <= 0 {
		s.pruneInterval = conf.DefaultTimeBetweenPruneOperations
	}
	if s.retention <= 0 {
		s.retention = conf.DefaultTimeToRetainInstructions
	}

	return
}

// Bus returns the lifecycle event bus of this syncer.
func (s *Syncer) Bus() eventbus.Bus {
	return s.bus
}

// EnsureInitialized decides whether a (re)starting server may resume tailing
// the log from lastID, or must cold boot: rebuild every local cache from the
// primary data and only then resume tailing.
//
// A missing row or an oversized backlog are expected operating conditions
// here, not errors; err is only set on log store failures.
func (s *Syncer) EnsureInitialized(released bool, lastID int64) (result types.InitResult, err error) {
	// Repair a cursor that cannot be resumed from.
	if lastID == 0 {
		// Never synced: an empty log means a fresh installation, while a
		// non-empty log means we lost track of it.
		var count int64
		if count, err = s.store.CountAll(); err != nil {
			err = errors.Wrap(err, "count instruction rows failed")
			return
		}
		if count > 0 {
			lastID = -1
		}
	} else if lastID > 0 {
		// The row the cursor points at may have been pruned away.
		var exists bool
		if exists, err = s.store.Exists(lastID); err != nil {
			err = errors.Wrap(err, "check cursor row failed")
			return
		}
		if !exists {
			lastID = -1
		}
	}

	s.initMu.Lock()
	defer s.initMu.Unlock()

	if released {
		// shutting down, signal the caller to not proceed
		return
	}

	result.Initialized = true
	result.LastID = lastID

	if lastID < 0 {
		// no reliable resume point exists
		result.ColdBoot = true
	} else {
		var pending int64
		if pending, err = s.store.CountPendingInstructions(lastID); err != nil {
			err = errors.Wrap(err, "count pending instructions failed")
			return
		}
		if pending > int64(s.maxProcessingCount) {
			// replaying an enormous backlog instruction by instruction is
			// slower and riskier than a full rebuild
			result.ColdBoot = true
		}
	}

	if result.ColdBoot {
		// Capture the log head before any rebuild work so that instructions
		// written during the rebuild are replayed afterwards. At worst an
		// instruction is replayed twice, which refreshers must tolerate;
		// capturing the head after the rebuild could lose them entirely.
		if result.MaxID, err = s.store.GetMaxID(); err != nil {
			err = errors.Wrap(err, "capture max row id failed")
			return
		}

		coldBootCounter.Inc()
		s.bus.Publish(eventbus.TopicColdBoot, result.MaxID)

		log.WithFields(log.Fields{
			"lastId": lastID,
			"maxId":  result.MaxID,
		}).Warn("cold boot, rebuilding all local caches from primary data")
	}

	return
}

// DeliverInstructions serializes instructions into one durable log row tagged
// with the local server identity.
//
// The delivering server does not touch its own caches here, it is assumed to
// have applied the change locally through a direct code path already.
func (s *Syncer) DeliverInstructions(instructions []types.RefreshInstruction, localID proto.ServerID) (err error) {
	var raw string
	if raw, err = types.SerializeInstructions(instructions); err != nil {
		return
	}

	batch := &types.InstructionBatch{
		Instructions:     raw,
		OriginID:         localID,
		InstructionCount: len(instructions),
	}

	if err = s.store.Add(batch); err != nil {
		return
	}

	rowsDeliveredCounter.Inc()

	log.WithFields(log.Fields{
		"id":           batch.ID,
		"origin":       localID,
		"instructions": len(instructions),
	}).Debug("delivered instruction batch")

	return
}

// DeliverInstructionsInBatches partitions instructions into consecutive
// chunks no larger than MaxProcessingInstructionCount and appends one row per
// chunk within a single transaction, so readers see all chunks of a logical
// operation or none.
func (s *Syncer) DeliverInstructionsInBatches(instructions []types.RefreshInstruction, localID proto.ServerID) (err error) {
	var batches []*types.InstructionBatch

	for start := 0; start < len(instructions); start += s.maxProcessingCount {
		end := start + s.maxProcessingCount
		if end > len(instructions) {
			end = len(instructions)
		}

		chunk := instructions[start:end]

		var raw string
		if raw, err = types.SerializeInstructions(chunk); err != nil {
			return
		}

		batches = append(batches, &types.InstructionBatch{
			Instructions:     raw,
			OriginID:         localID,
			InstructionCount: len(chunk),
		})
	}

	if len(batches) == 0 {
		return
	}

	if err = s.store.AddBatch(batches); err != nil {
		return
	}

	rowsDeliveredCounter.Add(float64(len(batches)))

	log.WithFields(log.Fields{
		"rows":         len(batches),
		"origin":       localID,
		"instructions": len(instructions),
	}).Debug("delivered chunked instruction batch")

	return
}

// ProcessInstructions replays pending foreign instruction rows against the
// refresher registry and runs the pruning gate. It is the core tailing loop,
// executed periodically by every server of the farm.
//
// released is a cooperative cancellation probe checked at row boundaries
// only, never mid-row: a torn replay state is worse than a briefly delayed
// shutdown.
func (s *Syncer) ProcessInstructions(released func() bool, localID proto.ServerID, lastID int64, lastPruned time.Time) (result types.ProcessResult, err error) {
	tm := timer.NewTimer()

	defer func() {
		log.WithFields(log.Fields{
			"origin":    localID,
			"processed": result.InstructionsProcessed,
			"lastId":    result.LastID,
			"pruned":    result.Pruned,
		}).WithFields(tm.ToLogFields()).WithError(err).Debug("processed pending instructions")
	}()

	result.LastID = lastID

	var batches []*types.InstructionBatch
	if batches, err = s.store.GetPendingInstructions(lastID, s.processBatchLimit); err != nil {
		err = errors.Wrap(err, "fetch pending instructions failed")
		return
	}

	tm.Add("fetch")

	// de-duplication scope is one processing pass
	seen := make(map[types.RefreshInstruction]struct{})

	for _, batch := range batches {
		if released() {
			// resume from the current boundary on the next pass
			break
		}

		if batch.OriginID == localID {
			// own row, already applied through the direct path; advance only
			result.LastID = batch.ID
			rowsSkippedCounter.Inc()
			continue
		}

		instructions, parseErr := types.ParseInstructions(batch.Instructions)
		if parseErr != nil {
			// a corrupt row must never block the farm from making progress
			log.WithFields(log.Fields{
				"id":      batch.ID,
				"origin":  batch.OriginID,
				"payload": batch.Instructions,
			}).WithError(parseErr).Error("parse instruction row failed, skipping row")

			result.LastID = batch.ID
			rowsFailedCounter.Inc()
			continue
		}

		if dispatchErr := s.dispatchAll(seen, instructions); dispatchErr != nil {
			// A row that cannot be applied is assumed permanently
			// un-appliable; retrying it forever would wedge the server. The
			// local cache silently diverges until the next full rebuild.
			log.WithFields(log.Fields{
				"id":      batch.ID,
				"origin":  batch.OriginID,
				"payload": batch.Instructions,
			}).WithError(dispatchErr).Error("apply instruction row failed, distributed cache is not updated")

			result.LastID = batch.ID
			rowsFailedCounter.Inc()
			continue
		}

		result.LastID = batch.ID
		result.InstructionsProcessed++
		rowsProcessedCounter.Inc()
	}

	cursorGauge.Set(float64(result.LastID))
	tm.Add("replay")

	if result.Pruned, err = s.prune(released, lastPruned); err != nil {
		return
	}

	tm.Add("prune")

	s.bus.Publish(eventbus.TopicProcessed, result)
	return
}

// dispatchAll applies one row's instructions, de-duplicating structurally
// equal instructions within the pass.
func (s *Syncer) dispatchAll(seen map[types.RefreshInstruction]struct{}, instructions []types.RefreshInstruction) (err error) {
	for _, ins := range instructions {
		if _, dup := seen[ins]; dup {
			continue
		}

		if err = s.dispatch(ins); err != nil {
			return
		}

		seen[ins] = struct{}{}
	}
	return
}

func (s *Syncer) dispatch(ins types.RefreshInstruction) (err error) {
	var ref refresher.Refresher
	if ref, err = s.registry.Lookup(ins.RefresherID); err != nil {
		return
	}

	switch ins.Type {
	case types.RefreshAll:
		err = ref.RefreshAll()
	case types.RefreshByGUID:
		err = ref.RefreshByGUID(ins.GUIDID)
	case types.RefreshByID:
		err = ref.RefreshByID(ins.IntID)
	case types.RefreshByIDs:
		var ids []int64
		if ids, err = types.ParseIntIDs(ins.JSONIDs); err != nil {
			return
		}
		for _, id := range ids {
			if err = ref.RefreshByID(id); err != nil {
				return
			}
		}
	case types.RefreshByJSON:
		payloadRef, ok := ref.(refresher.PayloadRefresher)
		if !ok {
			// a configuration error, not a transient condition
			err = errors.Wrapf(refresher.ErrPayloadNotSupported, "refresher %s", ref.Name())
			return
		}
		err = payloadRef.RefreshByPayload(ins.JSONPayload)
	case types.RemoveByID:
		err = ref.RemoveByID(ins.IntID)
	default:
		err = errors.Wrapf(ErrUnknownRefreshType, "refresh type %d", ins.Type)
	}

	return
}

// prune runs the pruning gate: only the Single or Master server deletes aged
// rows, at most once per prune interval, and never during shutdown. The store
// retains the newest row regardless of age.
func (s *Syncer) prune(released func() bool, lastPruned time.Time) (pruned bool, err error) {
	if released() {
		return
	}
	if time.Now().UTC().Sub(lastPruned) < s.pruneInterval {
		return
	}

	role := s.roles.CurrentServerRole()
	if !role.CanPrune() {
		return
	}

	cutoff := time.Now().UTC().Add(-s.retention)
	if err = s.store.DeleteInstructionsOlderThan(cutoff); err != nil {
		err = errors.Wrap(err, "prune instruction log failed")
		return
	}

	pruned = true
	pruneCounter.Inc()
	s.bus.Publish(eventbus.TopicPruned)

	log.WithFields(log.Fields{
		"role":   role.String(),
		"cutoff": cutoff,
	}).Debug("pruned instruction log")

	return
}
