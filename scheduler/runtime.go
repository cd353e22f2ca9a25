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

// Package scheduler drives the sync protocol: it owns the per-process sync
// state (identity, cursor, last prune time) and serially invokes the syncer's
// initialization and processing entry points.
package scheduler

import (
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/cachefarm/cachefarm/conf"
	"github.com/cachefarm/cachefarm/proto"
	"github.com/cachefarm/cachefarm/syncer"
	"github.com/cachefarm/cachefarm/types"
	"github.com/cachefarm/cachefarm/utils/log"
)

var (
	// ErrInvalidConfig represents an invalid runtime config.
	ErrInvalidConfig = errors.New("invalid runtime config")
	// ErrReleased defines error for an initialization attempt during shutdown.
	ErrReleased = errors.New("runtime already released")
)

// Config defines the scheduler runtime configuration.
type Config struct {
	// Syncer is the sync service to drive. Required.
	Syncer *syncer.Syncer
	// LocalID is this server's identity. Required.
	LocalID proto.ServerID
	// SyncInterval is the tailing period. Defaults to conf.DefaultSyncInterval.
	SyncInterval time.Duration
	// CursorFile persists the cursor across restarts. Empty disables
	// persistence, forcing a cold boot on every restart of a non-empty farm.
	CursorFile string
	// Rebuild rebuilds all local caches from the primary data on cold boot.
	// Optional; the default does nothing but log.
	Rebuild func() error
}

// Runtime is the per-process scheduling loop.
//
// One Runtime owns the cursor: EnsureInitialized is invoked once during
// Start and ProcessInstructions runs serially on the tailing goroutine, so
// the syncer's single-caller requirement holds by construction.
type Runtime struct {
	syncer   *syncer.Syncer
	localID  proto.ServerID
	interval time.Duration
	file     string
	rebuild  func() error

	cursor     int64 // atomic, visible to the status API
	lastPruned time.Time

	released uint32
	started  uint32
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewRuntime creates a new scheduler runtime.
func NewRuntime(cfg *Config) (rt *Runtime, err error) {
	if cfg == nil {
		err = errors.Wrap(ErrInvalidConfig, "nil config")
		return
	}
	if cfg.Syncer == nil {
		err = errors.Wrap(ErrInvalidConfig, "nil syncer")
		return
	}
	if cfg.LocalID.IsEmpty() {
		err = errors.Wrap(ErrInvalidConfig, "empty local server id")
		return
	}

	interval := cfg.SyncInterval
	if interval <= 0 {
		interval = conf.DefaultSyncInterval
	}

	rt = &Runtime{
		syncer:   cfg.Syncer,
		localID:  cfg.LocalID,
		interval: interval,
		file:     cfg.CursorFile,
		rebuild:  cfg.Rebuild,
		stopCh:   make(chan struct{}),
	}
	return
}

// Start initializes the local sync state and starts the tailing loop.
func (r *Runtime) Start() (err error) {
	if !atomic.CompareAndSwapUint32(&r.started, 0, 1) {
		return
	}

	lastID := r.loadCursor()

	var result = r.initResult(lastID)
	if !result.Initialized {
		err = ErrReleased
		return
	}

	if result.ColdBoot {
		if r.rebuild != nil {
			if err = r.rebuild(); err != nil {
				err = errors.Wrap(err, "cold boot rebuild failed")
				return
			}
		} else {
			log.Warn("cold boot requested but no rebuild hook is configured")
		}
		// resume tailing from the head captured before the rebuild
		r.setCursor(result.MaxID)
	} else {
		r.setCursor(result.LastID)
	}

	r.saveCursor()

	log.WithFields(log.Fields{
		"origin":   r.localID,
		"coldboot": result.ColdBoot,
		"cursor":   r.Cursor(),
	}).Info("sync runtime started")

	r.goFunc(r.processCycle)
	return
}

func (r *Runtime) initResult(lastID int64) (result types.InitResult) {
	result, err := r.syncer.EnsureInitialized(r.isReleased(), lastID)
	if err != nil {
		// a store failure here means no reliable resume point, rebuild
		log.WithError(err).Error("sync initialization failed, forcing cold boot")
		result, _ = r.syncer.EnsureInitialized(r.isReleased(), -1)
	}
	return
}

// Shutdown releases the runtime and waits for the tailing loop to stop at
// the next row boundary.
func (r *Runtime) Shutdown() (err error) {
	if !atomic.CompareAndSwapUint32(&r.started, 1, 2) {
		return
	}

	atomic.StoreUint32(&r.released, 1)

	select {
	case <-r.stopCh:
	default:
		close(r.stopCh)
	}
	r.wg.Wait()
	r.saveCursor()

	log.WithField("origin", r.localID).Info("sync runtime stopped")
	return
}

// Cursor returns the highest log row id this server has fully applied.
func (r *Runtime) Cursor() int64 {
	return atomic.LoadInt64(&r.cursor)
}

// LocalID returns this server's identity.
func (r *Runtime) LocalID() proto.ServerID {
	return r.localID
}

func (r *Runtime) setCursor(id int64) {
	atomic.StoreInt64(&r.cursor, id)
}

func (r *Runtime) isReleased() bool {
	return atomic.LoadUint32(&r.released) == 1
}

func (r *Runtime) goFunc(f func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		f()
	}()
}

func (r *Runtime) processCycle() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.processOnce()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Runtime) processOnce() {
	result, err := r.syncer.ProcessInstructions(
		r.isReleased, r.localID, r.Cursor(), r.lastPruned)
	if err != nil {
		log.WithError(err).Error("process pending instructions failed")
		return
	}

	r.setCursor(result.LastID)
	if result.Pruned {
		r.lastPruned = time.Now().UTC()
	}
	r.saveCursor()
}

// loadCursor reads the persisted cursor, zero when absent or unreadable.
func (r *Runtime) loadCursor() (lastID int64) {
	if r.file == "" {
		return
	}

	buf, err := ioutil.ReadFile(r.file)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warn("read cursor file failed, treating as never synced")
		}
		return
	}

	lastID, err = strconv.ParseInt(strings.TrimSpace(string(buf)), 10, 64)
	if err != nil {
		log.WithError(err).Warn("parse cursor file failed, treating as never synced")
		lastID = 0
	}
	return
}

func (r *Runtime) saveCursor() {
	if r.file == "" {
		return
	}

	content := strconv.FormatInt(r.Cursor(), 10)
	if err := ioutil.WriteFile(r.file, []byte(content), 0644); err != nil {
		log.WithError(err).Warn("write cursor file failed")
	}
}
