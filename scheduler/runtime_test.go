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

package scheduler

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/cachefarm/cachefarm/refresher"
	"github.com/cachefarm/cachefarm/storage"
	"github.com/cachefarm/cachefarm/syncer"
	"github.com/cachefarm/cachefarm/types"
)

func testSyncer(t *testing.T) (s *syncer.Syncer, cache *refresher.ContentCache, cleanup func()) {
	fl, err := ioutil.TempFile("", "cachefarm-scheduler-")
	if err != nil {
		t.Fatalf("create temp database failed: %v", err)
	}
	fl.Close()

	st, err := storage.OpenStore(fl.Name())
	if err != nil {
		t.Fatalf("open store failed: %v", err)
	}

	if cache, err = refresher.NewContentCache(16); err != nil {
		t.Fatalf("create content cache failed: %v", err)
	}

	reg := refresher.NewRegistry()
	if err = reg.Register(cache); err != nil {
		t.Fatalf("register refresher failed: %v", err)
	}

	if s, err = syncer.NewSyncer(&syncer.Config{
		Store:    st,
		Registry: reg,
	}); err != nil {
		t.Fatalf("create syncer failed: %v", err)
	}

	return s, cache, func() { os.Remove(fl.Name()) }
}

func TestNewRuntime(t *testing.T) {
	Convey("config validation", t, func() {
		_, err := NewRuntime(nil)
		So(errors.Cause(err), ShouldEqual, ErrInvalidConfig)

		_, err = NewRuntime(&Config{})
		So(errors.Cause(err), ShouldEqual, ErrInvalidConfig)

		s, _, cleanup := testSyncer(t)
		defer cleanup()

		_, err = NewRuntime(&Config{Syncer: s})
		So(errors.Cause(err), ShouldEqual, ErrInvalidConfig)
	})
}

func TestRuntimeTailing(t *testing.T) {
	defer leaktest.Check(t)()

	Convey("the loop replays foreign instructions", t, func() {
		s, cache, cleanup := testSyncer(t)
		defer cleanup()

		rt, err := NewRuntime(&Config{
			Syncer:       s,
			LocalID:      "B",
			SyncInterval: 10 * time.Millisecond,
		})
		So(err, ShouldBeNil)
		So(rt.Start(), ShouldBeNil)
		// repeated start is a no-op
		So(rt.Start(), ShouldBeNil)

		cache.Put(42, uuid.Must(uuid.NewV4()), "doc")
		So(cache.Len(), ShouldEqual, 1)

		// server A invalidates document 42
		So(s.DeliverInstructions([]types.RefreshInstruction{
			types.NewRefreshByID(refresher.ContentCacheID, 42),
		}, "A"), ShouldBeNil)

		So(waitFor(func() bool { return cache.Len() == 0 }), ShouldBeTrue)
		So(rt.Cursor(), ShouldBeGreaterThan, 0)
		So(rt.LocalID().String(), ShouldEqual, "B")

		So(rt.Shutdown(), ShouldBeNil)
		// repeated shutdown is a no-op
		So(rt.Shutdown(), ShouldBeNil)
	})
}

func TestRuntimeCursorPersistence(t *testing.T) {
	defer leaktest.Check(t)()

	Convey("the cursor survives a restart", t, func() {
		s, _, cleanup := testSyncer(t)
		defer cleanup()

		dir, err := ioutil.TempDir("", "cachefarm-cursor-")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)
		cursorFile := filepath.Join(dir, "lastsynced")

		So(s.DeliverInstructions([]types.RefreshInstruction{
			types.NewRefreshAll(refresher.ContentCacheID),
		}, "A"), ShouldBeNil)

		rt, err := NewRuntime(&Config{
			Syncer:       s,
			LocalID:      "B",
			SyncInterval: 10 * time.Millisecond,
			CursorFile:   cursorFile,
		})
		So(err, ShouldBeNil)
		So(rt.Start(), ShouldBeNil)

		So(waitFor(func() bool { return rt.Cursor() > 0 }), ShouldBeTrue)
		cursor := rt.Cursor()
		So(rt.Shutdown(), ShouldBeNil)

		// a fresh runtime resumes from the persisted cursor without cold boot
		rebuilt := false
		rt2, err := NewRuntime(&Config{
			Syncer:       s,
			LocalID:      "B",
			SyncInterval: 10 * time.Millisecond,
			CursorFile:   cursorFile,
			Rebuild:      func() error { rebuilt = true; return nil },
		})
		So(err, ShouldBeNil)
		So(rt2.Start(), ShouldBeNil)
		So(rt2.Cursor(), ShouldEqual, cursor)
		So(rebuilt, ShouldBeFalse)
		So(rt2.Shutdown(), ShouldBeNil)
	})

	Convey("without a cursor a non-empty log cold boots and resumes at head", t, func() {
		s, _, cleanup := testSyncer(t)
		defer cleanup()

		So(s.DeliverInstructions([]types.RefreshInstruction{
			types.NewRefreshAll(refresher.ContentCacheID),
		}, "A"), ShouldBeNil)

		rebuilt := false
		rt, err := NewRuntime(&Config{
			Syncer:       s,
			LocalID:      "B",
			SyncInterval: 10 * time.Millisecond,
			Rebuild:      func() error { rebuilt = true; return nil },
		})
		So(err, ShouldBeNil)
		So(rt.Start(), ShouldBeNil)
		So(rebuilt, ShouldBeTrue)
		So(rt.Cursor(), ShouldBeGreaterThan, 0)
		So(rt.Shutdown(), ShouldBeNil)
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
