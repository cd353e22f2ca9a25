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

package refresher

import (
	"testing"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	. "github.com/smartystreets/goconvey/convey"
)

func TestRegistry(t *testing.T) {
	Convey("register and lookup", t, func() {
		reg := NewRegistry()

		cache, err := NewContentCache(16)
		So(err, ShouldBeNil)
		So(reg.Register(cache), ShouldBeNil)

		ref, err := reg.Lookup(ContentCacheID)
		So(err, ShouldBeNil)
		So(ref.Name(), ShouldEqual, "ContentCacheRefresher")

		So(len(reg.All()), ShouldEqual, 1)
	})

	Convey("duplicate registration fails", t, func() {
		reg := NewRegistry()

		cache, _ := NewContentCache(16)
		So(reg.Register(cache), ShouldBeNil)
		So(errors.Cause(reg.Register(cache)), ShouldEqual, ErrDuplicateRefresher)
	})

	Convey("unknown refresher id fails loudly", t, func() {
		reg := NewRegistry()

		_, err := reg.Lookup(uuid.Must(uuid.NewV4()))
		So(errors.Cause(err), ShouldEqual, ErrNotFound)
	})

	Convey("clear empties the registry", t, func() {
		reg := NewRegistry()

		cache, _ := NewContentCache(16)
		So(reg.Register(cache), ShouldBeNil)

		reg.Clear()
		So(len(reg.All()), ShouldEqual, 0)

		// re-registration after clear must succeed
		So(reg.Register(cache), ShouldBeNil)
	})
}

func TestContentCache(t *testing.T) {
	newFilled := func() *ContentCache {
		cache, err := NewContentCache(16)
		So(err, ShouldBeNil)
		cache.Put(1, uuid.Must(uuid.NewV4()), "one")
		cache.Put(2, uuid.Must(uuid.NewV4()), "two")
		return cache
	}

	Convey("put and get", t, func() {
		cache := newFilled()

		data, ok := cache.Get(1)
		So(ok, ShouldBeTrue)
		So(data, ShouldEqual, "one")
		So(cache.Len(), ShouldEqual, 2)
	})

	Convey("refresh all purges everything", t, func() {
		cache := newFilled()

		So(cache.RefreshAll(), ShouldBeNil)
		So(cache.Len(), ShouldEqual, 0)
	})

	Convey("refresh by id is idempotent", t, func() {
		cache := newFilled()

		So(cache.RefreshByID(1), ShouldBeNil)
		So(cache.RefreshByID(1), ShouldBeNil)

		_, ok := cache.Get(1)
		So(ok, ShouldBeFalse)
		_, ok = cache.Get(2)
		So(ok, ShouldBeTrue)
	})

	Convey("refresh by guid follows the secondary index", t, func() {
		cache, err := NewContentCache(16)
		So(err, ShouldBeNil)

		guid := uuid.Must(uuid.NewV4())
		cache.Put(7, guid, "seven")

		So(cache.RefreshByGUID(guid), ShouldBeNil)
		_, ok := cache.Get(7)
		So(ok, ShouldBeFalse)

		// unknown guid is a no-op
		So(cache.RefreshByGUID(uuid.Must(uuid.NewV4())), ShouldBeNil)
	})

	Convey("remove by id", t, func() {
		cache := newFilled()

		So(cache.RemoveByID(2), ShouldBeNil)
		_, ok := cache.Get(2)
		So(ok, ShouldBeFalse)
	})

	Convey("payload refresh addresses ids and guids", t, func() {
		cache, err := NewContentCache(16)
		So(err, ShouldBeNil)

		guid := uuid.Must(uuid.NewV4())
		cache.Put(1, uuid.Must(uuid.NewV4()), "one")
		cache.Put(2, guid, "two")

		payload := `[{"id": 1}, {"guid": "` + guid.String() + `"}]`
		So(cache.RefreshByPayload(payload), ShouldBeNil)
		So(cache.Len(), ShouldEqual, 0)

		So(cache.RefreshByPayload("not json"), ShouldNotBeNil)
		So(cache.RefreshByPayload(`[{"guid": "not-a-guid"}]`), ShouldNotBeNil)
	})

	Convey("content cache exposes the payload capability", t, func() {
		cache, _ := NewContentCache(16)

		var ref Refresher = cache
		_, ok := ref.(PayloadRefresher)
		So(ok, ShouldBeTrue)
	})
}
