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
	"encoding/json"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/cachefarm/cachefarm/utils/log"
)

// ContentCacheID is the farm-wide id of the published content cache refresher.
var ContentCacheID = uuid.Must(uuid.FromString("b29286dd-2d40-4ddb-b325-681226589fec"))

// contentPayloadItem is one entry of a RefreshByJSON payload for the content
// cache: either an integer id or a GUID addressing a cached document.
type contentPayloadItem struct {
	ID   int64  `json:"id,omitempty"`
	GUID string `json:"guid,omitempty"`
}

// ContentCache is an LRU cache of published content keyed by integer id,
// with a secondary GUID index. Its refresher surface evicts entries so that
// the next read reloads from the primary data.
//
// Eviction is idempotent, replaying the same instruction twice leaves the
// cache in the same state.
type ContentCache struct {
	mu    sync.Mutex
	cache *lru.Cache
	guids map[uuid.UUID]int64
}

// NewContentCache creates a content cache holding at most size entries.
func NewContentCache(size int) (c *ContentCache, err error) {
	c = &ContentCache{
		guids: make(map[uuid.UUID]int64),
	}

	if c.cache, err = lru.NewWithEvict(size, c.onEvict); err != nil {
		c = nil
		err = errors.Wrap(err, "create content cache failed")
	}
	return
}

func (c *ContentCache) onEvict(key interface{}, value interface{}) {
	// key space of the guid index follows the lru strictly
	if entry, ok := value.(contentEntry); ok {
		delete(c.guids, entry.guid)
	}
}

type contentEntry struct {
	guid uuid.UUID
	data interface{}
}

// Put caches one published document under both its id and guid.
func (c *ContentCache) Put(id int64, guid uuid.UUID, data interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Add(id, contentEntry{guid: guid, data: data})
	c.guids[guid] = id
}

// Get fetches one cached document by id.
func (c *ContentCache) Get(id int64) (data interface{}, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var value interface{}
	if value, ok = c.cache.Get(id); ok {
		data = value.(contentEntry).data
	}
	return
}

// Len returns the cached entry count.
func (c *ContentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cache.Len()
}

// UniqueID implements Refresher.
func (c *ContentCache) UniqueID() uuid.UUID {
	return ContentCacheID
}

// Name implements Refresher.
func (c *ContentCache) Name() string {
	return "ContentCacheRefresher"
}

// RefreshAll implements Refresher.
func (c *ContentCache) RefreshAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Purge()
	log.WithField("refresher", c.Name()).Debug("purged content cache")
	return nil
}

// RefreshByID implements Refresher.
func (c *ContentCache) RefreshByID(id int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Remove(id)
	return nil
}

// RefreshByGUID implements Refresher.
func (c *ContentCache) RefreshByGUID(guid uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.guids[guid]; ok {
		c.cache.Remove(id)
	}
	return nil
}

// RemoveByID implements Refresher.
func (c *ContentCache) RemoveByID(id int64) error {
	return c.RefreshByID(id)
}

// RefreshByPayload implements PayloadRefresher. The payload is a JSON array
// of {id, guid} items addressing cached documents.
func (c *ContentCache) RefreshByPayload(payload string) (err error) {
	var items []contentPayloadItem
	if err = json.Unmarshal([]byte(payload), &items); err != nil {
		err = errors.Wrap(err, "parse content refresh payload failed")
		return
	}

	for _, item := range items {
		if item.ID != 0 {
			if err = c.RefreshByID(item.ID); err != nil {
				return
			}
		}
		if item.GUID != "" {
			var guid uuid.UUID
			if guid, err = uuid.FromString(item.GUID); err != nil {
				err = errors.Wrap(err, "parse content refresh payload guid failed")
				return
			}
			if err = c.RefreshByGUID(guid); err != nil {
				return
			}
		}
	}

	return
}
