/*
 * Copyright 2019 The CacheFarm Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package eventbus

import (
	"sync/atomic"
	"testing"
)

func TestNew(t *testing.T) {
	bus := New()
	if bus == nil {
		t.Fatal("New EventBus not created!")
	}
}

func TestHasCallback(t *testing.T) {
	bus := New()
	bus.Subscribe(TopicColdBoot, func(maxID int64) {})
	if bus.HasCallback(TopicProcessed) {
		t.Fail()
	}
	if !bus.HasCallback(TopicColdBoot) {
		t.Fail()
	}
}

func TestSubscribe(t *testing.T) {
	bus := New()
	if bus.Subscribe(TopicPruned, func() {}) != nil {
		t.Fail()
	}
	if bus.Subscribe(TopicPruned, "String") == nil {
		t.Fail()
	}
}

func TestPublish(t *testing.T) {
	bus := New()
	var got int64
	bus.Subscribe(TopicColdBoot, func(maxID int64) {
		got = maxID
	})
	bus.Publish(TopicColdBoot, int64(42))
	if got != 42 {
		t.Fail()
	}
}

func TestPublishAsync(t *testing.T) {
	bus := New()
	var counter int64
	bus.SubscribeAsync(TopicProcessed, func() {
		atomic.AddInt64(&counter, 1)
	})
	for i := 0; i < 10; i++ {
		bus.Publish(TopicProcessed)
	}
	bus.WaitAsync()
	if atomic.LoadInt64(&counter) != 10 {
		t.Fail()
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := New()
	handler := func() {}
	bus.Subscribe(TopicPruned, handler)
	if bus.Unsubscribe(TopicPruned, handler) != nil {
		t.Fail()
	}
	if bus.Unsubscribe(TopicPruned, handler) == nil {
		t.Fail()
	}
	if bus.HasCallback(TopicPruned) {
		t.Fail()
	}
}
