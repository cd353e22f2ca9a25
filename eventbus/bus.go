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

// Package eventbus provides the in-process bus carrying sync protocol
// lifecycle events to local subscribers.
package eventbus

import (
	"reflect"
	"sync"

	"github.com/pkg/errors"
)

// Topics published by the sync scheduler. Handlers must not block: cold boot
// and processed events fire from the scheduling loop.
const (
	// TopicColdBoot fires before a full local cache rebuild, with the
	// captured max log id as argument.
	TopicColdBoot = "sync/coldboot"
	// TopicProcessed fires after every processing pass, with the resulting
	// ProcessResult as argument.
	TopicProcessed = "sync/processed"
	// TopicPruned fires after a prune run.
	TopicPruned = "sync/pruned"
)

// ErrNotAFunction represents a subscription with a non-function handler.
var ErrNotAFunction = errors.New("handler is not a function")

// Bus defines subscribe/publish bus behavior.
type Bus interface {
	Subscribe(topic string, handler interface{}) error
	SubscribeAsync(topic string, handler interface{}) error
	Unsubscribe(topic string, handler interface{}) error
	HasCallback(topic string) bool
	Publish(topic string, args ...interface{})
	WaitAsync()
}

type eventHandler struct {
	callback reflect.Value
	async    bool
}

// EventBus is the in-memory Bus implementation.
type EventBus struct {
	mu       sync.Mutex
	handlers map[string][]*eventHandler
	wg       sync.WaitGroup
}

// New returns a new EventBus with empty handlers.
func New() Bus {
	return &EventBus{
		handlers: make(map[string][]*eventHandler),
	}
}

func (bus *EventBus) subscribe(topic string, fn interface{}, async bool) error {
	if reflect.TypeOf(fn).Kind() != reflect.Func {
		return errors.Wrapf(ErrNotAFunction, "subscribe topic %s", topic)
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()

	bus.handlers[topic] = append(bus.handlers[topic], &eventHandler{
		callback: reflect.ValueOf(fn),
		async:    async,
	})
	return nil
}

// Subscribe subscribes to a topic with a synchronous callback.
// Returns error if `fn` is not a function.
func (bus *EventBus) Subscribe(topic string, fn interface{}) error {
	return bus.subscribe(topic, fn, false)
}

// SubscribeAsync subscribes to a topic with an asynchronous callback;
// Publish does not wait for it to return.
// Returns error if `fn` is not a function.
func (bus *EventBus) SubscribeAsync(topic string, fn interface{}) error {
	return bus.subscribe(topic, fn, true)
}

// Unsubscribe removes the callback registered for a topic.
// Returns error if there are no callbacks subscribed to the topic.
func (bus *EventBus) Unsubscribe(topic string, fn interface{}) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	callback := reflect.ValueOf(fn)
	handlers := bus.handlers[topic]

	for i, handler := range handlers {
		if handler.callback == callback {
			bus.handlers[topic] = append(handlers[:i], handlers[i+1:]...)
			return nil
		}
	}

	return errors.Errorf("topic %s has no such handler", topic)
}

// HasCallback returns true if any callback is subscribed to the topic.
func (bus *EventBus) HasCallback(topic string) bool {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	return len(bus.handlers[topic]) > 0
}

// Publish executes the callbacks defined for a topic. Any additional argument
// is passed through to the callbacks.
func (bus *EventBus) Publish(topic string, args ...interface{}) {
	bus.mu.Lock()
	// handlers may be unsubscribed during iteration, iterate a copy
	handlers := append([]*eventHandler(nil), bus.handlers[topic]...)
	bus.mu.Unlock()

	passed := make([]reflect.Value, 0, len(args))
	for _, arg := range args {
		passed = append(passed, reflect.ValueOf(arg))
	}

	for _, handler := range handlers {
		if handler.async {
			bus.wg.Add(1)
			go func(h *eventHandler) {
				defer bus.wg.Done()
				h.callback.Call(passed)
			}(handler)
		} else {
			handler.callback.Call(passed)
		}
	}
}

// WaitAsync waits for all async callbacks to complete.
func (bus *EventBus) WaitAsync() {
	bus.wg.Wait()
}
