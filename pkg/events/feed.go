/*
 * Copyright 2025 Carver Automation Corporation.
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

// Package events provides typed in-process observer lists and the NATS
// fan-out of service status changes.
package events

import (
	"sync"
)

// Feed is an ordered list of observers for values of type T. Publish calls
// every observer synchronously in registration order.
type Feed[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it.
func (f *Feed[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := f.nextID
	f.subs = append(f.subs, subscriber[T]{id: id, fn: fn})

	var once sync.Once

	return func() {
		once.Do(func() { f.remove(id) })
	}
}

func (f *Feed[T]) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, s := range f.subs {
		if s.id == id {
			f.subs = append(f.subs[:i:i], f.subs[i+1:]...)

			return
		}
	}
}

// Publish delivers v to every observer. Observers may unsubscribe from within
// their callback.
func (f *Feed[T]) Publish(v T) {
	f.mu.RLock()
	subs := make([]subscriber[T], len(f.subs))
	copy(subs, f.subs)
	f.mu.RUnlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of registered observers.
func (f *Feed[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return len(f.subs)
}
