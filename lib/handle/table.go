// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package handle

import (
	"fmt"
	"sync"
)

// Table maps integer ids to handles so foreign callers never hold Go
// pointers. Id 0 is never issued and stands for a null handle.
type Table struct {
	mu      sync.Mutex
	next    uint64
	handles map[uint64]*Handle
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{handles: make(map[uint64]*Handle)}
}

// Put registers h and returns its id. A nil handle gets id 0.
func (t *Table) Put(h *Handle) uint64 {
	if h == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next++
	t.handles[t.next] = h
	return t.next
}

// Get returns the handle registered under id, or nil.
func (t *Table) Get(id uint64) *Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handles[id]
}

// Release frees the handle registered under id and forgets the id.
func (t *Table) Release(id uint64) error {
	t.mu.Lock()
	h, ok := t.handles[id]
	delete(t.handles, id)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: unknown id %d", ErrAlreadyReleased, id)
	}
	return Free(h)
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}
