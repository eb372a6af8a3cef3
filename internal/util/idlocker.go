/*
Copyright 2019 The Kubernetes Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package util

import (
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"
)

// BootstrapOperationAlreadyExistsFmt is the format string used when a second
// bootstrap is attempted for a global image id that already has one running.
const BootstrapOperationAlreadyExistsFmt = "a bootstrap operation for global image ID %s already exists"

// BootstrapLocks implements a map with atomic operations. It stores the set
// of global image IDs that currently have a BootstrapRequest in flight, so
// that at most one bootstrap per image pair runs at a time.
type BootstrapLocks struct {
	locks sets.Set[string]
	mux   sync.Mutex
}

// NewBootstrapLocks returns a new, empty BootstrapLocks.
func NewBootstrapLocks() *BootstrapLocks {
	return &BootstrapLocks{
		locks: sets.New[string](),
	}
}

// TryAcquire tries to acquire the lock for globalImageID and returns true if
// successful. If another bootstrap is already running for globalImageID,
// returns false.
func (bl *BootstrapLocks) TryAcquire(globalImageID string) bool {
	bl.mux.Lock()
	defer bl.mux.Unlock()
	if bl.locks.Has(globalImageID) {
		return false
	}
	bl.locks.Insert(globalImageID)

	return true
}

// Release deletes the lock on globalImageID.
func (bl *BootstrapLocks) Release(globalImageID string) {
	bl.mux.Lock()
	defer bl.mux.Unlock()
	bl.locks.Delete(globalImageID)
}
