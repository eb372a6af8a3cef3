/*
Copyright 2024 The Ceph-CSI Authors.

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

package journal

import (
	"context"
	"sync"

	"github.com/ceph/rbd-mirror-bootstrap/internal/util"
)

// FakeBackend is an in-memory Backend used by this package's own tests and
// by the bootstrap package's tests to exercise the peer-client protocol
// without a live cluster. Objects are addressed the same way the real
// Connection addresses them: (pool, namespace, oid) to a key/value map.
type FakeBackend struct {
	mu      sync.Mutex
	objects map[string]map[string]string
}

// NewFakeBackend returns an empty FakeBackend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{objects: map[string]map[string]string{}}
}

func fakeObjectKey(pool, namespace, oid string) string {
	return pool + "/" + namespace + "/" + oid
}

// Seed preloads a single omap key on oid, e.g. to simulate an existing
// tag_owner or peer-client record before a test runs.
func (f *FakeBackend) Seed(pool, namespace, oid, key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ok := fakeObjectKey(pool, namespace, oid)
	if f.objects[ok] == nil {
		f.objects[ok] = map[string]string{}
	}

	f.objects[ok][key] = value
}

// Get returns the value stored under (pool, namespace, oid, key), for
// assertions after a test drives a write path.
func (f *FakeBackend) Get(pool, namespace, oid, key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, ok := f.objects[fakeObjectKey(pool, namespace, oid)]
	if !ok {
		return "", false
	}

	v, ok := values[key]

	return v, ok
}

func (f *FakeBackend) getOMapValues(
	_ context.Context,
	pool, namespace, oid, _ string, keys []string,
) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, ok := f.objects[fakeObjectKey(pool, namespace, oid)]
	if !ok {
		return nil, util.JoinErrors(util.ErrKeyNotFound, util.ErrNotFound)
	}

	results := map[string]string{}

	for _, k := range keys {
		if v, ok := values[k]; ok {
			results[k] = v
		}
	}

	return results, nil
}

func (f *FakeBackend) setOMapKeys(
	_ context.Context,
	pool, namespace, oid string, pairs map[string]string,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	ok := fakeObjectKey(pool, namespace, oid)
	if f.objects[ok] == nil {
		f.objects[ok] = map[string]string{}
	}

	for k, v := range pairs {
		f.objects[ok][k] = v
	}

	return nil
}

func (f *FakeBackend) removeMapKeys(
	_ context.Context,
	pool, namespace, oid string, keys []string,
) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, ok := f.objects[fakeObjectKey(pool, namespace, oid)]
	if !ok {
		return nil
	}

	for _, k := range keys {
		delete(values, k)
	}

	return nil
}

var _ Backend = (*FakeBackend)(nil)
