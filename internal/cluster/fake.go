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

package cluster

import (
	"context"
	"sync"

	"github.com/ceph/rbd-mirror-bootstrap/internal/util"
)

// FakeIoContext is an in-memory IoContext used by bootstrap-pipeline tests
// in place of a live cluster. It is exported so other packages' tests can
// drive the same scenarios the bootstrap package itself tests.
type FakeIoContext struct {
	mu sync.Mutex

	Names        map[string]string      // imageID -> name
	MirrorImages map[string]MirrorImage // imageID -> record
	GlobalToID   map[string]string      // globalImageID -> imageID
	MirrorUUID   string
	ImageState   map[uint64][]byte
}

// NewFakeIoContext returns an empty FakeIoContext.
func NewFakeIoContext() *FakeIoContext {
	return &FakeIoContext{
		Names:        map[string]string{},
		MirrorImages: map[string]MirrorImage{},
		GlobalToID:   map[string]string{},
		ImageState:   map[uint64][]byte{},
	}
}

func (f *FakeIoContext) DirGetName(_ context.Context, imageID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name, ok := f.Names[imageID]
	if !ok {
		return "", util.ErrNotFound
	}

	return name, nil
}

func (f *FakeIoContext) MirrorUUIDGet(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.MirrorUUID, nil
}

func (f *FakeIoContext) MirrorImageGet(_ context.Context, imageID string) (MirrorImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	mi, ok := f.MirrorImages[imageID]
	if !ok {
		return MirrorImage{}, util.ErrNotFound
	}

	return mi, nil
}

func (f *FakeIoContext) MirrorImageGetImageID(_ context.Context, globalImageID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, ok := f.GlobalToID[globalImageID]
	if !ok {
		return "", util.ErrNotFound
	}

	return id, nil
}

func (f *FakeIoContext) SetImageStateAttr(_ context.Context, snapID uint64, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	f.ImageState[snapID] = cp

	return nil
}

var _ IoContext = (*FakeIoContext)(nil)
