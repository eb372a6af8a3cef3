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

package rbd

import (
	"context"
	"sync"

	"github.com/ceph/rbd-mirror-bootstrap/internal/cluster"
)

// FakeImage is an in-memory ImageHandle used by bootstrap-pipeline tests
// in place of a real librbd-backed Image, the same way cluster.FakeIoContext
// and journal.FakeBackend stand in for their real counterparts.
type FakeImage struct {
	mu sync.Mutex

	NameValue string
	IDValue   string
	SizeValue uint64
	Promotion cluster.PromotionState

	OpenErr      error
	CreateErr    error
	PromotionErr error
	GetSizeErr   error

	Opened  bool
	Created bool
	Closed  int
}

// NewFakeImage returns a FakeImage reporting name/id/size/promotion until a
// test mutates it or Create overwrites the fields.
func NewFakeImage(name, id string, size uint64, promotion cluster.PromotionState) *FakeImage {
	return &FakeImage{NameValue: name, IDValue: id, SizeValue: size, Promotion: promotion}
}

func (f *FakeImage) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.OpenErr != nil {
		return f.OpenErr
	}

	f.Opened = true

	return nil
}

func (f *FakeImage) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Opened = false
	f.Closed++

	return nil
}

func (f *FakeImage) Create(_ context.Context, opts CreateOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return f.CreateErr
	}

	f.NameValue = opts.Name
	f.IDValue = "created-" + opts.Name
	f.SizeValue = opts.Size
	f.Created = true
	// a freshly created image opens cleanly, regardless of any OpenErr a
	// test preset to simulate the replica not existing yet.
	f.OpenErr = nil

	return nil
}

func (f *FakeImage) GetSize() (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.GetSizeErr != nil {
		return 0, f.GetSizeErr
	}

	return f.SizeValue, nil
}

func (f *FakeImage) PromotionState() (cluster.PromotionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PromotionErr != nil {
		return cluster.PromotionStateUnknown, f.PromotionErr
	}

	return f.Promotion, nil
}

func (f *FakeImage) ImageID() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.IDValue
}

func (f *FakeImage) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.NameValue
}

var _ ImageHandle = (*FakeImage)(nil)
