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

package snapshot

import (
	"context"
	"sort"
)

// FakeSource is an in-memory Source used by this package's tests to
// exercise SetImageState's paging without a live image.
type FakeSource struct {
	SnapLimit uint64
	Metadata  map[string]string

	// Pages, if set, overrides the page size ListMetadata uses,
	// regardless of what the caller requests, to make draining
	// observable across more than one call in tests.
	Pages int64
}

func (f *FakeSource) GetSnapshotLimit(context.Context) (uint64, error) {
	return f.SnapLimit, nil
}

func (f *FakeSource) ListMetadata(_ context.Context, startAfter string, maxReturn int64) (map[string]string, string, error) {
	if f.Pages > 0 {
		maxReturn = f.Pages
	}

	keys := make([]string, 0, len(f.Metadata))
	for k := range f.Metadata {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	entries := map[string]string{}
	lastKey := startAfter

	for _, k := range keys {
		if k <= startAfter {
			continue
		}

		if int64(len(entries)) >= maxReturn {
			break
		}

		entries[k] = f.Metadata[k]
		lastKey = k
	}

	return entries, lastKey, nil
}

// FakeSink is an in-memory Sink recording the last write SetImageState
// made, for assertions.
type FakeSink struct {
	Written map[uint64][]byte
}

// NewFakeSink returns an empty FakeSink.
func NewFakeSink() *FakeSink {
	return &FakeSink{Written: map[uint64][]byte{}}
}

func (f *FakeSink) SetImageStateAttr(_ context.Context, snapID uint64, data []byte) error {
	f.Written[snapID] = data

	return nil
}

var (
	_ Source = (*FakeSource)(nil)
	_ Sink   = (*FakeSink)(nil)
)
