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
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ceph/rbd-mirror-bootstrap/internal/util"

	"github.com/ceph/go-ceph/rados"
)

// snapLimitKey and metadataPrefix name the omap keys librbd stores on an
// image's header object: a single "snap_limit" counter plus a
// "metadata_"-prefixed key range holding every user metadata entry, the
// same object-and-prefix convention internal/cluster/ioctx.go uses for the
// pool-wide directory and mirroring objects.
const (
	snapLimitKey   = "snap_limit"
	metadataPrefix = "metadata_"
)

// RadosSource implements Source against a live image header object,
// following the chunked-omap idiom of internal/journal/omap.go.
type RadosSource struct {
	ioctx       *rados.IOContext
	headerObjID string
}

// NewRadosSource returns a Source bound to the header object of the image
// identified by imageID on ioctx.
func NewRadosSource(ioctx *rados.IOContext, imageID string) *RadosSource {
	return &RadosSource{ioctx: ioctx, headerObjID: "rbd_header." + imageID}
}

func (r *RadosSource) GetSnapshotLimit(context.Context) (uint64, error) {
	var (
		found bool
		value uint64
	)

	err := r.ioctx.ListOmapValues(r.headerObjID, "", snapLimitKey, 1, func(k string, v []byte) {
		if k == snapLimitKey && len(v) == 8 {
			found = true
			value = binary.LittleEndian.Uint64(v)
		}
	})
	if err != nil {
		if errors.Is(err, rados.ErrNotFound) {
			return 0, util.JoinErrors(util.ErrNotFound, err)
		}

		return 0, fmt.Errorf("get_snap_limit: %w", err)
	}

	if !found {
		// no explicit limit has ever been set: unlimited.
		return 0, nil
	}

	return value, nil
}

func (r *RadosSource) ListMetadata(
	_ context.Context,
	startAfter string,
	maxReturn int64,
) (map[string]string, string, error) {
	entries := map[string]string{}
	lastKey := startAfter

	err := r.ioctx.ListOmapValues(r.headerObjID, startAfter, metadataPrefix, maxReturn, func(k string, v []byte) {
		entries[k[len(metadataPrefix):]] = string(v)
		lastKey = k
	})
	if err != nil {
		if errors.Is(err, rados.ErrNotFound) {
			return entries, lastKey, nil
		}

		return nil, "", fmt.Errorf("get_metadata: %w", err)
	}

	return entries, lastKey, nil
}
