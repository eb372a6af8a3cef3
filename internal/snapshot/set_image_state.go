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

// Package snapshot implements SetImageState, the snapshot-mirroring sibling
// of the bootstrap core: given an open image and a snapshot id,
// it reads the snapshot limit, pages through every user metadata entry, and
// writes the accumulated state as a single object attribute keyed by the
// snapshot id. The core only ever reaches this subrequest's interface, not
// its internals — the pipeline itself is Journal-mode only (remote
// Snapshot mode is util.ErrUnsupported) and this package has no caller in
// the bootstrap package today; it exists to exercise the same contract a
// Snapshot-mode bootstrap would eventually depend on.
package snapshot

import (
	"context"
	"fmt"

	"github.com/ceph/rbd-mirror-bootstrap/internal/util"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util/log"
)

// metadataChunkSize bounds a single ListMetadata call, matching the
// chunk size internal/journal/omap.go uses for paging omap values.
const metadataChunkSize = 512

// Source is the narrow read surface SetImageState needs from an open
// image: its configured snapshot limit and its user metadata, paged by a
// resumption key the same way internal/journal/omap.go pages journal
// client records.
type Source interface {
	// GetSnapshotLimit returns the image's configured maximum snapshot count.
	GetSnapshotLimit(ctx context.Context) (uint64, error)
	// ListMetadata returns up to maxReturn metadata entries whose keys sort
	// after startAfter ("" for the first page), along with the last key
	// seen in this page. An empty page means the listing is drained;
	// SetImageState keeps resuming from lastKey until it gets one.
	ListMetadata(ctx context.Context, startAfter string, maxReturn int64) (entries map[string]string, lastKey string, err error)
}

// Sink is the narrow write surface SetImageState needs: a single object
// attribute write keyed by snapshot id. cluster.IoContext satisfies this.
type Sink interface {
	SetImageStateAttr(ctx context.Context, snapID uint64, data []byte) error
}

// ImageState is the accumulated per-snapshot record SetImageState writes:
// the snapshot limit in effect at the time of the snapshot plus every user
// metadata entry, so a later replica can reconstruct both without
// replaying the full metadata history.
type ImageState struct {
	SnapshotLimit uint64
	Metadata      map[string]string
}

// Encode serializes state using the project's standard length-prefixed
// framing (internal/util.PutUint32*), the same framing
// journal.MirrorPeerClientMeta uses.
func (s ImageState) Encode() []byte {
	buf := util.PutUint32(nil, uint32(s.SnapshotLimit>>32))
	buf = util.PutUint32(buf, uint32(s.SnapshotLimit))
	buf = util.PutUint32(buf, uint32(len(s.Metadata)))

	for k, v := range s.Metadata {
		buf = util.PutUint32String(buf, k)
		buf = util.PutUint32String(buf, v)
	}

	return buf
}

// DecodeImageState reverses Encode. It exists mainly for tests and for any
// future consumer that needs to read back a state blob written by
// SetImageState.
func DecodeImageState(raw []byte) (ImageState, error) {
	hi, rest, err := util.ReadUint32(raw)
	if err != nil {
		return ImageState{}, util.JoinErrors(util.ErrBadMessage, err)
	}

	lo, rest, err := util.ReadUint32(rest)
	if err != nil {
		return ImageState{}, util.JoinErrors(util.ErrBadMessage, err)
	}

	count, rest, err := util.ReadUint32(rest)
	if err != nil {
		return ImageState{}, util.JoinErrors(util.ErrBadMessage, err)
	}

	metadata := make(map[string]string, count)

	for i := uint32(0); i < count; i++ {
		var key, value string

		key, rest, err = util.ReadUint32String(rest)
		if err != nil {
			return ImageState{}, util.JoinErrors(util.ErrBadMessage, err)
		}

		value, rest, err = util.ReadUint32String(rest)
		if err != nil {
			return ImageState{}, util.JoinErrors(util.ErrBadMessage, err)
		}

		metadata[key] = value
	}

	return ImageState{
		SnapshotLimit: uint64(hi)<<32 | uint64(lo),
		Metadata:      metadata,
	}, nil
}

// SetImageState runs the staged sequence from
// original_source/src/librbd/mirror/snapshot/SetImageStateRequest.h:
// GET_SNAP_LIMIT, then GET_METADATA repeated until drained, then a single
// WRITE_IMAGE_STATE. Any failure at any stage propagates without writing
// partial state.
func SetImageState(ctx context.Context, src Source, dst Sink, snapID uint64) error {
	limit, err := src.GetSnapshotLimit(ctx)
	if err != nil {
		return fmt.Errorf("set_image_state(%d): get_snap_limit: %w", snapID, err)
	}

	metadata := map[string]string{}
	startAfter := ""

	for {
		page, lastKey, lerr := src.ListMetadata(ctx, startAfter, metadataChunkSize)
		if lerr != nil {
			return fmt.Errorf("set_image_state(%d): get_metadata: %w", snapID, lerr)
		}

		for k, v := range page {
			metadata[k] = v
		}

		if len(page) == 0 {
			break
		}

		startAfter = lastKey
	}

	state := ImageState{SnapshotLimit: limit, Metadata: metadata}

	if err := dst.SetImageStateAttr(ctx, snapID, state.Encode()); err != nil {
		return fmt.Errorf("set_image_state(%d): write_image_state: %w", snapID, err)
	}

	log.DebugLog(ctx, "set_image_state(%d): wrote state with %d metadata entries, snap_limit=%d",
		snapID, len(metadata), limit)

	return nil
}
