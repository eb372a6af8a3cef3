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

package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/ceph/rbd-mirror-bootstrap/internal/cluster"
	"github.com/ceph/rbd-mirror-bootstrap/internal/journal"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util/log"
)

// PrepareLocalImage resolves local image identity from local cluster
// metadata and allocates a mode-matching StateBuilder. A util.ErrNotFound
// result means the local replica does not exist yet; the caller continues
// the pipeline with a nil StateBuilder rather than treating this as a
// bootstrap failure.
//
// localJournalConn, pool and namespace are only consulted for the
// Journal-mode tag-owner lookup; they are unused when the local image
// reports Snapshot mode.
func PrepareLocalImage(
	ctx context.Context,
	local cluster.IoContext,
	localJournalConn journal.Backend,
	pool, namespace, globalImageID string,
) (StateBuilder, error) {
	localImageID, err := local.MirrorImageGetImageID(ctx, globalImageID)
	if err != nil {
		return nil, err
	}

	name, err := local.DirGetName(ctx, localImageID)
	if err != nil {
		return nil, fmt.Errorf("prepare_local_image: %w", err)
	}

	mi, err := local.MirrorImageGet(ctx, localImageID)
	if err != nil {
		return nil, fmt.Errorf("prepare_local_image: %w", err)
	}

	var sb StateBuilder

	switch mi.Mode {
	case cluster.MirrorModeJournal:
		jsb := &journalStateBuilder{}

		localMirrorUUID, uerr := local.MirrorUUIDGet(ctx)
		if uerr != nil {
			return nil, fmt.Errorf("prepare_local_image: %w", uerr)
		}

		tagOwner, terr := journal.GetTagOwner(ctx, localJournalConn, pool, namespace, localImageID)
		if terr != nil {
			if !errors.Is(terr, util.ErrNotFound) {
				return nil, fmt.Errorf("prepare_local_image: %w", terr)
			}

			// No tag has ever been written on a freshly created local
			// image; an absent tag owner is not ownership of anything.
			tagOwner = ""
		}

		jsb.setLocalMirrorUUID(localMirrorUUID)
		jsb.setLocalTagOwner(tagOwner)
		sb = jsb
	case cluster.MirrorModeSnapshot:
		sb = &snapshotStateBuilder{}
	default:
		return nil, fmt.Errorf("prepare_local_image: %w: unknown local mirror mode %q", util.ErrUnsupported, mi.Mode)
	}

	sb.SetLocalImageID(localImageID)

	log.DebugLog(ctx, "prepare_local_image: resolved local image %q (id=%q, mode=%s)", name, localImageID, mi.Mode)

	return sb, nil
}
