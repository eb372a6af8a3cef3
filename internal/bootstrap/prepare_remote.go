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
	"time"

	"github.com/ceph/rbd-mirror-bootstrap/internal/cluster"
	"github.com/ceph/rbd-mirror-bootstrap/internal/journal"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util/log"
)

// PrepareRemoteImage resolves remote mirror identity and, for Journal mode,
// constructs a remote Journaler and fetches or registers this cluster's
// peer-client record. sb is the StateBuilder produced by PrepareLocalImage,
// or nil when the local replica does not exist; PrepareRemoteImage
// allocates one itself once the remote mode is known.
//
// Per invariant I2, once sb is non-nil its remote_mirror_uuid is recorded
// as soon as it is learned, even on a path that subsequently fails.
func PrepareRemoteImage(
	ctx context.Context,
	remote cluster.IoContext,
	remoteJournalConn journal.Backend,
	pool, namespace string,
	globalImageID, localImageID, localMirrorUUID string,
	commitInterval time.Duration,
	sb StateBuilder,
) (StateBuilder, error) {
	remoteMirrorUUID, err := remote.MirrorUUIDGet(ctx)
	if err != nil {
		return sb, fmt.Errorf("prepare_remote_image: %w", err)
	}

	if sb != nil {
		sb.SetRemoteMirrorUUID(remoteMirrorUUID)
	}

	if remoteMirrorUUID == "" {
		return sb, util.ErrNotFound
	}

	remoteImageID, err := remote.MirrorImageGetImageID(ctx, globalImageID)
	if err != nil {
		return sb, err
	}

	if sb != nil {
		sb.SetRemoteImageID(remoteImageID)
	}

	mi, err := remote.MirrorImageGet(ctx, remoteImageID)
	if err != nil {
		return sb, fmt.Errorf("prepare_remote_image: %w", err)
	}

	if sb != nil {
		if sb.Mode() != mi.Mode {
			return sb, fmt.Errorf("%w: local mode %s, remote mode %s", util.ErrSplitBrain, sb.Mode(), mi.Mode)
		}
	} else {
		switch mi.Mode {
		case cluster.MirrorModeJournal:
			sb = &journalStateBuilder{}
		case cluster.MirrorModeSnapshot:
			sb = &snapshotStateBuilder{}
		default:
			return nil, fmt.Errorf("prepare_remote_image: %w: unknown remote mirror mode %q", util.ErrUnsupported, mi.Mode)
		}

		sb.SetRemoteMirrorUUID(remoteMirrorUUID)
		sb.SetRemoteImageID(remoteImageID)
	}

	jsb, ok := sb.(*journalStateBuilder)
	if !ok {
		// Snapshot mode is reserved for extension; fail cleanly rather than
		// silently behaving like the Journal variant.
		return sb, util.ErrUnsupported
	}

	if verr := journal.ValidateMirrorUUID(localMirrorUUID); verr != nil {
		return sb, fmt.Errorf("prepare_remote_image: %w", verr)
	}

	journaler := journal.Construct(remoteJournalConn, pool, namespace, remoteImageID, localMirrorUUID, commitInterval)
	jsb.setRemoteJournaler(journaler)

	state, meta, err := journaler.GetClient(ctx)
	if err != nil {
		if !errors.Is(err, util.ErrNotFound) {
			journaler.Destroy(ctx)
			jsb.setRemoteJournaler(nil)

			return sb, fmt.Errorf("prepare_remote_image: %w", err)
		}

		registerMeta := journal.MirrorPeerClientMeta{ImageID: localImageID, State: journal.ReplayStateReplaying}

		if rerr := journaler.RegisterClient(ctx, registerMeta); rerr != nil {
			journaler.Destroy(ctx)
			jsb.setRemoteJournaler(nil)

			return sb, fmt.Errorf("prepare_remote_image: %w", rerr)
		}

		jsb.setRemoteClient(journal.ClientStateConnected, registerMeta)
	} else {
		jsb.setRemoteClient(state, meta)
	}

	log.DebugLog(ctx, "prepare_remote_image: resolved remote image %q (id=%q, mode=%s, client=%s)",
		globalImageID, remoteImageID, mi.Mode, jsb.remoteClientState)

	return sb, nil
}
