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
	"fmt"

	"github.com/ceph/rbd-mirror-bootstrap/internal/cluster"
	"github.com/ceph/rbd-mirror-bootstrap/internal/rbd"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util/log"
)

// OpenRemoteImage opens a read handle to the remote replica.
func OpenRemoteImage(ctx context.Context, remoteImage rbd.ImageHandle) error {
	if err := remoteImage.Open(ctx); err != nil {
		return fmt.Errorf("open_remote_image: %w", err)
	}

	return nil
}

// CloseRemoteImage is a best-effort terminal step: the coordinator invokes
// it on every path, logs any failure, and never lets it override a prior
// bootstrap result.
func CloseRemoteImage(ctx context.Context, remoteImage rbd.ImageHandle) error {
	return remoteImage.Close(ctx)
}

// GetRemoteMirrorInfo fetches the remote image's promotion state and fails
// with util.ErrRemoteNotPrimary when the remote is not the primary.
func GetRemoteMirrorInfo(ctx context.Context, remoteImage rbd.ImageHandle) (cluster.PromotionState, error) {
	state, err := remoteImage.PromotionState()
	if err != nil {
		return cluster.PromotionStateUnknown, fmt.Errorf("get_remote_mirror_info: %w", err)
	}

	if state != cluster.PromotionStatePrimary {
		return state, fmt.Errorf("get_remote_mirror_info: %w: remote promotion state is %s", util.ErrRemoteNotPrimary, state)
	}

	log.DebugLog(ctx, "get_remote_mirror_info: remote %q is primary", remoteImage)

	return state, nil
}

// OpenLocalImage opens the local replica and rejects it if the local side
// is itself primary — a local primary must never be overwritten by a
// bootstrap driven from the remote side. A util.ErrNotFound result means
// the local replica does not exist; the coordinator then calls
// CreateLocalImage, which leaves the new replica open, and does not call
// OpenLocalImage again.
func OpenLocalImage(ctx context.Context, local rbd.ImageHandle) error {
	if err := local.Open(ctx); err != nil {
		return fmt.Errorf("open_local_image: %w", err)
	}

	state, err := local.PromotionState()
	if err != nil {
		_ = local.Close(ctx)

		return fmt.Errorf("open_local_image: %w", err)
	}

	if state == cluster.PromotionStatePrimary {
		_ = local.Close(ctx)

		return fmt.Errorf("open_local_image: %w", util.ErrLocalIsPrimary)
	}

	return nil
}

// CreateLocalImage delegates local-replica creation to sb's mode-specific
// behavior, so the Snapshot variant can refuse with util.ErrUnsupported
// without OpenLocalImageRequest needing to know about mode at all.
func CreateLocalImage(ctx context.Context, sb StateBuilder, local, remoteImage rbd.ImageHandle, globalImageID string) error {
	if err := sb.CreateLocalImage(ctx, local, remoteImage, globalImageID); err != nil {
		return fmt.Errorf("create_local_image: %w", err)
	}

	return nil
}
