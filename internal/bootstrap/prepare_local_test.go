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
	"testing"

	"github.com/ceph/rbd-mirror-bootstrap/internal/cluster"
	"github.com/ceph/rbd-mirror-bootstrap/internal/journal"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util"

	"github.com/stretchr/testify/require"
)

func TestPrepareLocalImageJournalMode(t *testing.T) {
	local := cluster.NewFakeIoContext()
	local.GlobalToID["global-1"] = "local-id"
	local.Names["local-id"] = "image-a"
	local.MirrorImages["local-id"] = cluster.MirrorImage{
		Mode:          cluster.MirrorModeJournal,
		State:         cluster.MirrorImageStateEnabled,
		GlobalImageID: "global-1",
	}
	local.MirrorUUID = "local mirror uuid"

	backend := journal.NewFakeBackend()

	sb, err := PrepareLocalImage(context.Background(), local, backend, "pool", "", "global-1")
	require.NoError(t, err)
	require.NotNil(t, sb)
	require.Equal(t, cluster.MirrorModeJournal, sb.Mode())
	require.Equal(t, "local-id", sb.LocalImageID())
	// no tag has ever been written: local_tag_owner is empty, so the
	// local side is never mistaken for primary.
	require.False(t, sb.IsLocalPrimary())
}

func TestPrepareLocalImageTagOwnerMeansPrimary(t *testing.T) {
	local := cluster.NewFakeIoContext()
	local.GlobalToID["global-1"] = "local-id"
	local.Names["local-id"] = "image-a"
	local.MirrorImages["local-id"] = cluster.MirrorImage{Mode: cluster.MirrorModeJournal}
	local.MirrorUUID = "local mirror uuid"

	backend := journal.NewFakeBackend()
	backend.Seed("pool", "", "journal.local-id", "tag_owner", "local mirror uuid")

	sb, err := PrepareLocalImage(context.Background(), local, backend, "pool", "", "global-1")
	require.NoError(t, err)
	require.True(t, sb.IsLocalPrimary())
}

func TestPrepareLocalImageNotFound(t *testing.T) {
	local := cluster.NewFakeIoContext()
	backend := journal.NewFakeBackend()

	sb, err := PrepareLocalImage(context.Background(), local, backend, "pool", "", "global-1")
	require.Nil(t, sb)
	require.True(t, errors.Is(err, util.ErrNotFound))
}

func TestPrepareLocalImageSnapshotMode(t *testing.T) {
	local := cluster.NewFakeIoContext()
	local.GlobalToID["global-1"] = "local-id"
	local.Names["local-id"] = "image-a"
	local.MirrorImages["local-id"] = cluster.MirrorImage{Mode: cluster.MirrorModeSnapshot}

	sb, err := PrepareLocalImage(context.Background(), local, journal.NewFakeBackend(), "pool", "", "global-1")
	require.NoError(t, err)
	require.Equal(t, cluster.MirrorModeSnapshot, sb.Mode())
}
