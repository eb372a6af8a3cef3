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
	"time"

	"github.com/ceph/rbd-mirror-bootstrap/internal/cluster"
	"github.com/ceph/rbd-mirror-bootstrap/internal/journal"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util"

	"github.com/stretchr/testify/require"
)

func remoteFixture() (*cluster.FakeIoContext, *journal.FakeBackend) {
	remote := cluster.NewFakeIoContext()
	remote.MirrorUUID = "remote mirror uuid"
	remote.GlobalToID["global-1"] = "remote-id"
	remote.MirrorImages["remote-id"] = cluster.MirrorImage{
		Mode:          cluster.MirrorModeJournal,
		State:         cluster.MirrorImageStateEnabled,
		GlobalImageID: "global-1",
	}

	return remote, journal.NewFakeBackend()
}

func TestPrepareRemoteImageRegistersNewClient(t *testing.T) {
	remote, backend := remoteFixture()

	sb, err := PrepareRemoteImage(context.Background(), remote, backend, "pool", "",
		"global-1", "", "11111111-1111-1111-1111-111111111111", time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, "remote mirror uuid", sb.RemoteMirrorUUID())
	require.Equal(t, "remote-id", sb.RemoteImageID())

	raw, ok := backend.Get("pool", "", "journal.remote-id", "client_11111111-1111-1111-1111-111111111111")
	require.True(t, ok)

	meta, err := journal.DecodeMirrorPeerClientMeta([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, journal.ReplayStateReplaying, meta.State)
}

func TestPrepareRemoteImageFetchesExistingClient(t *testing.T) {
	remote, backend := remoteFixture()

	existing := journal.MirrorPeerClientMeta{ImageID: "local-id", State: journal.ReplayStateReplaying}
	backend.Seed("pool", "", "journal.remote-id", "client_11111111-1111-1111-1111-111111111111", string(existing.Encode()))

	sb, err := PrepareRemoteImage(context.Background(), remote, backend, "pool", "",
		"global-1", "local-id", "11111111-1111-1111-1111-111111111111", time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, "local-id", sb.(*journalStateBuilder).remoteClientMeta.ImageID)
}

func TestPrepareRemoteImageEmptyUUIDIsNotFound(t *testing.T) {
	remote := cluster.NewFakeIoContext()
	backend := journal.NewFakeBackend()

	sb, err := PrepareRemoteImage(context.Background(), remote, backend, "pool", "",
		"global-1", "", "11111111-1111-1111-1111-111111111111", time.Second, nil)
	require.True(t, errors.Is(err, util.ErrNotFound))
	require.Nil(t, sb)
}

func TestPrepareRemoteImageSplitBrain(t *testing.T) {
	remote, backend := remoteFixture()

	sb := &snapshotStateBuilder{}

	_, err := PrepareRemoteImage(context.Background(), remote, backend, "pool", "",
		"global-1", "", "11111111-1111-1111-1111-111111111111", time.Second, sb)
	require.True(t, errors.Is(err, util.ErrSplitBrain))
}

func TestPrepareRemoteImagePopulatesUUIDOnExistingBuilderEvenOnFailure(t *testing.T) {
	remote := cluster.NewFakeIoContext()
	remote.MirrorUUID = "remote mirror uuid"
	backend := journal.NewFakeBackend()

	sb := &journalStateBuilder{}

	_, err := PrepareRemoteImage(context.Background(), remote, backend, "pool", "",
		"global-1", "", "11111111-1111-1111-1111-111111111111", time.Second, sb)
	require.Error(t, err)
	require.Equal(t, "remote mirror uuid", sb.RemoteMirrorUUID())
}

func TestPrepareRemoteImageBadMessage(t *testing.T) {
	remote, backend := remoteFixture()
	backend.Seed("pool", "", "journal.remote-id", "client_11111111-1111-1111-1111-111111111111", "not-a-valid-record")

	_, err := PrepareRemoteImage(context.Background(), remote, backend, "pool", "",
		"global-1", "", "11111111-1111-1111-1111-111111111111", time.Second, nil)
	require.True(t, errors.Is(err, util.ErrBadMessage))
}
