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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ceph/rbd-mirror-bootstrap/internal/cluster"
	"github.com/ceph/rbd-mirror-bootstrap/internal/journal"
	"github.com/ceph/rbd-mirror-bootstrap/internal/rbd"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util"

	"github.com/stretchr/testify/require"
)

const (
	testLocalMirrorUUID  = "11111111-1111-1111-1111-111111111111"
	testRemoteMirrorUUID = "remote mirror uuid"
)

// clientOmapKey mirrors the private helper in package journal: the omap key
// a Journaler stores its peer-client record under.
func clientOmapKey(clientID string) string {
	return "client_" + clientID
}

// journalHeaderObject mirrors package journal's private headerObject: the
// oid a remote image's journal client records live on.
func journalHeaderObject(imageID string) string {
	return "journal." + imageID
}

// linkedConfig builds the local/remote fixtures every scenario 1-5 test
// starts from: a Journal-mode local image that is not itself primary (so
// the pipeline proceeds past IsLocalPrimary) linked to a Journal-mode
// remote image by global id, with both FakeImages wired through
// Config.NewLocalImage/NewRemoteImage. Callers mutate the returned pieces
// before calling Send to steer a specific scenario.
func linkedConfig(localImageID string) (Config, *cluster.FakeIoContext, *cluster.FakeIoContext, *journal.FakeBackend, *rbd.FakeImage, *rbd.FakeImage) {
	local := cluster.NewFakeIoContext()
	local.MirrorUUID = testLocalMirrorUUID

	if localImageID != "" {
		local.GlobalToID["global-1"] = localImageID
		local.Names[localImageID] = "local-name"
		local.MirrorImages[localImageID] = cluster.MirrorImage{
			Mode:          cluster.MirrorModeJournal,
			State:         cluster.MirrorImageStateEnabled,
			GlobalImageID: "global-1",
		}
	}

	remote := cluster.NewFakeIoContext()
	remote.MirrorUUID = testRemoteMirrorUUID
	remote.GlobalToID["global-1"] = "remote-id"
	remote.Names["remote-id"] = "remote-name"
	remote.MirrorImages["remote-id"] = cluster.MirrorImage{
		Mode:          cluster.MirrorModeJournal,
		State:         cluster.MirrorImageStateEnabled,
		GlobalImageID: "global-1",
	}

	remoteJournal := journal.NewFakeBackend()

	localImage := rbd.NewFakeImage("local-name", localImageID, 0, cluster.PromotionStateNonPrimary)
	remoteImage := rbd.NewFakeImage("remote-name", "remote-id", 4096, cluster.PromotionStatePrimary)

	cfg := baseConfig()
	cfg.LocalIoCtx = local
	cfg.RemoteIoCtx = remote
	cfg.LocalJournalConn = journal.NewFakeBackend()
	cfg.RemoteJournalConn = remoteJournal
	cfg.LocalMirrorUUID = testLocalMirrorUUID
	cfg.NewLocalImage = func(string) rbd.ImageHandle { return localImage }
	cfg.NewRemoteImage = func(string) rbd.ImageHandle { return remoteImage }

	return cfg, local, remote, remoteJournal, localImage, remoteImage
}

// seedReplayingClient records a peer-client record on remoteJournal as if
// this cluster had already completed a prior sync, so PrepareReplay finds
// the local replica caught up and does not request a resync or a sync.
func seedReplayingClient(remoteJournal *journal.FakeBackend, localImageID string) {
	meta := journal.MirrorPeerClientMeta{ImageID: localImageID, State: journal.ReplayStateReplaying}
	remoteJournal.Seed("pool", "", journalHeaderObject("remote-id"), clientOmapKey(testLocalMirrorUUID), string(meta.Encode()))
}

func runBootstrap(t *testing.T, cfg Config) (StateBuilder, bool, error) {
	t.Helper()

	type result struct {
		sb       StateBuilder
		doResync bool
		err      error
	}

	done := make(chan result, 1)
	req := NewBootstrapRequest(cfg, func(sb StateBuilder, doResync bool, err error) {
		done <- result{sb, doResync, err}
	})

	req.Send(context.Background())

	select {
	case r := <-done:
		return r.sb, r.doResync, r.err
	case <-time.After(5 * time.Second):
		t.Fatal("onFinish never fired")

		return nil, false, nil
	}
}

// TestBootstrapRequestHappyPathReplaysWithoutSync covers the happy-path
// scenario: both replicas already linked and caught up, so the pipeline
// completes without a resync or an image-sync.
func TestBootstrapRequestHappyPathReplaysWithoutSync(t *testing.T) {
	cfg, _, _, remoteJournal, localImage, remoteImage := linkedConfig("local-id")
	seedReplayingClient(remoteJournal, "local-id")

	sb, doResync, err := runBootstrap(t, cfg)

	require.NoError(t, err)
	require.NotNil(t, sb)
	require.False(t, doResync)
	require.Same(t, localImage, sb.LocalImage())
	require.Equal(t, 1, remoteImage.Closed)
}

// TestBootstrapRequestCreatesLocalImageWhenAbsent covers the
// local-replica-absent scenario: the local replica does not exist yet, so the pipeline
// creates it from the remote image's size and performs a full image-sync
// against a freshly registered (never-synced) peer-client record.
func TestBootstrapRequestCreatesLocalImageWhenAbsent(t *testing.T) {
	cfg, _, _, _, localImage, remoteImage := linkedConfig("")

	sb, doResync, err := runBootstrap(t, cfg)

	require.NoError(t, err)
	require.NotNil(t, sb)
	require.False(t, doResync)
	require.True(t, localImage.Created)
	require.Equal(t, remoteImage.SizeValue, localImage.SizeValue)
	require.Equal(t, "created-mirror-global-1", localImage.IDValue)
	require.Same(t, localImage, sb.LocalImage())
	require.Equal(t, 1, remoteImage.Closed)
}

// TestBootstrapRequestLocalPrimaryStopsBeforeOpeningRemote covers the
// local-is-primary scenario: the local replica already owns the active journal tag, so
// the pipeline must stop at the IsLocalPrimary check without ever opening
// the remote image.
func TestBootstrapRequestLocalPrimaryStopsBeforeOpeningRemote(t *testing.T) {
	local := cluster.NewFakeIoContext()
	local.MirrorUUID = testLocalMirrorUUID
	local.GlobalToID["global-1"] = "local-id"
	local.Names["local-id"] = "local-name"
	local.MirrorImages["local-id"] = cluster.MirrorImage{
		Mode:          cluster.MirrorModeJournal,
		State:         cluster.MirrorImageStateEnabled,
		GlobalImageID: "global-1",
	}

	localJournal := journal.NewFakeBackend()
	localJournal.Seed("pool", "", journalHeaderObject("local-id"), "tag_owner", testLocalMirrorUUID)

	remote := cluster.NewFakeIoContext()
	remote.MirrorUUID = testRemoteMirrorUUID
	remote.GlobalToID["global-1"] = "remote-id"
	remote.MirrorImages["remote-id"] = cluster.MirrorImage{
		Mode:          cluster.MirrorModeJournal,
		State:         cluster.MirrorImageStateEnabled,
		GlobalImageID: "global-1",
	}

	remoteImage := rbd.NewFakeImage("remote-name", "remote-id", 4096, cluster.PromotionStatePrimary)

	cfg := baseConfig()
	cfg.LocalIoCtx = local
	cfg.RemoteIoCtx = remote
	cfg.LocalJournalConn = localJournal
	cfg.RemoteJournalConn = journal.NewFakeBackend()
	cfg.LocalMirrorUUID = testLocalMirrorUUID
	cfg.NewRemoteImage = func(string) rbd.ImageHandle { return remoteImage }

	sb, doResync, err := runBootstrap(t, cfg)

	require.NoError(t, err)
	require.NotNil(t, sb)
	require.False(t, doResync)
	require.True(t, sb.IsLocalPrimary())
	require.False(t, remoteImage.Opened)
}

// TestBootstrapRequestDisconnectedClientRequestsResync covers the
// disconnected-client scenario: the registered peer-client record reports the replica has
// fallen too far behind, so PrepareReplay must request a resync instead of
// attempting replay or an image-sync.
func TestBootstrapRequestDisconnectedClientRequestsResync(t *testing.T) {
	cfg, _, _, remoteJournal, _, remoteImage := linkedConfig("local-id")

	meta := journal.MirrorPeerClientMeta{ImageID: "local-id", State: journal.ReplayStateDisconnected}
	remoteJournal.Seed("pool", "", journalHeaderObject("remote-id"), clientOmapKey(testLocalMirrorUUID), string(meta.Encode()))

	sb, doResync, err := runBootstrap(t, cfg)

	require.NoError(t, err)
	require.NotNil(t, sb)
	require.True(t, doResync)
	require.Equal(t, 1, remoteImage.Closed)
}

// TestBootstrapRequestSyncErrorClosesBothImages covers the sync-error
// scenario: an already-created local replica whose peer-client record has not
// caught up triggers a full image-sync, which fails; both the remote and
// local images must still be released.
func TestBootstrapRequestSyncErrorClosesBothImages(t *testing.T) {
	cfg, _, _, remoteJournal, localImage, remoteImage := linkedConfig("local-id")

	// a peer-client record whose image id does not match the local replica
	// (but is not empty, and not Disconnected) means replay has not caught
	// up: PrepareReplay requests a sync rather than a resync.
	meta := journal.MirrorPeerClientMeta{ImageID: "some-other-id", State: journal.ReplayStateReplaying}
	remoteJournal.Seed("pool", "", journalHeaderObject("remote-id"), clientOmapKey(testLocalMirrorUUID), string(meta.Encode()))

	syncErr := errors.New("object-sync transport failure")
	remoteImage.GetSizeErr = syncErr

	sb, doResync, err := runBootstrap(t, cfg)

	require.Error(t, err)
	require.True(t, errors.Is(err, syncErr))
	require.NotNil(t, sb)
	require.False(t, doResync)
	require.False(t, localImage.Created)
	require.Equal(t, 1, remoteImage.Closed)
	require.Equal(t, 1, localImage.Closed)
}

// baseConfig returns a Config whose local and remote IoContexts both report
// the local replica and the remote mirror uuid absent, so the pipeline
// fails during PrepareLocalImage/PrepareRemoteImage without ever
// constructing an *rbd.Image — these tests exercise the coordinator's own
// contract (P1, P5) rather than the cgo-backed image open/close path,
// matching how this package's other tests avoid a live cluster.
func baseConfig() Config {
	return Config{
		LocalIoCtx:        cluster.NewFakeIoContext(),
		RemoteIoCtx:       cluster.NewFakeIoContext(),
		LocalJournalConn:  journal.NewFakeBackend(),
		RemoteJournalConn: journal.NewFakeBackend(),
		Pool:              "pool",
		GlobalImageID:     "global-1",
		LocalMirrorUUID:   "11111111-1111-1111-1111-111111111111",
		CommitInterval:    time.Second,
	}
}

func TestBootstrapRequestFinishesExactlyOnce(t *testing.T) {
	var calls int32

	done := make(chan struct{})
	req := NewBootstrapRequest(baseConfig(), func(StateBuilder, bool, error) {
		atomic.AddInt32(&calls, 1)
		close(done)
	})

	req.Send(context.Background())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("onFinish never fired")
	}

	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestBootstrapRequestPropagatesNotFoundWhenNeitherSideExists(t *testing.T) {
	done := make(chan error, 1)
	req := NewBootstrapRequest(baseConfig(), func(sb StateBuilder, doResync bool, err error) {
		require.Nil(t, sb)
		require.False(t, doResync)
		done <- err
	})

	req.Send(context.Background())

	select {
	case err := <-done:
		require.True(t, errors.Is(err, util.ErrNotFound))
	case <-time.After(5 * time.Second):
		t.Fatal("onFinish never fired")
	}
}

func TestBootstrapRequestCancelBeforeSendYieldsCancelled(t *testing.T) {
	done := make(chan error, 1)
	req := NewBootstrapRequest(baseConfig(), func(sb StateBuilder, _ bool, err error) {
		require.Nil(t, sb)
		done <- err
	})

	req.Cancel()
	req.Send(context.Background())

	select {
	case err := <-done:
		require.True(t, errors.Is(err, util.ErrCancelled))
	case <-time.After(5 * time.Second):
		t.Fatal("onFinish never fired")
	}
}

func TestBootstrapRequestCancelIsSafeFromConcurrentGoroutinesBeforeSend(t *testing.T) {
	req := NewBootstrapRequest(baseConfig(), func(StateBuilder, bool, error) {})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req.Cancel()
		}()
	}
	wg.Wait()

	require.True(t, req.isCancelled())
}

func TestBootstrapRequestSplitBrainSurfacesWithoutOpeningAnyImage(t *testing.T) {
	local := cluster.NewFakeIoContext()
	local.GlobalToID["global-1"] = "local-id"
	local.Names["local-id"] = "local-name"
	local.MirrorImages["local-id"] = cluster.MirrorImage{
		Mode:          cluster.MirrorModeJournal,
		State:         cluster.MirrorImageStateEnabled,
		GlobalImageID: "global-1",
	}
	local.MirrorUUID = "local mirror uuid"

	remote := cluster.NewFakeIoContext()
	remote.MirrorUUID = "remote mirror uuid"
	remote.GlobalToID["global-1"] = "remote-id"
	remote.MirrorImages["remote-id"] = cluster.MirrorImage{
		Mode:          cluster.MirrorModeSnapshot,
		State:         cluster.MirrorImageStateEnabled,
		GlobalImageID: "global-1",
	}

	localImage := rbd.NewFakeImage("local-name", "local-id", 0, cluster.PromotionStateNonPrimary)
	remoteImage := rbd.NewFakeImage("remote-name", "remote-id", 4096, cluster.PromotionStatePrimary)

	cfg := baseConfig()
	cfg.LocalIoCtx = local
	cfg.RemoteIoCtx = remote
	cfg.NewLocalImage = func(string) rbd.ImageHandle { return localImage }
	cfg.NewRemoteImage = func(string) rbd.ImageHandle { return remoteImage }

	sb, doResync, err := runBootstrap(t, cfg)

	require.False(t, localImage.Opened)
	require.False(t, remoteImage.Opened)

	// sb is the local StateBuilder PrepareLocalImage already built —
	// PrepareRemoteImage returns it alongside the split-brain error rather
	// than a literal nil, so the coordinator's deferred cleanup (and
	// anything it owns per invariant I3) still runs on this failure path.
	require.NotNil(t, sb)
	require.False(t, doResync)
	require.True(t, errors.Is(err, util.ErrSplitBrain))
}
