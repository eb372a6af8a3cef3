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

// Package bootstrap implements the image-replayer bootstrap pipeline: the
// state machine that establishes a cross-cluster mirroring relationship
// for a single image before handing off to a replayer.
package bootstrap

import (
	"context"

	"github.com/ceph/rbd-mirror-bootstrap/internal/cluster"
	"github.com/ceph/rbd-mirror-bootstrap/internal/journal"
	"github.com/ceph/rbd-mirror-bootstrap/internal/rbd"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util"

	librbd "github.com/ceph/go-ceph/rbd"
)

// rbdMirrorImageModeJournal is the mirror mode CreateLocalImage enables on
// a freshly materialized Journal-mode replica.
const rbdMirrorImageModeJournal = librbd.ImageMirrorModeJournal

// StateBuilder is the accumulator the pipeline threads through every
// stage. It is a tagged variant over mirroring mode (the polymorphic
// StateBuilder design) rather than a class hierarchy: Mode picks
// which capability set applies, and the mode-specific payload lives on
// the concrete implementation (journalStateBuilder or snapshotStateBuilder).
//
// Invariant I1: once constructed, the mode of a StateBuilder never
// changes; a caller that observes a different remote mode must treat it
// as util.ErrSplitBrain and discard the builder rather than mutate it.
type StateBuilder interface {
	// Mode reports which variant this builder is.
	Mode() cluster.MirrorMode

	// LocalImageID returns the resolved local image id, or "" if unknown.
	LocalImageID() string
	// SetLocalImageID records a local image id, e.g. after CreateLocalImage.
	SetLocalImageID(id string)

	// RemoteMirrorUUID returns the remote cluster's mirror uuid once known.
	RemoteMirrorUUID() string
	// SetRemoteMirrorUUID records the remote mirror uuid. Per invariant I2
	// this is set as soon as it is learned, even on a path that will later
	// fail, so callers can distinguish "no remote image" from "wrong
	// remote cluster" in logs.
	SetRemoteMirrorUUID(uuid string)

	// RemoteImageID returns the resolved remote image id, or "" if unknown.
	RemoteImageID() string
	// SetRemoteImageID records the remote image id.
	SetRemoteImageID(id string)

	// IsLocalPrimary reports whether the local replica is itself primary,
	// in which case the bootstrap completes without touching the remote
	// image any further.
	IsLocalPrimary() bool
	// IsLinked reports whether this builder has enough remote identity
	// (mirror uuid and image id) to proceed to OpenRemoteImage.
	IsLinked() bool
	// IsDisconnected reports whether the registered peer-client record
	// indicates this replica has fallen behind far enough to need a
	// resync. Always false for the Snapshot variant.
	IsDisconnected() bool

	// CreateLocalImage materializes local (an unopened image handle bound
	// to the local pool) as a new replica of remoteImage, sized to match
	// it, and records the resulting id via SetLocalImageID before
	// returning successfully. local is left open on success. remoteImage
	// is already open when this is called; implementations must not
	// re-open it.
	CreateLocalImage(ctx context.Context, local, remoteImage rbd.ImageHandle, globalImageID string) error

	// PrepareReplay runs the mode-specific replay handshake: decides
	// whether a resync was operator-requested and whether a full
	// image-sync is needed.
	PrepareReplay(ctx context.Context, localMirrorUUID string, promotion cluster.PromotionState) (resync, syncing bool, err error)

	// LocalImage returns the opened local replica handle once the coordinator
	// has recorded it via SetLocalImage after OpenLocalImage or
	// CreateLocalImage, or nil if the pipeline has not reached that stage. This is the local replica's open
	// handle, carried so a caller can use the replica after a
	// successful bootstrap instead of it leaking shut.
	LocalImage() rbd.ImageHandle
	// SetLocalImage records local as this builder's local image handle.
	SetLocalImage(local rbd.ImageHandle)

	// Destroy releases resources this builder owns — most importantly the
	// remote Journaler for the Journal variant (invariant I3).
	Destroy(ctx context.Context)
}

// baseStateBuilder carries the attributes common to every variant.
type baseStateBuilder struct {
	localImageID     string
	remoteMirrorUUID string
	remoteImageID    string
	localImage       rbd.ImageHandle
}

func (b *baseStateBuilder) LocalImage() rbd.ImageHandle       { return b.localImage }
func (b *baseStateBuilder) SetLocalImage(img rbd.ImageHandle) { b.localImage = img }

func (b *baseStateBuilder) LocalImageID() string         { return b.localImageID }
func (b *baseStateBuilder) SetLocalImageID(id string)    { b.localImageID = id }
func (b *baseStateBuilder) RemoteMirrorUUID() string     { return b.remoteMirrorUUID }
func (b *baseStateBuilder) SetRemoteMirrorUUID(u string) { b.remoteMirrorUUID = u }
func (b *baseStateBuilder) RemoteImageID() string        { return b.remoteImageID }
func (b *baseStateBuilder) SetRemoteImageID(id string)   { b.remoteImageID = id }

func (b *baseStateBuilder) IsLinked() bool {
	return b.remoteMirrorUUID != "" && b.remoteImageID != ""
}

// journalStateBuilder is the Journal-mode variant.
type journalStateBuilder struct {
	baseStateBuilder

	remoteJournaler   *journal.Journaler
	remoteClientState journal.ClientState
	remoteClientMeta  journal.MirrorPeerClientMeta
	localTagOwner     string
	localMirrorUUID   string
}

// NewJournalStateBuilder starts a Journal-mode StateBuilder.
func NewJournalStateBuilder() StateBuilder {
	return &journalStateBuilder{}
}

func (j *journalStateBuilder) Mode() cluster.MirrorMode { return cluster.MirrorModeJournal }

// setLocalTagOwner records the mirror uuid that owns the active tag on the
// local journal, as resolved by PrepareLocalImage's GetTagOwner substep.
func (j *journalStateBuilder) setLocalTagOwner(uuid string) { j.localTagOwner = uuid }

// setLocalMirrorUUID records this cluster's own mirror uuid, resolved by
// PrepareLocalImage alongside local_tag_owner, so IsLocalPrimary can later
// decide ownership without depending on an argument threaded in later.
func (j *journalStateBuilder) setLocalMirrorUUID(uuid string) { j.localMirrorUUID = uuid }

// setRemoteClient records the journal client lookup/registration outcome
// from PrepareRemoteImage.
func (j *journalStateBuilder) setRemoteClient(state journal.ClientState, meta journal.MirrorPeerClientMeta) {
	j.remoteClientState = state
	j.remoteClientMeta = meta
}

func (j *journalStateBuilder) setRemoteJournaler(journaler *journal.Journaler) {
	j.remoteJournaler = journaler
}

// IsLocalPrimary reports whether this cluster currently owns the active
// tag on the local journal, i.e. the local replica is itself the primary.
// An empty local_tag_owner means no tag has been written yet and is never
// treated as ownership.
func (j *journalStateBuilder) IsLocalPrimary() bool {
	return j.localTagOwner != "" && j.localTagOwner == j.localMirrorUUID
}

func (j *journalStateBuilder) IsDisconnected() bool {
	return j.remoteClientState == journal.ClientStateDisconnected
}

func (j *journalStateBuilder) CreateLocalImage(
	ctx context.Context,
	local, remoteImage rbd.ImageHandle,
	globalImageID string,
) error {
	// remoteImage is already open — OpenRemoteImage opened it before the
	// coordinator ever reaches CreateLocalImage — so this only reads its
	// size, it never re-opens it.
	size, err := remoteImage.GetSize()
	if err != nil {
		return err
	}

	name := "mirror-" + globalImageID

	err = local.Create(ctx, rbd.CreateOptions{
		Name: name,
		Size: size,
		Mode: rbdMirrorImageModeJournal,
	})
	if err != nil {
		return err
	}

	if err := local.Open(ctx); err != nil {
		return err
	}

	j.SetLocalImageID(local.ImageID())

	return nil
}

func (j *journalStateBuilder) PrepareReplay(
	_ context.Context,
	localMirrorUUID string,
	_ cluster.PromotionState,
) (bool, bool, error) {
	if j.remoteClientMeta.State == journal.ReplayStateDisconnected {
		// operator-requested or journal-pruned disconnect: surface as a
		// resync, no image-sync is attempted from here.
		return true, false, nil
	}

	// A client record that does not yet carry the local image id has
	// never been synced: a full image-sync is required before
	// incremental replay can begin. A freshly registered client
	// (state == Connected with no stored local-image-id) always lands
	// here, matching the local-replica-absent bootstrap scenario.
	syncing := j.remoteClientMeta.ImageID == "" || j.remoteClientMeta.ImageID != j.LocalImageID()

	_ = localMirrorUUID

	return false, syncing, nil
}

func (j *journalStateBuilder) Destroy(ctx context.Context) {
	if j.remoteJournaler != nil {
		j.remoteJournaler.Destroy(ctx)
		j.remoteJournaler = nil
	}
}

// snapshotStateBuilder is the Snapshot-mode variant. The remote Snapshot
// codepath is unsupported; this type exists
// so that a local image reporting mode=Snapshot still fixes the builder's
// variant (invariant I1) and produces a clean util.ErrUnsupported rather
// than silently behaving like the Journal variant.
type snapshotStateBuilder struct {
	baseStateBuilder
}

// NewSnapshotStateBuilder starts a Snapshot-mode StateBuilder.
func NewSnapshotStateBuilder() StateBuilder {
	return &snapshotStateBuilder{}
}

func (s *snapshotStateBuilder) Mode() cluster.MirrorMode { return cluster.MirrorModeSnapshot }
func (s *snapshotStateBuilder) IsLocalPrimary() bool     { return false }
func (s *snapshotStateBuilder) IsDisconnected() bool     { return false }

func (s *snapshotStateBuilder) CreateLocalImage(context.Context, rbd.ImageHandle, rbd.ImageHandle, string) error {
	return util.ErrUnsupported
}

func (s *snapshotStateBuilder) PrepareReplay(context.Context, string, cluster.PromotionState) (bool, bool, error) {
	return false, false, util.ErrUnsupported
}

func (s *snapshotStateBuilder) Destroy(context.Context) {}
