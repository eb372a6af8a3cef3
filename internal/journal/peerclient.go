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

package journal

import (
	"fmt"

	"github.com/ceph/rbd-mirror-bootstrap/internal/util"

	"github.com/google/uuid"
)

// ValidateMirrorUUID checks that id looks like a mirror uuid (the
// xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx form librbd generates at
// `rbd mirror pool enable` time), the same sanity check teacher
// internal/journal/voljournal.go applies to volume/snapshot uuids before
// using them to build an omap object name.
func ValidateMirrorUUID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: mirror uuid %q is not a valid uuid: %v", util.ErrBadMessage, id, err)
	}

	return nil
}

// ReplayState is the replay-progress component of a MirrorPeerClientMeta
// record, as observed by the remote journal's client registration.
type ReplayState uint32

const (
	// ReplayStateReplaying means the client is caught up and consuming
	// the journal incrementally.
	ReplayStateReplaying ReplayState = iota
	// ReplayStateSyncing means a full image-sync is underway.
	ReplayStateSyncing
	// ReplayStateDisconnected means the client has fallen far enough
	// behind that the journal has pruned entries it still needs.
	ReplayStateDisconnected
)

func (s ReplayState) String() string {
	switch s {
	case ReplayStateReplaying:
		return "replaying"
	case ReplayStateSyncing:
		return "syncing"
	case ReplayStateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MirrorPeerClientMeta is the durable record this cluster stores on the
// remote journal under its own mirror uuid, per spec: image_id of the
// local replica plus the replay state.
type MirrorPeerClientMeta struct {
	ImageID string
	State   ReplayState
}

// Encode frames a MirrorPeerClientMeta using the project's standard
// length-prefixed encoding: a length-prefixed image id followed by a
// 4-byte state.
func (m MirrorPeerClientMeta) Encode() []byte {
	buf := make([]byte, 0, 8+len(m.ImageID))
	buf = util.PutUint32String(buf, m.ImageID)
	buf = util.PutUint32(buf, uint32(m.State))

	return buf
}

// DecodeMirrorPeerClientMeta reverses Encode, returning util.ErrBadMessage
// when raw cannot be parsed as a MirrorPeerClientMeta.
func DecodeMirrorPeerClientMeta(raw []byte) (MirrorPeerClientMeta, error) {
	imageID, rest, err := util.ReadUint32String(raw)
	if err != nil {
		return MirrorPeerClientMeta{}, util.JoinErrors(util.ErrBadMessage, fmt.Errorf("image id: %w", err))
	}

	state, _, err := util.ReadUint32(rest)
	if err != nil {
		return MirrorPeerClientMeta{}, util.JoinErrors(util.ErrBadMessage, fmt.Errorf("state: %w", err))
	}

	return MirrorPeerClientMeta{
		ImageID: imageID,
		State:   ReplayState(state),
	}, nil
}

// ClientState is the registration state of a journal client, as observed
// by PrepareRemoteImage and later consulted by PrepareReplay.
type ClientState int

const (
	// ClientStateUnregistered means no record has been written yet.
	ClientStateUnregistered ClientState = iota
	// ClientStateConnected means the client is registered and not
	// disconnected; its replay state may be replaying or syncing.
	ClientStateConnected
	// ClientStateDisconnected means the client is registered but has
	// fallen behind far enough to require a resync.
	ClientStateDisconnected
)

func (s ClientState) String() string {
	switch s {
	case ClientStateConnected:
		return "connected"
	case ClientStateDisconnected:
		return "disconnected"
	case ClientStateUnregistered:
		return "unregistered"
	default:
		return "unknown"
	}
}

// clientStateFor derives the registration-level ClientState from a decoded
// MirrorPeerClientMeta's replay state. A stored record always means the
// client is at least known to the journal; whether it is still usable
// without a resync is carried by the replay state itself.
func clientStateFor(meta MirrorPeerClientMeta) ClientState {
	if meta.State == ReplayStateDisconnected {
		return ClientStateDisconnected
	}

	return ClientStateConnected
}
