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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ceph/rbd-mirror-bootstrap/internal/util"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util/log"
)

// headerPrefix names the per-image object that stores journal clients,
// mirroring the naming librbd's journal uses for its own header object.
const headerPrefix = "journal."

func headerObject(imageID string) string {
	return headerPrefix + imageID
}

func clientOmapKey(clientID string) string {
	return "client_" + clientID
}

// Journaler is the narrow client-registration surface the bootstrap core
// needs from the remote journal: construct once per PrepareRemoteImage
// call, look up or register this cluster's peer-client record, and
// destroy it on any terminal failure.
//
// It is deliberately not a full journal client: replay, commit-position
// tracking and tag management belong to the replayer this module hands
// off to, not to the bootstrap core.
type Journaler struct {
	backend        Backend
	pool           string
	namespace      string
	imageID        string
	clientID       string
	commitInterval time.Duration
}

// Construct builds a Journaler bound to the remote image's journal header
// object. commitInterval corresponds to rbd_mirror_journal_commit_age from
// configuration.
func Construct(
	backend Backend,
	pool, namespace, imageID, clientID string,
	commitInterval time.Duration,
) *Journaler {
	return &Journaler{
		backend:        backend,
		pool:           pool,
		namespace:      namespace,
		imageID:        imageID,
		clientID:       clientID,
		commitInterval: commitInterval,
	}
}

// Destroy releases any resources the Journaler holds. The bootstrap core
// calls this on every path where the journaler does not end up owned by a
// successfully-built StateBuilder.
func (j *Journaler) Destroy(ctx context.Context) {
	log.DebugLog(ctx, "destroying journaler for image %q, client %q", j.imageID, j.clientID)
}

// GetClient fetches this cluster's peer-client record from the remote
// journal. A util.ErrNotFound result is the expected, non-terminal signal
// that no record exists yet and RegisterClient must be called.
func (j *Journaler) GetClient(ctx context.Context) (ClientState, MirrorPeerClientMeta, error) {
	values, err := j.backend.getOMapValues(ctx, j.pool, j.namespace, headerObject(j.imageID),
		clientOmapKey(j.clientID), []string{clientOmapKey(j.clientID)})
	if err != nil {
		if errors.Is(err, util.ErrKeyNotFound) {
			return ClientStateUnregistered, MirrorPeerClientMeta{}, util.ErrNotFound
		}

		return ClientStateUnregistered, MirrorPeerClientMeta{}, fmt.Errorf("get_client(%s): %w", j.clientID, err)
	}

	raw, ok := values[clientOmapKey(j.clientID)]
	if !ok {
		return ClientStateUnregistered, MirrorPeerClientMeta{}, util.ErrNotFound
	}

	meta, err := DecodeMirrorPeerClientMeta([]byte(raw))
	if err != nil {
		return ClientStateUnregistered, MirrorPeerClientMeta{}, err
	}

	return clientStateFor(meta), meta, nil
}

// RegisterClient writes this cluster's peer-client record. It is
// idempotent only when the caller first observed util.ErrNotFound
// from GetClient; callers must not call it unconditionally.
func (j *Journaler) RegisterClient(ctx context.Context, meta MirrorPeerClientMeta) error {
	err := j.backend.setOMapKeys(ctx, j.pool, j.namespace, headerObject(j.imageID),
		map[string]string{clientOmapKey(j.clientID): string(meta.Encode())})
	if err != nil {
		return fmt.Errorf("register_client(%s): %w", j.clientID, err)
	}

	log.DebugLog(ctx, "registered peer client %q on image %q: image_id=%q state=%s",
		j.clientID, j.imageID, meta.ImageID, meta.State)

	return nil
}

// GetTagOwner reads the mirror uuid of the client that currently owns the
// active tag on the local journal, used by PrepareLocalImage to populate
// local_tag_owner for the Journal StateBuilder.
func GetTagOwner(ctx context.Context, backend Backend, pool, namespace, imageID string) (string, error) {
	values, err := backend.getOMapValues(ctx, pool, namespace, headerObject(imageID), "tag_owner", []string{"tag_owner"})
	if err != nil {
		if errors.Is(err, util.ErrKeyNotFound) {
			return "", util.ErrNotFound
		}

		return "", fmt.Errorf("get_tag_owner(%s): %w", imageID, err)
	}

	owner, ok := values["tag_owner"]
	if !ok {
		return "", util.ErrNotFound
	}

	return owner, nil
}
