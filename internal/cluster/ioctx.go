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

package cluster

import (
	"context"
	"errors"
	"fmt"

	"github.com/ceph/rbd-mirror-bootstrap/internal/util"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util/log"

	"github.com/ceph/go-ceph/rados"
)

// well-known object names librbd uses for the per-pool directory and
// mirroring metadata. Both are plain RADOS objects addressed by omap keys.
const (
	directoryObject = "rbd_directory"
	mirroringObject = "rbd_mirroring"

	dirNamePrefix = "name_"
	dirIDPrefix   = "id_"

	mirrorUUIDKey        = "mirror_uuid"
	mirrorImagePrefix    = "image_"
	mirrorGlobalIDPrefix = "global_"
)

// IoContext is the narrow object-store surface the bootstrap core is
// allowed to call. It deliberately exposes class-method-shaped operations
// rather than a general RADOS client, so that bootstrap logic can be
// exercised against a fake in tests without a live cluster.
type IoContext interface {
	// DirGetName resolves an image id to its current name via the pool's
	// directory object.
	DirGetName(ctx context.Context, imageID string) (string, error)
	// MirrorUUIDGet returns this cluster's mirror uuid. An empty string
	// with a nil error means mirroring has never been initialized on the
	// pool.
	MirrorUUIDGet(ctx context.Context) (string, error)
	// MirrorImageGet fetches the mirroring record for a local image id.
	MirrorImageGet(ctx context.Context, imageID string) (MirrorImage, error)
	// MirrorImageGetImageID resolves a global image id to this cluster's
	// local image id.
	MirrorImageGetImageID(ctx context.Context, globalImageID string) (string, error)
	// SetImageStateAttr writes the serialized per-snapshot image-state blob
	// for snapshot-based mirroring, keyed by snapshot id.
	SetImageStateAttr(ctx context.Context, snapID uint64, data []byte) error
}

// radosIoCtx is the concrete IoContext backed by a rados.IOContext against
// a single pool, following the chunked-omap idiom of
// internal/journal/omap.go.
type radosIoCtx struct {
	ioctx *rados.IOContext
	pool  string
}

// NewIoContext wraps an already-open rados.IOContext for pool.
func NewIoContext(ioctx *rados.IOContext, pool string) IoContext {
	return &radosIoCtx{ioctx: ioctx, pool: pool}
}

// NewIoContextFromConnection opens an IOContext on pool via the given
// cluster connection and wraps it as an IoContext.
func NewIoContextFromConnection(cc *util.ClusterConnection, pool string) (IoContext, error) {
	ioctx, err := cc.GetIoctx(pool)
	if err != nil {
		return nil, err
	}

	return NewIoContext(ioctx, pool), nil
}

func (r *radosIoCtx) DirGetName(ctx context.Context, imageID string) (string, error) {
	values, err := getOmapValue(ctx, r.ioctx, directoryObject, dirIDPrefix+imageID)
	if err != nil {
		return "", fmt.Errorf("dir_get_name(%s): %w", imageID, err)
	}

	log.DebugLog(ctx, "dir_get_name(%q) = %q", imageID, values)

	return values, nil
}

func (r *radosIoCtx) MirrorUUIDGet(ctx context.Context) (string, error) {
	uuid, err := getOmapValue(ctx, r.ioctx, mirroringObject, mirrorUUIDKey)
	if err != nil {
		if errors.Is(err, util.ErrNotFound) {
			// not-initialized is not an error, it is reported as "".
			return "", nil
		}

		return "", fmt.Errorf("mirror_uuid_get: %w", err)
	}

	return uuid, nil
}

func (r *radosIoCtx) MirrorImageGet(ctx context.Context, imageID string) (MirrorImage, error) {
	raw, err := getOmapValue(ctx, r.ioctx, mirroringObject, mirrorImagePrefix+imageID)
	if err != nil {
		return MirrorImage{}, fmt.Errorf("mirror_image_get(%s): %w", imageID, err)
	}

	mi, err := decodeMirrorImage(raw)
	if err != nil {
		return MirrorImage{}, fmt.Errorf("mirror_image_get(%s): %w", imageID, err)
	}

	return mi, nil
}

func (r *radosIoCtx) MirrorImageGetImageID(ctx context.Context, globalImageID string) (string, error) {
	id, err := getOmapValue(ctx, r.ioctx, mirroringObject, mirrorGlobalIDPrefix+globalImageID)
	if err != nil {
		return "", fmt.Errorf("mirror_image_get_image_id(%s): %w", globalImageID, err)
	}

	return id, nil
}

func (r *radosIoCtx) SetImageStateAttr(ctx context.Context, snapID uint64, data []byte) error {
	key := fmt.Sprintf("image_state_%d", snapID)

	err := r.ioctx.SetOmap(mirroringObject, map[string][]byte{key: data})
	if err != nil {
		return fmt.Errorf("set_image_state(%d): %w", snapID, err)
	}

	log.DebugLog(ctx, "wrote image state attribute for snapshot %d (%d bytes)", snapID, len(data))

	return nil
}

// getOmapValue fetches a single omap key from oid, translating a missing
// key or object into util.ErrNotFound.
func getOmapValue(_ context.Context, ioctx *rados.IOContext, oid, key string) (string, error) {
	var found string

	seen := false
	err := ioctx.ListOmapValues(oid, "", key, 1, func(k string, v []byte) {
		if k == key {
			found = string(v)
			seen = true
		}
	})
	if err != nil {
		if errors.Is(err, rados.ErrNotFound) {
			return "", util.JoinErrors(util.ErrNotFound, err)
		}

		return "", err
	}

	if !seen {
		return "", util.ErrNotFound
	}

	return found, nil
}
