/*
Copyright 2021 The Ceph-CSI Authors.

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

package rbd

import (
	"context"
	"fmt"

	"github.com/ceph/rbd-mirror-bootstrap/internal/cluster"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util/log"

	"github.com/ceph/go-ceph/rados"
	librbd "github.com/ceph/go-ceph/rbd"
)

// ImageHandle is the narrow image surface the bootstrap pipeline needs:
// open, close, create, size and promotion-state queries. *Image implements
// it against a live cluster; FakeImage implements it in memory, the same
// way cluster.IoContext and journal.Backend get Fake* stand-ins, so the
// bootstrap package's tests can exercise open/create/replay scenarios
// without one.
type ImageHandle interface {
	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Create(ctx context.Context, opts CreateOptions) error
	GetSize() (uint64, error)
	PromotionState() (cluster.PromotionState, error)
	// ImageID returns the cluster-local image id, populated once Open or
	// Create has resolved it.
	ImageID() string
	String() string
}

// Image is a handle to a single RBD image on one cluster: enough identity
// to open, create, close and query it, mirroring the narrow surface the
// bootstrap pipeline needs from librbd. It deliberately does not carry
// credentials or monitors directly; callers open an Image against an
// already-connected IOContext.
type Image struct {
	Pool      string
	Namespace string
	// Name is the current image name; may be empty until resolved via
	// DirGetName or returned by a successful Open.
	Name string
	// ID is the cluster-local image id; may be empty until CreateImage or
	// a by-id Open populates it.
	ID string

	ioctx *rados.IOContext
	image *librbd.Image
}

// NewImage returns an Image handle bound to ioctx, not yet open.
func NewImage(ioctx *rados.IOContext, pool, namespace, name, id string) *Image {
	return &Image{
		Pool:      pool,
		Namespace: namespace,
		Name:      name,
		ID:        id,
		ioctx:     ioctx,
	}
}

func (img *Image) String() string {
	if img.Namespace != "" {
		return fmt.Sprintf("%s/%s/%s", img.Pool, img.Namespace, img.Name)
	}

	return fmt.Sprintf("%s/%s", img.Pool, img.Name)
}

// ImageID returns the cluster-local image id.
func (img *Image) ImageID() string { return img.ID }

var _ ImageHandle = (*Image)(nil)

// Open opens the image by name, or by id when Name is still unknown. The
// returned error is util.ErrNotFound (joined) when the image does not
// exist. Callers that need to distinguish a primary local replica from a
// missing one check PromotionState after a successful Open.
func (img *Image) Open(ctx context.Context) error {
	var (
		image *librbd.Image
		err   error
	)

	switch {
	case img.Name != "":
		image, err = librbd.OpenImage(img.ioctx, img.Name, librbd.NoSnapshot)
	case img.ID != "":
		image, err = librbd.OpenImageById(img.ioctx, img.ID, librbd.NoSnapshot)
	default:
		return fmt.Errorf("cannot open image: neither name nor id is known")
	}
	if err != nil {
		return translateOpenError(img.String(), err)
	}

	img.image = image

	if img.Name == "" {
		name, nerr := image.GetName()
		if nerr == nil {
			img.Name = name
		}
	}
	if img.ID == "" {
		id, ierr := image.GetId()
		if ierr == nil {
			img.ID = id
		}
	}

	log.DebugLog(ctx, "opened image %q (id=%q)", img, img.ID)

	return nil
}

// Close releases the open librbd.Image handle. It is safe to call on an
// Image that was never successfully opened.
func (img *Image) Close(ctx context.Context) error {
	if img.image == nil {
		return nil
	}

	err := img.image.Close()
	img.image = nil
	if err != nil {
		return fmt.Errorf("failed to close image %q: %w", img, err)
	}

	log.DebugLog(ctx, "closed image %q", img)

	return nil
}

// CreateOptions bounds what CreateLocalImage needs to know to materialize
// a local replica of a remote image: its name, size and mirror mode. Create
// does not apply Order; the new image gets librbd's default object order.
type CreateOptions struct {
	Name  string
	Size  uint64
	Order int
	Mode  librbd.ImageMirrorMode
}

// Create materializes a new image on img's pool/namespace with the given
// name, then enables mirroring on it in the requested mode. On success
// img.Name and img.ID are populated; the image is left closed.
func (img *Image) Create(ctx context.Context, opts CreateOptions) error {
	options := librbd.NewRbdImageOptions()
	defer options.Destroy()

	err := librbd.CreateImage(img.ioctx, opts.Name, opts.Size, options)
	if err != nil {
		return fmt.Errorf("failed to create local image %q: %w", opts.Name, err)
	}

	img.Name = opts.Name

	if err := img.Open(ctx); err != nil {
		return fmt.Errorf("failed to open newly created image %q: %w", opts.Name, err)
	}
	defer img.Close(ctx) //nolint:errcheck

	if err := img.image.MirrorEnable(opts.Mode); err != nil {
		return fmt.Errorf("failed to enable mirroring on created image %q: %w", opts.Name, err)
	}

	log.DebugLog(ctx, "created local image %q (id=%q) with mirror mode %v", img, img.ID, opts.Mode)

	return nil
}

// ImageStatus is a thin wrapper around librbd.MirrorImageInfo, matching the
// accessor-interface shape the rest of this module uses for mirror state.
type ImageStatus struct {
	*librbd.MirrorImageInfo
}

// GetState returns the mirroring state as a string.
func (status ImageStatus) GetState() string {
	if status.MirrorImageInfo == nil {
		return ""
	}

	return status.State.String()
}

// IsPrimary reports whether this replica is the primary.
func (status ImageStatus) IsPrimary() bool {
	return status.MirrorImageInfo != nil && status.Primary
}

// GetMirroringInfo returns the mirroring record and promotion state of the
// currently open image.
func (img *Image) GetMirroringInfo() (ImageStatus, error) {
	if img.image == nil {
		return ImageStatus{}, fmt.Errorf("image %q is not open", img)
	}

	info, err := img.image.GetMirrorImageInfo()
	if err != nil {
		return ImageStatus{}, fmt.Errorf("failed to get mirroring info of %q: %w", img, err)
	}

	return ImageStatus{MirrorImageInfo: info}, nil
}

// PromotionState decodes the image's promotion state into the shared
// cluster.PromotionState enum used throughout the bootstrap pipeline.
func (img *Image) PromotionState() (cluster.PromotionState, error) {
	status, err := img.GetMirroringInfo()
	if err != nil {
		return cluster.PromotionStateUnknown, err
	}

	if status.IsPrimary() {
		return cluster.PromotionStatePrimary, nil
	}

	switch status.GetState() {
	case librbd.MirrorImageEnabled.String():
		return cluster.PromotionStateNonPrimary, nil
	default:
		return cluster.PromotionStateOrphan, nil
	}
}

// GetSize returns the provisioned size, in bytes, of the currently open
// image.
func (img *Image) GetSize() (uint64, error) {
	if img.image == nil {
		return 0, fmt.Errorf("image %q is not open", img)
	}

	size, err := img.image.GetSize()
	if err != nil {
		return 0, fmt.Errorf("failed to get size of image %q: %w", img, err)
	}

	return size, nil
}

// Resync requests a full resynchronization of the currently open image.
func (img *Image) Resync() error {
	if img.image == nil {
		return fmt.Errorf("image %q is not open", img)
	}

	if err := img.image.MirrorResync(); err != nil {
		return fmt.Errorf("failed to resync image %q: %w", img, err)
	}

	return nil
}
