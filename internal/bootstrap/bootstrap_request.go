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
	"sync"
	"time"

	"github.com/ceph/rbd-mirror-bootstrap/internal/cluster"
	"github.com/ceph/rbd-mirror-bootstrap/internal/journal"
	"github.com/ceph/rbd-mirror-bootstrap/internal/rbd"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util/log"

	"github.com/ceph/go-ceph/rados"
)

// CompletionFunc is delivered exactly once when a BootstrapRequest
// finishes. err is nil only on success, and sb is then non-nil. On failure
// sb is the builder the pipeline had allocated before the failing stage
// (nil if none), already destroyed.
type CompletionFunc func(sb StateBuilder, doResync bool, err error)

// Config bundles the inputs a BootstrapRequest needs from both clusters.
// It is the Go analogue of the source's (io_ctx pair, global_id,
// local_mirror_uuid, instance watcher, cache manager) constructor
// argument list, trimmed to what this core actually consumes.
type Config struct {
	LocalIoCtx  cluster.IoContext
	RemoteIoCtx cluster.IoContext

	LocalJournalConn  journal.Backend
	RemoteJournalConn journal.Backend

	LocalRadosIoCtx  *rados.IOContext
	RemoteRadosIoCtx *rados.IOContext

	Pool, Namespace string
	GlobalImageID   string
	LocalMirrorUUID string
	CommitInterval  time.Duration

	// NewLocalImage and NewRemoteImage construct the rbd.ImageHandle the
	// pipeline opens for the local/remote replica, given the resolved
	// image id. Both default to a *rbd.Image bound to the matching
	// RadosIoCtx/Pool/Namespace when left nil; tests substitute
	// rbd.FakeImage-backed constructors, mirroring how cluster.IoContext
	// and journal.Backend are faked, to exercise the pipeline's
	// open/create/replay scenarios without a live cluster.
	NewLocalImage  func(id string) rbd.ImageHandle
	NewRemoteImage func(id string) rbd.ImageHandle
}

// BootstrapRequest is the coordinator that drives a single image through
// the ordered pipeline described in this package: PrepareLocalImage,
// PrepareRemoteImage, the IsLocalPrimary short-circuit, OpenRemoteImage,
// GetRemoteMirrorInfo, OpenLocalImage/CreateLocalImage, PrepareReplay and,
// when required, ImageSync. CloseRemoteImage is always attempted on the
// way out.
//
// A BootstrapRequest runs exactly once: Send starts it, and onFinish is
// invoked exactly once regardless of how the pipeline terminates. Cancel
// is safe to call from any goroutine, at any time, including before Send.
type BootstrapRequest struct {
	cfg      Config
	onFinish CompletionFunc

	once     sync.Once
	sendOnce sync.Once

	mu        sync.Mutex
	cancelled bool
	cancel    context.CancelFunc
}

// NewBootstrapRequest constructs a BootstrapRequest bound to cfg. onFinish
// must not block for long, since it runs on the goroutine Send spawns.
func NewBootstrapRequest(cfg Config, onFinish CompletionFunc) *BootstrapRequest {
	return &BootstrapRequest{cfg: cfg, onFinish: onFinish}
}

// Send starts the pipeline. It returns immediately; the result is
// delivered to onFinish. Calling Send more than once has no additional
// effect.
func (r *BootstrapRequest) Send(ctx context.Context) {
	r.sendOnce.Do(func() {
		go r.run(ctx)
	})
}

// Cancel requests cooperative cancellation. Safe to call from any
// goroutine, any number of times, before or after Send.
func (r *BootstrapRequest) Cancel() {
	r.mu.Lock()
	r.cancelled = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (r *BootstrapRequest) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cancelled
}

func (r *BootstrapRequest) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	r.mu.Lock()
	r.cancel = cancel
	alreadyCancelled := r.cancelled
	r.mu.Unlock()

	if alreadyCancelled {
		cancel()
	}

	sb, doResync, err := r.pipeline(ctx)

	r.once.Do(func() {
		r.onFinish(sb, doResync, err)
	})
}

// checkCancelled is consulted at every inter-stage boundary per the
// level-triggered cancellation semantics of this core.
func (r *BootstrapRequest) checkCancelled(ctx context.Context) error {
	if r.isCancelled() {
		return util.ErrCancelled
	}

	select {
	case <-ctx.Done():
		return util.ErrCancelled
	default:
		return nil
	}
}

//nolint:gocyclo,cyclop // the coordinator's stage ordering is the thing under test.
func (r *BootstrapRequest) pipeline(ctx context.Context) (sb StateBuilder, doResync bool, err error) {
	cfg := r.cfg

	newRemoteImage := cfg.NewRemoteImage
	if newRemoteImage == nil {
		newRemoteImage = func(id string) rbd.ImageHandle {
			return rbd.NewImage(cfg.RemoteRadosIoCtx, cfg.Pool, cfg.Namespace, "", id)
		}
	}

	newLocalImage := cfg.NewLocalImage
	if newLocalImage == nil {
		newLocalImage = func(id string) rbd.ImageHandle {
			return rbd.NewImage(cfg.LocalRadosIoCtx, cfg.Pool, cfg.Namespace, "", id)
		}
	}

	if err = r.checkCancelled(ctx); err != nil {
		return sb, false, err
	}

	sb, err = PrepareLocalImage(ctx, cfg.LocalIoCtx, cfg.LocalJournalConn, cfg.Pool, cfg.Namespace, cfg.GlobalImageID)
	if err != nil && !errors.Is(err, util.ErrNotFound) {
		return sb, false, fmt.Errorf("bootstrap: %w", err)
	}

	// sb may be nil here (local image absent); PrepareRemoteImage
	// allocates it once the remote mode is known. Every subsequent return
	// on this path must surface the actual sb value (not a literal nil)
	// so this deferred close can see it — the StateBuilder, and anything
	// it owns (the remote Journaler per invariant I3), would otherwise
	// never be destroyed on a post-allocation failure.
	defer func() {
		if err != nil && sb != nil {
			sb.Destroy(ctx)
		}
	}()

	if cerr := r.checkCancelled(ctx); cerr != nil {
		return sb, false, cerr
	}

	localImageID := ""
	if sb != nil {
		localImageID = sb.LocalImageID()
	}

	sb, err = PrepareRemoteImage(ctx, cfg.RemoteIoCtx, cfg.RemoteJournalConn, cfg.Pool, cfg.Namespace,
		cfg.GlobalImageID, localImageID, cfg.LocalMirrorUUID, cfg.CommitInterval, sb)
	if err != nil {
		return sb, false, fmt.Errorf("bootstrap: %w", err)
	}

	if sb.IsLocalPrimary() {
		log.DebugLog(ctx, "bootstrap: local image is primary, nothing further to do")

		return sb, false, nil
	}

	if cerr := r.checkCancelled(ctx); cerr != nil {
		return sb, false, cerr
	}

	remoteImage := newRemoteImage(sb.RemoteImageID())
	if err = OpenRemoteImage(ctx, remoteImage); err != nil {
		return sb, false, err
	}

	remoteOpen := true

	defer func() {
		if !remoteOpen {
			return
		}

		if cerr := CloseRemoteImage(ctx, remoteImage); cerr != nil {
			log.ErrorLog(ctx, "bootstrap: close_remote_image failed: %v", cerr)
		}
	}()

	promotion, err := GetRemoteMirrorInfo(ctx, remoteImage)
	if err != nil {
		return sb, false, err
	}

	if cerr := r.checkCancelled(ctx); cerr != nil {
		return sb, false, cerr
	}

	localImage := newLocalImage(sb.LocalImageID())

	openErr := util.ErrNotFound
	if sb.LocalImageID() != "" {
		openErr = OpenLocalImage(ctx, localImage)
	}

	switch {
	case openErr == nil:
		// fall through to PrepareReplay below.
	case errors.Is(openErr, util.ErrNotFound):
		if err = CreateLocalImage(ctx, sb, localImage, remoteImage, cfg.GlobalImageID); err != nil {
			return sb, false, err
		}
	default:
		return sb, false, openErr
	}

	// The open local replica handle survives past this function's return
	// only if it is recorded on sb; otherwise a successful bootstrap
	// leaks the open handle with no caller ever able to reach it.
	sb.SetLocalImage(localImage)

	localOpen := true

	defer func() {
		if localOpen && err != nil {
			_ = localImage.Close(ctx)
		}
	}()

	if cerr := r.checkCancelled(ctx); cerr != nil {
		err = cerr

		return sb, false, err
	}

	resync, syncing, err := sb.PrepareReplay(ctx, cfg.LocalMirrorUUID, promotion)
	if err != nil {
		return sb, false, err
	}

	if resync {
		return sb, true, nil
	}

	if syncing {
		sync := NewImageSync(localImage, remoteImage)
		defer sync.Put()

		if r.isCancelled() {
			sync.Cancel()
		}

		if err = sync.Send(ctx); err != nil {
			return sb, false, err
		}
	}

	return sb, false, nil
}
