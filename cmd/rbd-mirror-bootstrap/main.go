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

// Command rbd-mirror-bootstrap drives a single BootstrapRequest to
// completion for one globally-identified image. It stands in for the
// upstream replayer daemon this module's bootstrap core hands off to —
// just enough of a driver to exercise PrepareLocalImage through
// PrepareReplay/ImageSync end to end against a real pair of clusters.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ceph/rbd-mirror-bootstrap/internal/bootstrap"
	"github.com/ceph/rbd-mirror-bootstrap/internal/cluster"
	"github.com/ceph/rbd-mirror-bootstrap/internal/journal"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util/lock"
	"github.com/ceph/rbd-mirror-bootstrap/internal/util/log"

	"k8s.io/klog/v2"
)

// exclusiveLockTimeout bounds how long this process holds the RADOS
// exclusive lock serializing bootstraps for a given global image id across
// rbd-mirror-bootstrap instances; it is released explicitly on exit and
// expires server-side if the process dies first.
const exclusiveLockTimeout = 30 * time.Second

var (
	localClusterID  string
	remoteClusterID string
	pool            string
	namespace       string
	globalImageID   string
	localMirrorUUID string
	keyFile         string

	// bootstrapLocks guards against two bootstraps racing for the same
	// global image id within this process; a single run only ever
	// attempts one, but the map is process-wide so a future driver that
	// fans out across images for-free inherits the same-image guard.
	bootstrapLocks = util.NewBootstrapLocks()
)

func init() {
	klog.InitFlags(nil)

	flag.StringVar(&localClusterID, "local-cluster-id", "", "cluster ID of the local cluster entry in the config file")
	flag.StringVar(&remoteClusterID, "remote-cluster-id", "", "cluster ID of the remote cluster entry in the config file")
	flag.StringVar(&pool, "pool", "", "pool the mirrored image lives in")
	flag.StringVar(&namespace, "namespace", "", "RADOS namespace within pool, if any")
	flag.StringVar(&globalImageID, "global-image-id", "", "the image's globally-unique mirroring identifier")
	flag.StringVar(&localMirrorUUID, "local-mirror-uuid", "", "this cluster's mirror uuid, as registered on the remote peer-client record")
	flag.StringVar(&keyFile, "keyfile", "", "path to the cephx key file shared by both clusters")
}

func main() {
	flag.Parse()

	if err := run(); err != nil {
		log.FatalLogMsg("rbd-mirror-bootstrap: %v", err)
		os.Exit(1)
	}
}

func run() error {
	if globalImageID == "" || pool == "" || localClusterID == "" || remoteClusterID == "" {
		return fmt.Errorf("-pool, -global-image-id, -local-cluster-id and -remote-cluster-id are required")
	}

	localCfg, err := util.ReadClusterConfig(util.ClusterConfigFile, localClusterID)
	if err != nil {
		return fmt.Errorf("reading local cluster config: %w", err)
	}

	remoteCfg, err := util.ReadClusterConfig(util.ClusterConfigFile, remoteClusterID)
	if err != nil {
		return fmt.Errorf("reading remote cluster config: %w", err)
	}

	cr := &util.Credentials{ID: "admin", KeyFile: keyFile}

	localConn := &util.ClusterConnection{}
	if err := localConn.Connect(joinMonitors(localCfg.Monitors), cr); err != nil {
		return fmt.Errorf("connecting to local cluster: %w", err)
	}
	defer localConn.Destroy()

	remoteConn := &util.ClusterConnection{}
	if err := remoteConn.Connect(joinMonitors(remoteCfg.Monitors), cr); err != nil {
		return fmt.Errorf("connecting to remote cluster: %w", err)
	}
	defer remoteConn.Destroy()

	localIoctx, err := localConn.GetIoctx(pool)
	if err != nil {
		return fmt.Errorf("opening local pool %q: %w", pool, err)
	}
	defer localIoctx.Destroy()

	remoteIoctx, err := remoteConn.GetIoctx(pool)
	if err != nil {
		return fmt.Errorf("opening remote pool %q: %w", pool, err)
	}
	defer remoteIoctx.Destroy()

	if !bootstrapLocks.TryAcquire(globalImageID) {
		return fmt.Errorf(util.BootstrapOperationAlreadyExistsFmt, globalImageID)
	}
	defer bootstrapLocks.Release(globalImageID)

	// The in-process guard above only protects this instance; multiple
	// rbd-mirror-bootstrap instances can still be pointed at the same
	// peer pair, so also take a RADOS exclusive lock on an object in the
	// remote pool named after the global image id for the duration of the
	// bootstrap.
	remoteLock := lock.NewLock(remoteIoctx, globalImageID, "rbd_mirror_bootstrap", localMirrorUUID,
		"rbd-mirror-bootstrap exclusive bootstrap lock", exclusiveLockTimeout)
	if err := remoteLock.LockExclusive(context.Background()); err != nil {
		return fmt.Errorf("acquiring bootstrap lock for global image %q: %w", globalImageID, err)
	}
	defer remoteLock.Unlock(context.Background())

	cfg := bootstrap.Config{
		LocalIoCtx:        cluster.NewIoContext(localIoctx, pool),
		RemoteIoCtx:       cluster.NewIoContext(remoteIoctx, pool),
		LocalJournalConn:  journal.NewConnection(localConn),
		RemoteJournalConn: journal.NewConnection(remoteConn),
		LocalRadosIoCtx:   localIoctx,
		RemoteRadosIoCtx:  remoteIoctx,
		Pool:              pool,
		Namespace:         namespace,
		GlobalImageID:     globalImageID,
		LocalMirrorUUID:   localMirrorUUID,
		CommitInterval:    remoteCfg.CommitInterval(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)

	req := bootstrap.NewBootstrapRequest(cfg, func(sb bootstrap.StateBuilder, doResync bool, err error) {
		defer close(done)

		if err != nil {
			done <- err

			return
		}

		log.DebugLog(ctx, "bootstrap complete for global image %q: mode=%s do_resync=%v", globalImageID, sb.Mode(), doResync)

		// No replayer exists in this repository to hand the open local
		// image off to; close it and release what sb holds instead.
		if local := sb.LocalImage(); local != nil {
			if cerr := local.Close(ctx); cerr != nil {
				log.ErrorLog(ctx, "rbd-mirror-bootstrap: closing local image for %q: %v", globalImageID, cerr)
			}
		}

		sb.Destroy(ctx)
	})

	req.Send(ctx)

	go func() {
		<-ctx.Done()
		req.Cancel()
	}()

	return <-done
}

func joinMonitors(monitors []string) string {
	out := ""

	for i, m := range monitors {
		if i > 0 {
			out += ","
		}

		out += m
	}

	return out
}
