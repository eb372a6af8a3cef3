/*
Copyright 2019 The Ceph-CSI Authors.

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

	"github.com/ceph/rbd-mirror-bootstrap/internal/util"
)

// Backend is the narrow omap storage surface the Journaler and GetTagOwner
// need. Connection implements it against a live cluster; FakeBackend
// implements it in memory so the bootstrap package's tests can exercise
// the peer-client protocol without one.
type Backend interface {
	getOMapValues(ctx context.Context, pool, namespace, oid, prefix string, keys []string) (map[string]string, error)
	setOMapKeys(ctx context.Context, pool, namespace, oid string, pairs map[string]string) error
	removeMapKeys(ctx context.Context, pool, namespace, oid string, keys []string) error
}

// Connection wraps a cluster connection for use by the journal package's
// omap helpers. It exists separately from util.ClusterConnection so this
// package can be handed a connection without importing cluster-selection
// concerns from its caller.
type Connection struct {
	conn *util.ClusterConnection
}

// NewConnection wraps an already-connected util.ClusterConnection.
func NewConnection(cc *util.ClusterConnection) *Connection {
	return &Connection{conn: cc}
}

var _ Backend = (*Connection)(nil)
