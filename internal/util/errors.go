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

package util

import "errors"

// Sentinel errors returned by the cluster-facing helpers in this package.
// Callers match against these with errors.Is, the rest of the message is
// filled in by JoinErrors with whatever the backend actually returned.
var (
	// ErrPoolNotFound is returned when the requested pool does not exist.
	ErrPoolNotFound = errors.New("pool not found")

	// ErrKeyNotFound is returned when a requested omap key is not found.
	ErrKeyNotFound = errors.New("key not found")

	// ErrObjectNotFound is returned when a named rados object is not found.
	ErrObjectNotFound = errors.New("object not found")

	// ErrObjectExists is returned when a named rados object already exists.
	ErrObjectExists = errors.New("object already exists")

	// ErrNotFound is returned when a local image, client record, or remote
	// mirror registration is absent. Some callers recover from this within
	// the same stage (create-local, register-client); others treat it as
	// terminal.
	ErrNotFound = errors.New("not found")

	// ErrRemoteNotPrimary is returned when the remote image exists but its
	// promotion state is not primary.
	ErrRemoteNotPrimary = errors.New("remote image is not primary")

	// ErrLocalIsPrimary is returned when opening the local replica reports
	// that the local side is itself primary.
	ErrLocalIsPrimary = errors.New("local image is primary")

	// ErrSplitBrain is returned when the local and remote mirroring modes
	// disagree.
	ErrSplitBrain = errors.New("split brain: local and remote mirror modes disagree")

	// ErrBadMessage is returned when a peer client record cannot be decoded.
	ErrBadMessage = errors.New("peer client record is undecodable")

	// ErrUnsupported is returned for mirroring modes the bootstrap core does
	// not (yet) implement, such as a Snapshot-mode remote image.
	ErrUnsupported = errors.New("unsupported mirroring mode")

	// ErrCancelled is returned when cooperative cancellation was observed.
	ErrCancelled = errors.New("cancelled")

	// ErrTransport names the lower-layer RPC or journal failure kind. The
	// core surfaces such errors verbatim and does not wrap them with it.
	ErrTransport = errors.New("transport error")
)

// JoinErrors wraps a sentinel error together with the backend error that
// triggered it, so that callers can both errors.Is(err, sentinel) and see
// the original message. The sentinel is matched through Is, the backend
// error remains reachable through the normal Unwrap chain.
func JoinErrors(sentinel, err error) error {
	if err == nil {
		return sentinel
	}

	return &joinedError{sentinel: sentinel, err: err}
}

type joinedError struct {
	sentinel error
	err      error
}

func (e *joinedError) Error() string {
	return e.sentinel.Error() + ": " + e.err.Error()
}

func (e *joinedError) Unwrap() error {
	return e.err
}

func (e *joinedError) Is(target error) bool {
	return errors.Is(e.sentinel, target)
}
