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

// Package cluster exposes the narrow, class-method-style object-store
// surface that the bootstrap core is allowed to call: directory lookups
// and mirroring metadata reads/writes against a single pool. It is the Go
// stand-in for what the source calls an "IoContext".
package cluster

// MirrorMode is the mirroring mode recorded against an image in the
// mirroring object of a pool.
type MirrorMode string

const (
	// MirrorModeJournal mirrors an image by replaying its write journal.
	MirrorModeJournal MirrorMode = "journal"
	// MirrorModeSnapshot mirrors an image by replicating periodic snapshot diffs.
	MirrorModeSnapshot MirrorMode = "snapshot"
)

// MirrorImageState is the lifecycle state of an image's mirroring
// registration, independent of its promotion state.
type MirrorImageState string

const (
	// MirrorImageStateEnabled means mirroring is active for the image.
	MirrorImageStateEnabled MirrorImageState = "enabled"
	// MirrorImageStateDisabled means mirroring has been torn down.
	MirrorImageStateDisabled MirrorImageState = "disabled"
	// MirrorImageStateCreating means mirroring is in the process of being enabled.
	MirrorImageStateCreating MirrorImageState = "creating"
	// MirrorImageStateDisabling means mirroring is in the process of being torn down.
	MirrorImageStateDisabling MirrorImageState = "disabling"
)

// MirrorImage is the per-cluster mirroring record for a single image,
// keyed by that cluster's local image id.
type MirrorImage struct {
	Mode          MirrorMode
	State         MirrorImageState
	GlobalImageID string
}

// PromotionState is the role of one replica of a mirrored image.
type PromotionState int

const (
	// PromotionStateUnknown means the promotion state could not be determined.
	PromotionStateUnknown PromotionState = iota
	// PromotionStatePrimary means this replica accepts writes.
	PromotionStatePrimary
	// PromotionStateNonPrimary means this replica is replicated to from a primary.
	PromotionStateNonPrimary
	// PromotionStateOrphan means this replica has no known primary.
	PromotionStateOrphan
)

func (p PromotionState) String() string {
	switch p {
	case PromotionStatePrimary:
		return "primary"
	case PromotionStateNonPrimary:
		return "non-primary"
	case PromotionStateOrphan:
		return "orphan"
	case PromotionStateUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}
