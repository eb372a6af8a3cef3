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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMirrorImageRoundTrip(t *testing.T) {
	cases := []MirrorImage{
		{Mode: MirrorModeJournal, State: MirrorImageStateEnabled, GlobalImageID: "gid-1"},
		{Mode: MirrorModeSnapshot, State: MirrorImageStateCreating, GlobalImageID: ""},
		{Mode: MirrorModeJournal, State: MirrorImageStateDisabling, GlobalImageID: "a-very-long-global-image-identifier"},
	}

	for _, mi := range cases {
		encoded := EncodeMirrorImage(mi)
		decoded, err := decodeMirrorImage(string(encoded))
		require.NoError(t, err)
		require.Equal(t, mi, decoded)
	}
}

func TestDecodeMirrorImageTruncated(t *testing.T) {
	_, err := decodeMirrorImage("\x05\x00\x00")
	require.Error(t, err)
}
