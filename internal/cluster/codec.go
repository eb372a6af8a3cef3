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
	"fmt"

	"github.com/ceph/rbd-mirror-bootstrap/internal/util"
)

// EncodeMirrorImage frames a MirrorImage the way mirror_image_get returns
// it from the mirroring object: length-prefixed mode, length-prefixed
// state, length-prefixed global image id.
func EncodeMirrorImage(mi MirrorImage) []byte {
	buf := make([]byte, 0, 32+len(mi.GlobalImageID))
	buf = util.PutUint32String(buf, string(mi.Mode))
	buf = util.PutUint32String(buf, string(mi.State))
	buf = util.PutUint32String(buf, mi.GlobalImageID)

	return buf
}

func decodeMirrorImage(raw string) (MirrorImage, error) {
	buf := []byte(raw)

	mode, buf, err := util.ReadUint32String(buf)
	if err != nil {
		return MirrorImage{}, fmt.Errorf("decode mirror image mode: %w", err)
	}

	state, buf, err := util.ReadUint32String(buf)
	if err != nil {
		return MirrorImage{}, fmt.Errorf("decode mirror image state: %w", err)
	}

	globalID, _, err := util.ReadUint32String(buf)
	if err != nil {
		return MirrorImage{}, fmt.Errorf("decode mirror image global id: %w", err)
	}

	return MirrorImage{
		Mode:          MirrorMode(mode),
		State:         MirrorImageState(state),
		GlobalImageID: globalID,
	}, nil
}
