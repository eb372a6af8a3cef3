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

package rbd

import (
	"errors"
	"fmt"

	"github.com/ceph/rbd-mirror-bootstrap/internal/util"

	librbd "github.com/ceph/go-ceph/rbd"
)

// translateOpenError maps librbd's open errors onto the bootstrap core's
// error taxonomy: a missing image becomes util.ErrNotFound, and every other
// error is wrapped with the image name. It does not detect a primary local
// replica; OpenLocalImage checks PromotionState after a successful open.
func translateOpenError(imageName string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, librbd.ErrNotFound) {
		return util.JoinErrors(util.ErrNotFound, fmt.Errorf("image %q: %w", imageName, err))
	}

	if errors.Is(err, librbd.ErrNotExist) {
		return util.JoinErrors(util.ErrNotFound, fmt.Errorf("image %q: %w", imageName, err))
	}

	return fmt.Errorf("failed to open image %q: %w", imageName, err)
}
