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

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const (
	// CephConfigPath is the location of the ceph.conf file used to connect
	// to either cluster. Both clusters share the same config file; only
	// the monitors and keyring passed on the connection differ.
	CephConfigPath = "/etc/ceph/ceph.conf"

	// ClusterConfigFile is the location of the per-cluster config file,
	// keyed by cluster ID, the same way the CSI driver's config.json is.
	ClusterConfigFile = "/etc/rbd-mirror-bootstrap/config.json"

	// defaultCommitAge is used when rbd_mirror_journal_commit_age is not
	// set in the cluster config.
	defaultCommitAge = 5.0
)

// ClusterConfig is the connection information for one cluster, local or
// remote, as read from ClusterConfigFile.
type ClusterConfig struct {
	// ClusterID identifies this entry among the entries in the config file.
	ClusterID string `json:"clusterID"`
	// Monitors is the monitor list for this cluster.
	Monitors []string `json:"monitors"`
	// RbdMirrorJournalCommitAge is rbd_mirror_journal_commit_age, the
	// only configuration input the bootstrap core reads.
	RbdMirrorJournalCommitAge float64 `json:"rbdMirrorJournalCommitAge"`
}

// CommitInterval returns the configured commit_interval for the Journaler,
// falling back to the documented default when unset.
func (c ClusterConfig) CommitInterval() time.Duration {
	age := c.RbdMirrorJournalCommitAge
	if age <= 0 {
		age = defaultCommitAge
	}

	return time.Duration(age * float64(time.Second))
}

// ReadClusterConfig reads ClusterConfigFile and returns the entry matching
// clusterID.
func ReadClusterConfig(pathToConfig, clusterID string) (*ClusterConfig, error) {
	var config []ClusterConfig

	content, err := os.ReadFile(pathToConfig) // #nosec:G304, file inclusion via variable.
	if err != nil {
		return nil, fmt.Errorf("error fetching configuration for cluster ID %q: %w", clusterID, err)
	}

	err = json.Unmarshal(content, &config)
	if err != nil {
		return nil, fmt.Errorf("unmarshal failed (%w), raw buffer response: %s", err, string(content))
	}

	for i := range config {
		if config[i].ClusterID == clusterID {
			return &config[i], nil
		}
	}

	return nil, fmt.Errorf("missing configuration for cluster ID %q", clusterID)
}
