// Copyright 2021 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package appconfig

import (
	"context"

	"github.com/pkg/errors"
	"k8s.io/client-go/rest"
)

// InClusterResolver resolves the cluster URL from the Kubernetes-injected
// in-cluster service account environment, the default spec.md §6 lists for
// CLUSTER_URL. It ignores clusterNameHint: disambiguating between multiple
// provider-managed clusters is the bootstrap collaborator's job
// (spec.md §1, "out of scope"), not this controller's.
type InClusterResolver struct{}

// ResolveClusterURL implements ClusterURLResolver.
func (InClusterResolver) ResolveClusterURL(_ context.Context, _ string) (string, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return "", errors.Wrap(err, "read in-cluster config")
	}
	return cfg.Host, nil
}
