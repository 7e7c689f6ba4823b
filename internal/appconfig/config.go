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

// Package appconfig resolves the process-wide configuration singleton: the
// cluster API URL, the target namespace and the issuance TTL. It is
// constructed once in main and passed by reference into every component
// constructor, per the one-shot initialization barrier design note.
package appconfig

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// DefaultExpireMinutes is used when EXPIRE_MINUTES is unset or unparsable.
const DefaultExpireMinutes = 60

// DefaultNamespace is used when NAMESPACE is unset.
const DefaultNamespace = "default"

// ControllerName is stamped into the managed-by label and used as the
// name-generator prefix and the annotation domain.
const ControllerName = "accessctl"

// ClusterURLResolver discovers the API server URL to embed in issued
// kubeconfigs when CLUSTER_URL is not set explicitly. Cluster bootstrap is
// an out-of-scope external collaborator (spec.md §1); this interface exists
// so main can wire in whatever discovery strategy the deployment needs
// without the controller package depending on cloud SDKs directly.
type ClusterURLResolver interface {
	ResolveClusterURL(ctx context.Context, clusterNameHint string) (string, error)
}

// Config is the immutable, process-wide configuration singleton described
// in spec.md §5 ("Shared resources").
type Config struct {
	// ClusterURL is embedded in every issued kubeconfig's server field.
	ClusterURL string
	// Namespace is where Identity and Token objects are created.
	Namespace string
	// ExpireMinutes is the TTL stamped into expire-by and status.expires_at.
	ExpireMinutes int
}

// Options are the raw, not-yet-validated inputs to Resolve.
type Options struct {
	ClusterURL    string
	Namespace     string
	ClusterName   string
	ExpireMinutes string
}

// Resolve builds the Config singleton. If opts.ClusterURL is empty, resolver
// is consulted with opts.ClusterName as a tie-breaker hint (see
// SPEC_FULL.md's supplemented GKE/Anthos discovery note); resolver may be
// nil, in which case an empty ClusterURL is left for the caller to reject.
func Resolve(ctx context.Context, opts Options, resolver ClusterURLResolver) (*Config, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}

	expireMinutes, err := strconv.Atoi(opts.ExpireMinutes)
	if err != nil || expireMinutes <= 0 {
		expireMinutes = DefaultExpireMinutes
	}

	clusterURL := opts.ClusterURL
	if clusterURL == "" && resolver != nil {
		clusterURL, err = resolver.ResolveClusterURL(ctx, opts.ClusterName)
		if err != nil {
			return nil, errors.Wrap(err, "resolve cluster URL")
		}
	}

	return &Config{
		ClusterURL:    clusterURL,
		Namespace:     namespace,
		ExpireMinutes: expireMinutes,
	}, nil
}

// TTL is the configured issuance time-to-live as a duration.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.ExpireMinutes) * time.Minute
}
