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

package controller

import (
	"context"

	"github.com/pkg/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"

	accessv1 "github.com/GoogleCloudPlatform/accessctl/pkg/apis/access/v1"
)

// StatusStore performs read-modify-write of an AccessRequest's status
// subresource through a chain of typed mutators (C6). It does not resolve
// write conflicts: a version conflict is surfaced to the caller, who
// (per spec.md §4.6) must treat it as fatal for the current reconcile pass.
type StatusStore struct {
	client  client.Client
	request *accessv1.AccessRequest
}

// NewStatusStore returns a store ready for chained mutation of request's
// Status as the caller holds it (the zero value if it has none). It does
// not re-read the status subresource from the API server.
func NewStatusStore(c client.Client, request *accessv1.AccessRequest) *StatusStore {
	return &StatusStore{client: c, request: request}
}

// Ready sets status.ready.
func (s *StatusStore) Ready(v bool) *StatusStore {
	s.request.Status.Ready = v
	return s
}

// Failed sets status.failed.
func (s *StatusStore) Failed(v bool) *StatusStore {
	s.request.Status.Failed = v
	return s
}

// Message sets the human-readable last event.
func (s *StatusStore) Message(msg string) *StatusStore {
	s.request.Status.Message = msg
	return s
}

// ArtifactNames sets the three generated artifact names.
func (s *StatusStore) ArtifactNames(serviceAccount, token, roleBinding string) *StatusStore {
	s.request.Status.ServiceAccountName = serviceAccount
	s.request.Status.TokenName = token
	s.request.Status.RoleBindingName = roleBinding
	return s
}

// ExpiresAt sets the epoch-seconds deadline.
func (s *StatusStore) ExpiresAt(epochSeconds int64) *StatusStore {
	s.request.Status.ExpiresAt = &epochSeconds
	return s
}

// Kubeconfig sets the rendered client configuration.
func (s *StatusStore) Kubeconfig(kubeconfig string) *StatusStore {
	s.request.Status.Kubeconfig = kubeconfig
	return s
}

// Update writes the accumulated status back via a full-object replace of
// the status subresource (spec.md §9 OQ2: full replace, not field patch).
func (s *StatusStore) Update(ctx context.Context) error {
	if err := s.client.Status().Update(ctx, s.request); err != nil {
		return errors.Wrapf(err, "update status of %q", s.request.Name)
	}
	return nil
}

// Request returns the underlying object the store is mutating, with the
// accumulated fields applied.
func (s *StatusStore) Request() *accessv1.AccessRequest {
	return s.request
}
