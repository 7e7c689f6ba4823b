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
	rbacv1 "k8s.io/api/rbac/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// ErrRoleNotFound is returned when the named ClusterRole does not exist.
var ErrRoleNotFound = errors.New("role not found")

// ErrRoleNotEligible is returned when the ClusterRole exists but lacks the
// issuance-eligible annotation.
var ErrRoleNotEligible = errors.New("role not eligible for issuance")

// RoleGate verifies a cluster-wide role is annotated as issuance-eligible
// (C3). It must run before any artifact is created so a bad request
// produces no side effects.
type RoleGate struct {
	client kubernetes.Interface
}

// NewRoleGate returns a RoleGate backed by client.
func NewRoleGate(client kubernetes.Interface) *RoleGate {
	return &RoleGate{client: client}
}

// Get fetches the named ClusterRole and fails ErrRoleNotEligible when its
// annotations don't carry the eligibility marker.
func (g *RoleGate) Get(ctx context.Context, name string) (*rbacv1.ClusterRole, error) {
	role, err := g.client.RbacV1().ClusterRoles().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil, ErrRoleNotFound
		}
		return nil, errors.Wrapf(err, "get cluster role %q", name)
	}

	if role.Annotations[AnnotationRoleEligible] != "true" {
		return nil, ErrRoleNotEligible
	}

	return role, nil
}
