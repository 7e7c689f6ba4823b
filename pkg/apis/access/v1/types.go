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

// Package v1 holds the AccessRequest custom resource consumed by the
// access controller.
package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// AccessRequest asks the controller to mint an ephemeral, role-scoped
// credential bundle for a pre-approved cluster-wide role.
// +genclient
// +genclient:nonNamespaced
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object
type AccessRequest struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   AccessRequestSpec   `json:"spec,omitempty"`
	Status AccessRequestStatus `json:"status,omitempty"`
}

// AccessRequestSpec is immutable after the first reconcile.
type AccessRequestSpec struct {
	// Role names the cluster-wide role to grant. The role must be marked
	// issuance-eligible (see the role gate) or the request fails.
	Role string `json:"role"`
}

// AccessRequestStatus is exclusively owned by the controller.
type AccessRequestStatus struct {
	// ServiceAccountName, TokenName and RoleBindingName are set no later
	// than the first status write of the reconcile.
	ServiceAccountName string `json:"serviceAccountName,omitempty"`
	TokenName          string `json:"tokenName,omitempty"`
	RoleBindingName    string `json:"roleBindingName,omitempty"`

	// Kubeconfig is the rendered client configuration. Set iff Ready.
	Kubeconfig string `json:"kubeconfig,omitempty"`

	Ready   bool   `json:"ready"`
	Failed  bool   `json:"failed"`
	Message string `json:"message,omitempty"`

	// ExpiresAt is epoch seconds. Set together with the artifact names at
	// the first status write, so it is always set when Ready.
	ExpiresAt *int64 `json:"expiresAt,omitempty"`
}

// AccessRequestList is a list of AccessRequests.
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object
type AccessRequestList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`

	Items []AccessRequest `json:"items"`
}

var _ runtime.Object = &AccessRequest{}
var _ runtime.Object = &AccessRequestList{}
