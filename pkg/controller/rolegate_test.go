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
	"testing"

	"github.com/pkg/errors"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestRoleGateGet(t *testing.T) {
	cases := []struct {
		doc     string
		role    *rbacv1.ClusterRole
		wantErr error
	}{
		{
			doc: "eligible role",
			role: &rbacv1.ClusterRole{
				ObjectMeta: metav1.ObjectMeta{
					Name:        "viewer",
					Annotations: map[string]string{AnnotationRoleEligible: "true"},
				},
			},
		},
		{
			doc: "role missing eligibility annotation",
			role: &rbacv1.ClusterRole{
				ObjectMeta: metav1.ObjectMeta{Name: "viewer"},
			},
			wantErr: ErrRoleNotEligible,
		},
		{
			doc:     "role not found",
			wantErr: ErrRoleNotFound,
		},
	}

	for _, c := range cases {
		t.Run(c.doc, func(t *testing.T) {
			client := fake.NewSimpleClientset()
			if c.role != nil {
				client = fake.NewSimpleClientset(c.role)
			}

			gate := NewRoleGate(client)
			_, err := gate.Get(context.Background(), "viewer")

			if c.wantErr != nil {
				if !errors.Is(err, c.wantErr) {
					t.Fatalf("Get() error = %v, want wrapping %v", err, c.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get() unexpected error = %v", err)
			}
		})
	}
}
