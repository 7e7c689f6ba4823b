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

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	accessv1 "github.com/GoogleCloudPlatform/accessctl/pkg/apis/access/v1"
)

func newFakeCRDClient(t *testing.T, objs ...client.Object) client.WithWatch {
	t.Helper()
	scheme, err := accessv1.NewScheme()
	if err != nil {
		t.Fatalf("NewScheme() error = %v", err)
	}
	return fake.NewClientBuilder().
		WithScheme(scheme).
		WithStatusSubresource(&accessv1.AccessRequest{}).
		WithObjects(objs...).
		Build()
}

func TestStatusStoreUpdateWritesAllFields(t *testing.T) {
	request := &accessv1.AccessRequest{
		ObjectMeta: metav1.ObjectMeta{Name: "req-1"},
		Spec:       accessv1.AccessRequestSpec{Role: "viewer"},
	}
	c := newFakeCRDClient(t, request)

	store := NewStatusStore(c, request)
	expiresAt := int64(1234567890)
	if err := store.
		Ready(true).
		Failed(false).
		Message("Completed").
		ArtifactNames("accessctl-sa1", "accessctl-tok1", "accessctl-bind1").
		ExpiresAt(expiresAt).
		Kubeconfig("apiVersion: v1").
		Update(context.Background()); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	var got accessv1.AccessRequest
	if err := c.Get(context.Background(), client.ObjectKey{Name: "req-1"}, &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if !got.Status.Ready || got.Status.Failed {
		t.Errorf("Status = %+v, want ready=true failed=false", got.Status)
	}
	if got.Status.ServiceAccountName != "accessctl-sa1" || got.Status.TokenName != "accessctl-tok1" || got.Status.RoleBindingName != "accessctl-bind1" {
		t.Errorf("Status artifact names = %+v", got.Status)
	}
	if got.Status.ExpiresAt == nil || *got.Status.ExpiresAt != expiresAt {
		t.Errorf("Status.ExpiresAt = %v, want %d", got.Status.ExpiresAt, expiresAt)
	}
	if got.Status.Kubeconfig != "apiVersion: v1" {
		t.Errorf("Status.Kubeconfig = %q", got.Status.Kubeconfig)
	}
}
