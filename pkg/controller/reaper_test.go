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
	"strconv"
	"testing"
	"time"

	"github.com/go-kit/log"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	accessv1 "github.com/GoogleCloudPlatform/accessctl/pkg/apis/access/v1"
)

func withExpireBy(obj metav1.ObjectMeta, controllerName string, expiresAt int64) metav1.ObjectMeta {
	obj.Labels = map[string]string{LabelManagedBy: controllerName}
	obj.Annotations = map[string]string{AnnotationExpireBy: strconv.FormatInt(expiresAt, 10)}
	return obj
}

func TestReaperSweepsExpiredIdentitiesOnly(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expired := &corev1.ServiceAccount{
		ObjectMeta: withExpireBy(metav1.ObjectMeta{Name: "expired-sa", Namespace: "default"}, "accessctl", now.Add(-time.Minute).Unix()),
	}
	fresh := &corev1.ServiceAccount{
		ObjectMeta: withExpireBy(metav1.ObjectMeta{Name: "fresh-sa", Namespace: "default"}, "accessctl", now.Add(time.Hour).Unix()),
	}
	unmanaged := &corev1.ServiceAccount{
		ObjectMeta: metav1.ObjectMeta{Name: "unrelated-sa", Namespace: "default"},
	}

	kubeClient := fake.NewSimpleClientset(expired, fresh, unmanaged)
	target := NewIdentitySweepTarget(kubeClient, "default", "accessctl")
	reaper := NewReaper([]SweepTarget{target}, log.NewNopLogger(), nil)
	reaper.now = func() time.Time { return now }

	reaper.sweep(context.Background(), target)

	remaining, err := kubeClient.CoreV1().ServiceAccounts("default").List(context.Background(), metav1.ListOptions{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	names := map[string]bool{}
	for _, sa := range remaining.Items {
		names[sa.Name] = true
	}
	if names["expired-sa"] {
		t.Error("expired-sa was not reaped")
	}
	if !names["fresh-sa"] || !names["unrelated-sa"] {
		t.Errorf("sweep deleted non-expired objects: %+v", names)
	}
}

func TestReaperSweepsExpiredRequests(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expiredAt := now.Add(-time.Second).Unix()
	expiredRequest := &accessv1.AccessRequest{
		ObjectMeta: metav1.ObjectMeta{Name: "expired-req"},
		Status:     accessv1.AccessRequestStatus{Ready: true, ExpiresAt: &expiredAt},
	}
	freshAt := now.Add(time.Hour).Unix()
	freshRequest := &accessv1.AccessRequest{
		ObjectMeta: metav1.ObjectMeta{Name: "fresh-req"},
		Status:     accessv1.AccessRequestStatus{Ready: true, ExpiresAt: &freshAt},
	}
	unresolvedRequest := &accessv1.AccessRequest{
		ObjectMeta: metav1.ObjectMeta{Name: "unresolved-req"},
	}

	crdClient := newFakeCRDClient(t, expiredRequest, freshRequest, unresolvedRequest)
	target := NewRequestSweepTarget(crdClient)
	reaper := NewReaper([]SweepTarget{target}, log.NewNopLogger(), nil)
	reaper.now = func() time.Time { return now }

	reaper.sweep(context.Background(), target)

	var list accessv1.AccessRequestList
	if err := crdClient.List(context.Background(), &list); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	names := map[string]bool{}
	for _, r := range list.Items {
		names[r.Name] = true
	}
	if names["expired-req"] {
		t.Error("expired-req was not reaped")
	}
	if !names["fresh-req"] || !names["unresolved-req"] {
		t.Errorf("sweep deleted a non-expired request: %+v", names)
	}
}
