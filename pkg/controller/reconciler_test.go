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
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes/fake"
	"sigs.k8s.io/controller-runtime/pkg/client"

	accessv1 "github.com/GoogleCloudPlatform/accessctl/pkg/apis/access/v1"
)

var generatedNamePattern = regexp.MustCompile(`^accessctl-[a-z0-9]{6}$`)

func newTestReconciler(kubeClient *fake.Clientset, crdClient client.WithWatch, ttl time.Duration) *Reconciler {
	meta := NewMetaFactory("accessctl", ttl, nil)
	identities := NewIdentityClient(kubeClient, "default", meta, log.NewNopLogger())
	tokens := NewTokenClient(kubeClient, "default", meta, log.NewNopLogger())
	bindings := NewBindingClient(kubeClient, "default", meta, log.NewNopLogger())
	assembler := NewConfigAssembler(tokens, "https://api.example:6443", nil)
	assembler.backoff = fastTestBackoff

	return NewReconciler(ReconcilerOptions{
		Client:         crdClient,
		RoleGate:       NewRoleGate(kubeClient),
		Identities:     identities,
		Tokens:         tokens,
		Bindings:       bindings,
		Assembler:      assembler,
		Meta:           meta,
		ControllerName: "accessctl",
		Logger:         log.NewNopLogger(),
	})
}

func eligibleRole(name string) *rbacv1.ClusterRole {
	return &rbacv1.ClusterRole{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Annotations: map[string]string{AnnotationRoleEligible: "true"},
		},
	}
}

func TestReconcilerHappyPath(t *testing.T) {
	kubeClient := fake.NewSimpleClientset(eligibleRole("reader"))
	request := &accessv1.AccessRequest{
		ObjectMeta: metav1.ObjectMeta{Name: "r1"},
		Spec:       accessv1.AccessRequestSpec{Role: "reader"},
	}
	crdClient := newFakeCRDClient(t, request)
	reconciler := newTestReconciler(kubeClient, crdClient, time.Hour)

	stop := make(chan struct{})
	defer close(stop)
	go fillTokenSecretsSoonAfterCreate(kubeClient, "default", stop)

	if err := reconciler.Reconcile(context.Background(), request); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	var got accessv1.AccessRequest
	if err := crdClient.Get(context.Background(), client.ObjectKey{Name: "r1"}, &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if !got.Status.Ready || got.Status.Failed {
		t.Fatalf("Status = %+v, want ready=true failed=false", got.Status)
	}
	for _, name := range []string{got.Status.ServiceAccountName, got.Status.TokenName, got.Status.RoleBindingName} {
		if !generatedNamePattern.MatchString(name) {
			t.Errorf("generated name %q does not match %s", name, generatedNamePattern)
		}
	}
	if got.Status.ExpiresAt == nil {
		t.Fatal("Status.ExpiresAt is nil")
	}
	if !strings.Contains(got.Status.Kubeconfig, "tok-data") {
		t.Errorf("Kubeconfig missing token: %s", got.Status.Kubeconfig)
	}
}

func TestReconcilerIneligibleRole(t *testing.T) {
	kubeClient := fake.NewSimpleClientset(&rbacv1.ClusterRole{ObjectMeta: metav1.ObjectMeta{Name: "reader"}})
	request := &accessv1.AccessRequest{
		ObjectMeta: metav1.ObjectMeta{Name: "r2"},
		Spec:       accessv1.AccessRequestSpec{Role: "reader"},
	}
	crdClient := newFakeCRDClient(t, request)
	reconciler := newTestReconciler(kubeClient, crdClient, time.Hour)

	err := reconciler.Reconcile(context.Background(), request)
	if err == nil || !strings.Contains(err.Error(), "eligible") {
		t.Fatalf("Reconcile() error = %v, want mentioning eligibility", err)
	}

	sas, listErr := kubeClient.CoreV1().ServiceAccounts("default").List(context.Background(), metav1.ListOptions{})
	if listErr != nil {
		t.Fatalf("List() error = %v", listErr)
	}
	if len(sas.Items) != 0 {
		t.Errorf("ServiceAccounts created despite ineligible role: %+v", sas.Items)
	}
}

func TestReconcilerMissingRole(t *testing.T) {
	kubeClient := fake.NewSimpleClientset()
	request := &accessv1.AccessRequest{
		ObjectMeta: metav1.ObjectMeta{Name: "r3"},
		Spec:       accessv1.AccessRequestSpec{Role: "ghost"},
	}
	crdClient := newFakeCRDClient(t, request)
	reconciler := newTestReconciler(kubeClient, crdClient, time.Hour)

	if err := reconciler.Reconcile(context.Background(), request); err == nil {
		t.Fatal("Reconcile() error = nil, want role-not-found error")
	}
}

func TestReconcilerTokenNeverPopulated(t *testing.T) {
	kubeClient := fake.NewSimpleClientset(eligibleRole("reader"))
	request := &accessv1.AccessRequest{
		ObjectMeta: metav1.ObjectMeta{Name: "r4"},
		Spec:       accessv1.AccessRequestSpec{Role: "reader"},
	}
	crdClient := newFakeCRDClient(t, request)
	reconciler := newTestReconciler(kubeClient, crdClient, time.Hour)
	reconciler.assembler.backoff = func() wait.Backoff {
		return wait.Backoff{Duration: time.Millisecond, Factor: 1, Cap: time.Millisecond, Steps: 3}
	}

	if err := reconciler.Reconcile(context.Background(), request); err == nil {
		t.Fatal("Reconcile() error = nil, want token-not-populated error")
	}

	sas, listErr := kubeClient.CoreV1().ServiceAccounts("default").List(context.Background(), metav1.ListOptions{})
	if listErr != nil || len(sas.Items) != 1 {
		t.Errorf("ServiceAccount not left in place for reaper collection: items=%d err=%v", len(sas.Items), listErr)
	}
}

// fillTokenSecretsSoonAfterCreate polls for newly created Secrets and fills
// in ca.crt/token shortly after, standing in for the platform's
// asynchronous token controller until stop is closed.
func fillTokenSecretsSoonAfterCreate(kubeClient *fake.Clientset, namespace string, stop <-chan struct{}) {
	seen := map[string]bool{}

	for {
		select {
		case <-stop:
			return
		default:
		}

		list, err := kubeClient.CoreV1().Secrets(namespace).List(context.Background(), metav1.ListOptions{})
		if err == nil {
			for i := range list.Items {
				secret := &list.Items[i]
				if seen[secret.Name] {
					continue
				}
				seen[secret.Name] = true
				secret.Data = map[string][]byte{"ca.crt": []byte("ca-data"), "token": []byte("tok-data")}
				_, _ = kubeClient.CoreV1().Secrets(namespace).Update(context.Background(), secret, metav1.UpdateOptions{})
			}
		}
		time.Sleep(time.Millisecond)
	}
}
