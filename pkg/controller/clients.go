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

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	accessv1 "github.com/GoogleCloudPlatform/accessctl/pkg/apis/access/v1"
)

// annotationServiceAccountName binds a Token secret to its Identity, the
// same key the platform's token controller reads.
const annotationServiceAccountName = "kubernetes.io/service-account.name"

// secretTypeServiceAccountToken is the opaque secret type the platform's
// token controller populates asynchronously.
const secretTypeServiceAccountToken = corev1.SecretType("kubernetes.io/service-account-token")

// IdentityClient creates and probes namespaced ServiceAccount identities
// (C4).
type IdentityClient struct {
	client    kubernetes.Interface
	namespace string
	meta      *MetaFactory
	logger    log.Logger
}

// NewIdentityClient returns an IdentityClient for the configured namespace.
func NewIdentityClient(client kubernetes.Interface, namespace string, meta *MetaFactory, logger log.Logger) *IdentityClient {
	return &IdentityClient{client: client, namespace: namespace, meta: meta, logger: logger}
}

// Exists implements Prober.
func (c *IdentityClient) Exists(ctx context.Context, name string) (bool, error) {
	return exists(ctx, func() error {
		_, err := c.client.CoreV1().ServiceAccounts(c.namespace).Get(ctx, name, metav1.GetOptions{})
		return err
	})
}

// Create stamps C1 metadata and issues the ServiceAccount.
func (c *IdentityClient) Create(ctx context.Context, name string, owner *accessv1.AccessRequest) (*corev1.ServiceAccount, error) {
	sa := &corev1.ServiceAccount{
		ObjectMeta: c.meta.ObjectMeta(name, c.namespace, owner),
	}

	created, err := c.client.CoreV1().ServiceAccounts(c.namespace).Create(ctx, sa, metav1.CreateOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "create service account %q", name)
	}

	level.Info(c.logger).Log("msg", "Created ServiceAccount "+name)
	return created, nil
}

// TokenClient creates and probes the namespaced Secret that backs an
// Identity's token (C4).
type TokenClient struct {
	client    kubernetes.Interface
	namespace string
	meta      *MetaFactory
	logger    log.Logger
}

// NewTokenClient returns a TokenClient for the configured namespace.
func NewTokenClient(client kubernetes.Interface, namespace string, meta *MetaFactory, logger log.Logger) *TokenClient {
	return &TokenClient{client: client, namespace: namespace, meta: meta, logger: logger}
}

// Exists implements Prober.
func (c *TokenClient) Exists(ctx context.Context, name string) (bool, error) {
	return exists(ctx, func() error {
		_, err := c.client.CoreV1().Secrets(c.namespace).Get(ctx, name, metav1.GetOptions{})
		return err
	})
}

// Create stamps C1 metadata, binds the secret to identityName via the
// platform's annotation, and issues the Secret.
func (c *TokenClient) Create(ctx context.Context, name, identityName string, owner *accessv1.AccessRequest) (*corev1.Secret, error) {
	meta := c.meta.ObjectMeta(name, c.namespace, owner)
	meta.Annotations[annotationServiceAccountName] = identityName

	secret := &corev1.Secret{
		ObjectMeta: meta,
		Type:       secretTypeServiceAccountToken,
	}

	created, err := c.client.CoreV1().Secrets(c.namespace).Create(ctx, secret, metav1.CreateOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "create token secret %q", name)
	}

	level.Info(c.logger).Log("msg", "Created Secret (SA token) "+name)
	return created, nil
}

// Get reads back the current state of a token secret, used by the config
// assembler's retry loop.
func (c *TokenClient) Get(ctx context.Context, name string) (*corev1.Secret, error) {
	secret, err := c.client.CoreV1().Secrets(c.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "get token secret %q", name)
	}
	return secret, nil
}

// BindingClient creates and probes cluster-scoped ClusterRoleBindings (C4).
type BindingClient struct {
	client    kubernetes.Interface
	namespace string
	meta      *MetaFactory
	logger    log.Logger
}

// NewBindingClient returns a BindingClient. namespace is the namespace the
// subject ServiceAccount lives in (the controller's configured namespace),
// not a scope of the binding itself, which is cluster-scoped.
func NewBindingClient(client kubernetes.Interface, namespace string, meta *MetaFactory, logger log.Logger) *BindingClient {
	return &BindingClient{client: client, namespace: namespace, meta: meta, logger: logger}
}

// Exists implements Prober.
func (c *BindingClient) Exists(ctx context.Context, name string) (bool, error) {
	return exists(ctx, func() error {
		_, err := c.client.RbacV1().ClusterRoleBindings().Get(ctx, name, metav1.GetOptions{})
		return err
	})
}

// Create stamps C1 metadata without an owner reference (the binding is
// removed by the reaper, not by the platform's owner cascade, see
// DESIGN.md) and binds identityName, in the configured namespace, to
// roleName.
func (c *BindingClient) Create(ctx context.Context, name, identityName, roleName string, owner *accessv1.AccessRequest) (*rbacv1.ClusterRoleBinding, error) {
	meta := c.meta.ObjectMeta(name, "", nil)

	binding := &rbacv1.ClusterRoleBinding{
		ObjectMeta: meta,
		Subjects: []rbacv1.Subject{{
			Kind:      rbacv1.ServiceAccountKind,
			Name:      identityName,
			Namespace: c.namespace,
		}},
		RoleRef: rbacv1.RoleRef{
			APIGroup: rbacv1.GroupName,
			Kind:     "ClusterRole",
			Name:     roleName,
		},
	}

	created, err := c.client.RbacV1().ClusterRoleBindings().Create(ctx, binding, metav1.CreateOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "create cluster role binding %q", name)
	}

	level.Info(c.logger).Log("msg", "Created ClusterRoleBinding "+name)
	return created, nil
}

// exists runs get and maps its result to a boolean, matching the
// "probe the API the creation will use" contract of C2 without leaking
// apierrors across the Prober interface.
func exists(_ context.Context, get func() error) (bool, error) {
	err := get()
	if err == nil {
		return true, nil
	}
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	return false, err
}
