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
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/controller-runtime/pkg/client"

	accessv1 "github.com/GoogleCloudPlatform/accessctl/pkg/apis/access/v1"
)

// sweepInterval is the reaper's fixed tick, per spec.md §4.9.
const sweepInterval = 60 * time.Second

// sweepItem is the minimal shape the reaper needs from any swept object:
// a name to delete and an expiry deadline to compare against the clock.
// It plays the role of the {HasExpiry, HasAPI, HasMeta} capability set
// from spec.md §9's design note — realized here as one shared struct
// instead of three separate interfaces, since every kind this controller
// issues carries exactly these two facts.
type sweepItem struct {
	name      string
	expiresAt *int64
}

// SweepTarget is one kind the reaper scans: list its current members, then
// delete the ones sweepItem.expiresAt has already passed.
type SweepTarget interface {
	Kind() string
	List(ctx context.Context) ([]sweepItem, error)
	Delete(ctx context.Context, name string) error
}

// Reaper deletes expired Requests, Identities, Tokens and Bindings on a
// fixed tick (C9), grounded on original_source/traits/expire.rs's
// Expire::scan: list, check expiry, delete, log and continue past errors.
type Reaper struct {
	targets []SweepTarget
	now     func() time.Time
	logger  log.Logger
	metrics *Metrics
}

// NewReaper returns a Reaper sweeping targets in order on every tick.
func NewReaper(targets []SweepTarget, logger log.Logger, metrics *Metrics) *Reaper {
	return &Reaper{targets: targets, now: time.Now, logger: logger, metrics: metrics}
}

// Run ticks every sweepInterval until ctx is cancelled, sweeping once
// immediately on entry so a short-lived process still reaps at least once.
func (r *Reaper) Run(ctx context.Context) error {
	r.sweepAll(ctx)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweepAll(ctx)
		}
	}
}

func (r *Reaper) sweepAll(ctx context.Context) {
	for _, target := range r.targets {
		r.sweep(ctx, target)
	}
}

func (r *Reaper) sweep(ctx context.Context, target SweepTarget) {
	level.Info(r.logger).Log("msg", "scanning", "kind", target.Kind())

	items, err := target.List(ctx)
	if err != nil {
		level.Error(r.logger).Log("msg", "list failed", "kind", target.Kind(), "err", err)
		return
	}

	now := r.now().Unix()
	for _, item := range items {
		if item.expiresAt == nil || *item.expiresAt >= now {
			continue
		}

		level.Info(r.logger).Log("msg", "expired", "kind", target.Kind(), "name", item.name)
		if err := target.Delete(ctx, item.name); err != nil {
			level.Error(r.logger).Log("msg", "delete failed", "kind", target.Kind(), "name", item.name, "err", err)
			continue
		}
		if r.metrics != nil {
			r.metrics.ReaperDeletedTotal.WithLabelValues(target.Kind()).Inc()
		}
	}
}

// parseExpireBy parses the expire-by annotation the other three kinds
// carry (C1 stamps it as a base-10 epoch-seconds string). A missing or
// unparsable annotation means "never expires" by the same rule
// original_source/traits/expire.rs applies to a missing field.
func parseExpireBy(annotations map[string]string) *int64 {
	raw, ok := annotations[AnnotationExpireBy]
	if !ok {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

// NewIdentitySweepTarget reaps expired ServiceAccounts labeled as issued by
// controllerName.
func NewIdentitySweepTarget(client kubernetes.Interface, namespace, controllerName string) SweepTarget {
	return identitySweepTarget{client: client, namespace: namespace, controllerName: controllerName}
}

type identitySweepTarget struct {
	client         kubernetes.Interface
	namespace      string
	controllerName string
}

func (identitySweepTarget) Kind() string { return "Identity" }

func (t identitySweepTarget) List(ctx context.Context) ([]sweepItem, error) {
	list, err := t.client.CoreV1().ServiceAccounts(t.namespace).List(ctx, managedByListOptions(t.controllerName))
	if err != nil {
		return nil, errors.Wrap(err, "list service accounts")
	}
	items := make([]sweepItem, 0, len(list.Items))
	for _, sa := range list.Items {
		items = append(items, sweepItem{name: sa.Name, expiresAt: parseExpireBy(sa.Annotations)})
	}
	return items, nil
}

func (t identitySweepTarget) Delete(ctx context.Context, name string) error {
	err := t.client.CoreV1().ServiceAccounts(t.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return errors.Wrapf(err, "delete service account %q", name)
	}
	return nil
}

// NewTokenSweepTarget reaps expired token Secrets labeled as issued by
// controllerName.
func NewTokenSweepTarget(client kubernetes.Interface, namespace, controllerName string) SweepTarget {
	return tokenSweepTarget{client: client, namespace: namespace, controllerName: controllerName}
}

type tokenSweepTarget struct {
	client         kubernetes.Interface
	namespace      string
	controllerName string
}

func (tokenSweepTarget) Kind() string { return "Token" }

func (t tokenSweepTarget) List(ctx context.Context) ([]sweepItem, error) {
	list, err := t.client.CoreV1().Secrets(t.namespace).List(ctx, managedByListOptions(t.controllerName))
	if err != nil {
		return nil, errors.Wrap(err, "list secrets")
	}
	items := make([]sweepItem, 0, len(list.Items))
	for _, secret := range list.Items {
		items = append(items, sweepItem{name: secret.Name, expiresAt: parseExpireBy(secret.Annotations)})
	}
	return items, nil
}

func (t tokenSweepTarget) Delete(ctx context.Context, name string) error {
	err := t.client.CoreV1().Secrets(t.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return errors.Wrapf(err, "delete secret %q", name)
	}
	return nil
}

// NewBindingSweepTarget reaps expired ClusterRoleBindings labeled as issued
// by controllerName.
func NewBindingSweepTarget(client kubernetes.Interface, controllerName string) SweepTarget {
	return bindingSweepTarget{client: client, controllerName: controllerName}
}

type bindingSweepTarget struct {
	client         kubernetes.Interface
	controllerName string
}

func (bindingSweepTarget) Kind() string { return "Binding" }

func (t bindingSweepTarget) List(ctx context.Context) ([]sweepItem, error) {
	list, err := t.client.RbacV1().ClusterRoleBindings().List(ctx, managedByListOptions(t.controllerName))
	if err != nil {
		return nil, errors.Wrap(err, "list cluster role bindings")
	}
	items := make([]sweepItem, 0, len(list.Items))
	for _, binding := range list.Items {
		items = append(items, sweepItem{name: binding.Name, expiresAt: parseExpireBy(binding.Annotations)})
	}
	return items, nil
}

func (t bindingSweepTarget) Delete(ctx context.Context, name string) error {
	err := t.client.RbacV1().ClusterRoleBindings().Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return errors.Wrapf(err, "delete cluster role binding %q", name)
	}
	return nil
}

// requestSweepTarget reaps AccessRequests whose status.expiresAt has
// passed. Unlike the three issued-artifact kinds, a Request carries its
// deadline as a typed status field rather than an annotation (it is not
// an object this controller itself labels on creation — the user creates
// it), so require_managed_by_label does not apply here, matching
// original_source/traits/expire.rs's per-kind override of that rule.
// NewRequestSweepTarget reaps AccessRequests whose status.expiresAt has
// passed.
func NewRequestSweepTarget(c client.Client) SweepTarget {
	return requestSweepTarget{client: c}
}

type requestSweepTarget struct {
	client client.Client
}

func (requestSweepTarget) Kind() string { return "Request" }

func (t requestSweepTarget) List(ctx context.Context) ([]sweepItem, error) {
	var list accessv1.AccessRequestList
	if err := t.client.List(ctx, &list); err != nil {
		return nil, errors.Wrap(err, "list access requests")
	}
	items := make([]sweepItem, 0, len(list.Items))
	for _, request := range list.Items {
		items = append(items, sweepItem{name: request.Name, expiresAt: request.Status.ExpiresAt})
	}
	return items, nil
}

func (t requestSweepTarget) Delete(ctx context.Context, name string) error {
	request := &accessv1.AccessRequest{ObjectMeta: metav1.ObjectMeta{Name: name}}
	err := t.client.Delete(ctx, request)
	if err != nil && !apierrors.IsNotFound(err) {
		return errors.Wrapf(err, "delete access request %q", name)
	}
	return nil
}

// managedByListOptions filters to objects this controller issued, the Go
// equivalent of Expire::require_managed_by_label()'s label selector.
func managedByListOptions(controllerName string) metav1.ListOptions {
	return metav1.ListOptions{LabelSelector: LabelManagedBy + "=" + controllerName}
}
