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
	"strconv"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	accessv1 "github.com/GoogleCloudPlatform/accessctl/pkg/apis/access/v1"
)

const (
	// LabelManagedBy lets the reaper safely filter for artifacts this
	// controller issued.
	LabelManagedBy = "app.kubernetes.io/managed-by"

	// AnnotationExpireBy carries the epoch-seconds deadline the reaper
	// enforces.
	AnnotationExpireBy = "accessctl.dev/expire-by"

	// AnnotationRoleEligible marks a ClusterRole as issuable (C3).
	AnnotationRoleEligible = "accessctl.dev/role"

	requestKind = "AccessRequest"
)

// MetaFactory builds the object metadata common to every issued artifact
// (C1). It owns the clock so tests can control TTL expiry deterministically,
// the way the teacher's CRDStatusState takes a Now func.
type MetaFactory struct {
	controllerName string
	ttl            time.Duration
	now            func() time.Time
}

// NewMetaFactory returns a MetaFactory stamping expire-by as now+ttl. A nil
// now defaults to time.Now.
func NewMetaFactory(controllerName string, ttl time.Duration, now func() time.Time) *MetaFactory {
	if now == nil {
		now = time.Now
	}
	return &MetaFactory{controllerName: controllerName, ttl: ttl, now: now}
}

// ExpireAt returns the epoch-seconds deadline for an artifact stamped now.
func (f *MetaFactory) ExpireAt() int64 {
	return f.now().Add(f.ttl).Unix()
}

// ObjectMeta returns the metadata record described in spec.md §4.1: the
// given name/namespace, the universal labels, an expire-by annotation, and
// (when owner.UID is known) an owner back-reference to the request. Calling
// this twice with the same inputs yields records whose expire-by is
// monotone non-decreasing, since it always derives from the current clock
// reading.
func (f *MetaFactory) ObjectMeta(name, namespace string, owner *accessv1.AccessRequest) metav1.ObjectMeta {
	meta := metav1.ObjectMeta{
		Name:      name,
		Namespace: namespace,
		Labels:    f.Labels(),
		Annotations: map[string]string{
			AnnotationExpireBy: strconv.FormatInt(f.ExpireAt(), 10),
		},
	}

	if owner != nil && owner.UID != "" {
		meta.OwnerReferences = []metav1.OwnerReference{{
			APIVersion: accessv1.GroupVersion.String(),
			Kind:       requestKind,
			Name:       owner.Name,
			UID:        owner.UID,
		}}
	}

	return meta
}

// Labels returns the universal managed-by label stamped on every issued
// artifact.
func (f *MetaFactory) Labels() map[string]string {
	return map[string]string{
		LabelManagedBy: f.controllerName,
	}
}
