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

// Package controller implements the access controller: it watches
// AccessRequest objects, mints a ServiceAccount/Secret/ClusterRoleBinding
// bundle scoped to a pre-approved ClusterRole, renders a kubeconfig into
// the request's status, and reaps every issued artifact once it expires.
package controller

import (
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/GoogleCloudPlatform/accessctl/internal/appconfig"
)

// Controller wires together C1-C9 from a resolved Config and a pair of
// Kubernetes clients: a typed client-go clientset for the built-in
// ServiceAccount/Secret/ClusterRoleBinding/ClusterRole kinds, and a
// controller-runtime client for the AccessRequest CRD (see DESIGN.md for
// why no generated clientset is used for the custom resource).
type Controller struct {
	Watcher *Watcher
	Reaper  *Reaper
}

// New constructs a Controller ready to run its Watcher and Reaper actors.
func New(cfg *appconfig.Config, kubeClient kubernetes.Interface, crdClient client.WithWatch, reg prometheus.Registerer, logger log.Logger) *Controller {
	metrics := NewMetrics(reg)
	meta := NewMetaFactory(appconfig.ControllerName, cfg.TTL(), nil)

	identities := NewIdentityClient(kubeClient, cfg.Namespace, meta, logger)
	tokens := NewTokenClient(kubeClient, cfg.Namespace, meta, logger)
	bindings := NewBindingClient(kubeClient, cfg.Namespace, meta, logger)
	roleGate := NewRoleGate(kubeClient)
	assembler := NewConfigAssembler(tokens, cfg.ClusterURL, metrics)

	reconciler := NewReconciler(ReconcilerOptions{
		Client:         crdClient,
		RoleGate:       roleGate,
		Identities:     identities,
		Tokens:         tokens,
		Bindings:       bindings,
		Assembler:      assembler,
		Meta:           meta,
		ControllerName: appconfig.ControllerName,
		Logger:         logger,
		Metrics:        metrics,
	})

	watcher := NewWatcher(crdClient, reconciler, logger)

	reaper := NewReaper([]SweepTarget{
		NewRequestSweepTarget(crdClient),
		NewIdentitySweepTarget(kubeClient, cfg.Namespace, appconfig.ControllerName),
		NewTokenSweepTarget(kubeClient, cfg.Namespace, appconfig.ControllerName),
		NewBindingSweepTarget(kubeClient, appconfig.ControllerName),
	}, logger, metrics)

	return &Controller{Watcher: watcher, Reaper: reaper}
}
