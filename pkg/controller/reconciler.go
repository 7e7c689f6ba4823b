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
	"sigs.k8s.io/controller-runtime/pkg/client"

	accessv1 "github.com/GoogleCloudPlatform/accessctl/pkg/apis/access/v1"
)

// Reconciler drives a single AccessRequest from Submitted to Ready or
// Failed (C7). It is not re-entrant for a single request: the caller
// (Watcher, C8) gates re-entry on status == nil.
//
// A failure transitions the request to the Failed terminal state, but the
// Failed status write itself is the caller's responsibility (see Watcher),
// matching spec.md §4.8's "on reconciler error, refresh status, mark
// failed=true... and continue". Reconcile only performs the two writes
// that belong to its own successful path: the NamesAssigned write and the
// final Ready write.
type Reconciler struct {
	client         client.Client
	roleGate       *RoleGate
	identities     *IdentityClient
	tokens         *TokenClient
	bindings       *BindingClient
	assembler      *ConfigAssembler
	meta           *MetaFactory
	controllerName string
	logger         log.Logger
	metrics        *Metrics
}

// ReconcilerOptions bundles the collaborators a Reconciler needs.
type ReconcilerOptions struct {
	Client         client.Client
	RoleGate       *RoleGate
	Identities     *IdentityClient
	Tokens         *TokenClient
	Bindings       *BindingClient
	Assembler      *ConfigAssembler
	Meta           *MetaFactory
	ControllerName string
	Logger         log.Logger
	Metrics        *Metrics
}

// NewReconciler returns a Reconciler built from opts.
func NewReconciler(opts ReconcilerOptions) *Reconciler {
	return &Reconciler{
		client:         opts.Client,
		roleGate:       opts.RoleGate,
		identities:     opts.Identities,
		tokens:         opts.Tokens,
		bindings:       opts.Bindings,
		assembler:      opts.Assembler,
		meta:           opts.Meta,
		controllerName: opts.ControllerName,
		logger:         opts.Logger,
		metrics:        opts.Metrics,
	}
}

// Reconcile runs the state machine in spec.md §4.7 for request.
func (r *Reconciler) Reconcile(ctx context.Context, request *accessv1.AccessRequest) error {
	err := r.reconcile(ctx, request)
	if r.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		r.metrics.ReconcileTotal.WithLabelValues(outcome).Inc()
	}
	return err
}

func (r *Reconciler) reconcile(ctx context.Context, request *accessv1.AccessRequest) error {
	status := NewStatusStore(r.client, request)

	// Submitted -> NamesAssigned.
	serviceAccountName, err := GenerateName(ctx, r.controllerName, r.identities)
	if err != nil {
		return errors.Wrap(err, "generate service account name")
	}
	tokenName, err := GenerateName(ctx, r.controllerName, r.tokens)
	if err != nil {
		return errors.Wrap(err, "generate token name")
	}
	roleBindingName, err := GenerateName(ctx, r.controllerName, r.bindings)
	if err != nil {
		return errors.Wrap(err, "generate role binding name")
	}
	expiresAt := r.meta.ExpireAt()

	if err := status.
		Ready(false).
		Failed(false).
		Message("Generated names").
		ArtifactNames(serviceAccountName, tokenName, roleBindingName).
		ExpiresAt(expiresAt).
		Update(ctx); err != nil {
		return errors.Wrap(err, "write NamesAssigned status")
	}

	role, err := r.roleGate.Get(ctx, request.Spec.Role)
	if err != nil {
		return errors.Wrapf(err, "validate role %q", request.Spec.Role)
	}

	if _, err := r.identities.Create(ctx, serviceAccountName, request); err != nil {
		return errors.Wrap(err, "create identity")
	}
	if _, err := r.tokens.Create(ctx, tokenName, serviceAccountName, request); err != nil {
		return errors.Wrap(err, "create token")
	}
	if _, err := r.bindings.Create(ctx, roleBindingName, serviceAccountName, role.Name, request); err != nil {
		return errors.Wrap(err, "create role binding")
	}

	kubeconfig, err := r.assembler.Assemble(ctx, tokenName, serviceAccountName)
	if err != nil {
		return errors.Wrap(err, "assemble kubeconfig")
	}

	if err := status.
		Ready(true).
		Failed(false).
		Kubeconfig(kubeconfig).
		Message("Completed").
		Update(ctx); err != nil {
		return errors.Wrap(err, "write Ready status")
	}

	level.Info(r.logger).Log("msg", "access request ready", "name", request.Name)
	return nil
}
