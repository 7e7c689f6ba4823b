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
	apiwatch "k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/client"

	accessv1 "github.com/GoogleCloudPlatform/accessctl/pkg/apis/access/v1"
)

// Watcher bootstraps outstanding AccessRequests and then dispatches each
// subsequent Applied event for a request with no status yet to the
// Reconciler (C8); Deleted events are ignored. Unlike the
// teacher's informer/workqueue pipeline (pkg/operator/operator.go), this is
// a single synchronous loop: spec.md's reconcile has no requeue/backoff
// semantics of its own, only the reaper runs on a fixed tick.
type Watcher struct {
	client     client.WithWatch
	reconciler *Reconciler
	logger     log.Logger
}

// NewWatcher returns a Watcher driving reconciler from events read through c.
func NewWatcher(c client.WithWatch, reconciler *Reconciler, logger log.Logger) *Watcher {
	return &Watcher{client: c, reconciler: reconciler, logger: logger}
}

// Run bootstraps, then watches until ctx is cancelled. It returns nil on a
// clean shutdown, matching the oklog/run actor convention.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.bootstrap(ctx); err != nil {
		return errors.Wrap(err, "bootstrap")
	}
	return w.watch(ctx)
}

// bootstrap reconciles every existing request that has not yet reached a
// terminal state, per spec.md §4.8 ("on startup, list all requests;
// reconcile any with status == nil or ready == false"). Errors are logged,
// not propagated, so one bad request does not block the rest of the list.
func (w *Watcher) bootstrap(ctx context.Context) error {
	var list accessv1.AccessRequestList
	if err := w.client.List(ctx, &list); err != nil {
		return errors.Wrap(err, "list access requests")
	}

	for i := range list.Items {
		request := &list.Items[i]
		if request.Status.Ready {
			continue
		}
		w.reconcileAndReport(ctx, request)
	}
	return nil
}

// watch opens a long-lived watch over AccessRequests and dispatches each
// event synchronously, in submission order.
func (w *Watcher) watch(ctx context.Context) error {
	var list accessv1.AccessRequestList
	watcher, err := w.client.Watch(ctx, &list)
	if err != nil {
		return errors.Wrap(err, "watch access requests")
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return errors.New("watch channel closed")
			}
			w.dispatch(ctx, event)
		}
	}
}

// dispatch handles a single watch event, per spec.md §4.8's event table:
// Applied (Added/Modified) with status == nil reconciles; Deleted is a
// no-op, since owner references already cascade the cleanup of every
// namespaced artifact and the reaper sweeps the rest; any other event type
// is logged and ignored.
//
// This gate is deliberately narrower than bootstrap's (status == nil OR
// ready == false): the reconciler's own NamesAssigned write bumps the
// object's resourceVersion mid-reconcile, queuing a Modified event for the
// very object currently being reconciled. Gating live events on Ready alone
// would pick that stale event back up once the in-flight call returns and
// re-run the whole reconcile — including C2 name generation — against an
// object that already carries a status. Once any status exists the request
// is done for this controller's lifetime; only the reaper and a fresh
// AccessRequest touch it again.
func (w *Watcher) dispatch(ctx context.Context, event apiwatch.Event) {
	request, ok := event.Object.(*accessv1.AccessRequest)
	if !ok {
		level.Warn(w.logger).Log("msg", "unexpected watch object type", "type", event.Type)
		return
	}

	switch event.Type {
	case apiwatch.Added, apiwatch.Modified:
		if request.Status != (accessv1.AccessRequestStatus{}) {
			return
		}
		w.reconcileAndReport(ctx, request)
	case apiwatch.Deleted:
		return
	default:
		level.Warn(w.logger).Log("msg", "unhandled watch event", "type", event.Type, "name", request.Name)
	}
}

// reconcileAndReport runs the reconciler and, on error, refreshes the
// request's status and marks it Failed, per spec.md §4.8's failure clause:
// "on reconciler error, refresh status, mark failed=true, message=<error>,
// write back, and continue" — the one status write the Watcher owns, as
// opposed to the NamesAssigned/Ready writes the Reconciler performs itself.
func (w *Watcher) reconcileAndReport(ctx context.Context, request *accessv1.AccessRequest) {
	err := w.reconciler.Reconcile(ctx, request)
	if err == nil {
		return
	}

	level.Error(w.logger).Log("msg", "reconcile failed", "name", request.Name, "err", err)

	var fresh accessv1.AccessRequest
	if getErr := w.client.Get(ctx, client.ObjectKeyFromObject(request), &fresh); getErr != nil {
		level.Error(w.logger).Log("msg", "refresh request before marking failed", "name", request.Name, "err", getErr)
		return
	}

	status := NewStatusStore(w.client, &fresh)
	if updateErr := status.Ready(false).Failed(true).Message(err.Error()).Update(ctx); updateErr != nil {
		level.Error(w.logger).Log("msg", "write failed status", "name", request.Name, "err", updateErr)
	}
}
