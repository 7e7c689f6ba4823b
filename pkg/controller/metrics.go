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

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters and histograms the reconciler and reaper
// report through, registered once in main alongside the Go/process
// collectors (SPEC_FULL.md §4.0).
type Metrics struct {
	ReconcileTotal         *prometheus.CounterVec
	ReaperDeletedTotal     *prometheus.CounterVec
	ConfigAssembleDuration prometheus.Histogram
}

// NewMetrics constructs and registers the controller's metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReconcileTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accesscontroller_reconcile_total",
			Help: "Number of AccessRequest reconciles, partitioned by outcome.",
		}, []string{"outcome"}),
		ReaperDeletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accesscontroller_reaper_deleted_total",
			Help: "Number of objects deleted by the expiry reaper, partitioned by kind.",
		}, []string{"kind"}),
		ConfigAssembleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "accesscontroller_config_assemble_duration_seconds",
			Help:    "Time spent assembling a kubeconfig, including the token-secret retry wait.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(m.ReconcileTotal, m.ReaperDeletedTotal, m.ConfigAssembleDuration)
	return m
}
