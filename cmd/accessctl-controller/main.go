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

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	ctrlclient "sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/GoogleCloudPlatform/accessctl/internal/appconfig"
	accessv1 "github.com/GoogleCloudPlatform/accessctl/pkg/apis/access/v1"
	"github.com/GoogleCloudPlatform/accessctl/pkg/controller"
)

func main() {
	a := kingpin.New("accessctl-controller", "Mints ephemeral, role-scoped Kubernetes access credentials.")
	a.HelpFlag.Short('h')

	logLevel := a.Flag("log-level", "Log level: debug, info, warn or error.").
		Envar("LOG_LEVEL").Default("info").Enum("debug", "info", "warn", "error")
	kubeconfigPath := a.Flag("kubeconfig", "Path to a kubeconfig; empty uses in-cluster config.").
		Envar("KUBECONFIG").Default(defaultKubeconfigPath()).String()
	clusterURL := a.Flag("cluster-url", "API server URL embedded in issued kubeconfigs; empty infers it from in-cluster config.").
		Envar("CLUSTER_URL").Default("").String()
	clusterName := a.Flag("cluster-name", "Cluster name hint used only to disambiguate multiple discovery candidates.").
		Envar("CLUSTER_NAME").Default("").String()
	namespace := a.Flag("namespace", "Namespace Identity and Token objects are created in.").
		Envar("NAMESPACE").Default(appconfig.DefaultNamespace).String()
	expireMinutes := a.Flag("expire-minutes", "Time-to-live, in minutes, stamped into every issued artifact.").
		Envar("EXPIRE_MINUTES").Default("60").String()
	metricsAddr := a.Flag("metrics-addr", "Address to emit Prometheus metrics on.").
		Envar("METRICS_ADDR").Default(":8080").String()

	if _, err := a.Parse(os.Args[1:]); err != nil {
		kingpin.Fatalf("parsing commandline arguments: %s", err)
	}

	logger, err := setupLogger(*logLevel)
	if err != nil {
		kingpin.Fatalf("%s", err)
	}

	ctx := context.Background()

	cfg, err := appconfig.Resolve(ctx, appconfig.Options{
		ClusterURL:    *clusterURL,
		ClusterName:   *clusterName,
		Namespace:     *namespace,
		ExpireMinutes: *expireMinutes,
	}, appconfig.InClusterResolver{})
	if err != nil {
		level.Error(logger).Log("msg", "resolving configuration failed", "err", err)
		os.Exit(1)
	}

	restConfig, err := clientcmd.BuildConfigFromFlags("", *kubeconfigPath)
	if err != nil {
		level.Error(logger).Log("msg", "building kubeconfig failed", "err", err)
		os.Exit(1)
	}

	kubeClient, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		level.Error(logger).Log("msg", "building Kubernetes clientset failed", "err", err)
		os.Exit(1)
	}

	scheme, err := accessv1.NewScheme()
	if err != nil {
		level.Error(logger).Log("msg", "building scheme failed", "err", err)
		os.Exit(1)
	}
	crdClient, err := ctrlclient.NewWithWatch(restConfig, ctrlclient.Options{Scheme: scheme})
	if err != nil {
		level.Error(logger).Log("msg", "building AccessRequest client failed", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	ctl := controller.New(cfg, kubeClient, crdClient, reg, logger)

	var g run.Group
	{
		term := make(chan os.Signal, 1)
		cancel := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)

		g.Add(func() error {
			select {
			case <-term:
				level.Info(logger).Log("msg", "received SIGTERM, exiting gracefully...")
			case <-cancel:
			}
			return nil
		}, func(err error) {
			close(cancel)
		})
	}
	{
		server := &http.Server{Addr: *metricsAddr}
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

		g.Add(func() error {
			return server.ListenAndServe()
		}, func(err error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			_ = server.Shutdown(ctx)
		})
	}
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			return ctl.Watcher.Run(ctx)
		}, func(err error) {
			cancel()
		})
	}
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			return ctl.Reaper.Run(ctx)
		}, func(err error) {
			cancel()
		})
	}

	if err := g.Run(); err != nil {
		level.Error(logger).Log("msg", "exit with error", "err", err)
		os.Exit(1)
	}
}

func defaultKubeconfigPath() string {
	if home := homedir.HomeDir(); home != "" {
		return home + "/.kube/config"
	}
	return ""
}

func setupLogger(lvl string) (log.Logger, error) {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))

	switch lvl {
	case "debug":
		logger = level.NewFilter(logger, level.AllowDebug())
	case "info":
		logger = level.NewFilter(logger, level.AllowInfo())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		return nil, errors.Errorf("log level %q unknown", lvl)
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "caller", log.DefaultCaller)

	return logger, nil
}
