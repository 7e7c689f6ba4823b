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
	"encoding/base64"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/yaml"
)

// ErrTokenNotPopulated is returned when the token secret's payload never
// appeared within the retry budget.
var ErrTokenNotPopulated = errors.New("token secret field not populated")

// ErrTokenNotUTF8 is returned when the token byte string does not decode as
// UTF-8.
var ErrTokenNotUTF8 = errors.New("token is not valid UTF-8")

// secretKeyCA and secretKeyToken are the fields the platform's token
// controller populates asynchronously on a service-account-token secret.
const (
	secretKeyCA    = "ca.crt"
	secretKeyToken = "token"
)

// tokenRetryBackoff implements spec.md §4.5: exponential backoff starting
// at 5ms, multiplier 1000 (5ms -> 5s -> capped at 60s), at most 30
// attempts per field.
func tokenRetryBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: 5 * time.Millisecond,
		Factor:   1000,
		Cap:      60 * time.Second,
		Steps:    30,
	}
}

// kubeconfigDocument mirrors the standard client-go kubeconfig shape: one
// cluster, one context and one user, matching original_source/kubeconfig.rs.
type kubeconfigDocument struct {
	APIVersion     string               `json:"apiVersion"`
	Kind           string               `json:"kind"`
	CurrentContext string               `json:"current-context"`
	Clusters       []kubeconfigCluster  `json:"clusters"`
	Contexts       []kubeconfigContext  `json:"contexts"`
	Users          []kubeconfigUser     `json:"users"`
	Preferences    kubeconfigPreference `json:"preferences"`
}

type kubeconfigCluster struct {
	Name    string                   `json:"name"`
	Cluster kubeconfigClusterDetails `json:"cluster"`
}

type kubeconfigClusterDetails struct {
	Server                   string `json:"server"`
	CertificateAuthorityData string `json:"certificate-authority-data"`
}

type kubeconfigContext struct {
	Name    string                   `json:"name"`
	Context kubeconfigContextDetails `json:"context"`
}

type kubeconfigContextDetails struct {
	Cluster string `json:"cluster"`
	User    string `json:"user"`
}

type kubeconfigUser struct {
	Name string                `json:"name"`
	User kubeconfigUserDetails `json:"user"`
}

type kubeconfigUserDetails struct {
	Token string `json:"token"`
}

type kubeconfigPreference struct{}

// ConfigAssembler resolves a provisioned Identity and its (possibly not yet
// populated) Token into a ready-to-use kubeconfig document (C5).
type ConfigAssembler struct {
	tokens     *TokenClient
	clusterURL string
	backoff    func() wait.Backoff
	metrics    *Metrics
}

// NewConfigAssembler returns a ConfigAssembler reading token secrets
// through tokens and embedding clusterURL as the server field.
func NewConfigAssembler(tokens *TokenClient, clusterURL string, metrics *Metrics) *ConfigAssembler {
	return &ConfigAssembler{tokens: tokens, clusterURL: clusterURL, backoff: tokenRetryBackoff, metrics: metrics}
}

// Assemble implements the algorithm in spec.md §4.5.
func (a *ConfigAssembler) Assemble(ctx context.Context, tokenName, identityName string) (string, error) {
	start := time.Now()
	if a.metrics != nil {
		defer func() {
			a.metrics.ConfigAssembleDuration.Observe(time.Since(start).Seconds())
		}()
	}

	ca, err := a.awaitSecretField(ctx, tokenName, secretKeyCA)
	if err != nil {
		return "", err
	}
	token, err := a.awaitSecretField(ctx, tokenName, secretKeyToken)
	if err != nil {
		return "", err
	}

	if !utf8.Valid(token) {
		return "", ErrTokenNotUTF8
	}

	doc := kubeconfigDocument{
		APIVersion:     "v1",
		Kind:           "Config",
		CurrentContext: "kubernetes",
		Clusters: []kubeconfigCluster{{
			Name: "kubernetes",
			Cluster: kubeconfigClusterDetails{
				Server:                   a.clusterURL,
				CertificateAuthorityData: base64.StdEncoding.EncodeToString(ca),
			},
		}},
		Contexts: []kubeconfigContext{{
			Name: "kubernetes",
			Context: kubeconfigContextDetails{
				Cluster: "kubernetes",
				User:    identityName,
			},
		}},
		Users: []kubeconfigUser{{
			Name: identityName,
			User: kubeconfigUserDetails{Token: string(token)},
		}},
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", errors.Wrap(err, "marshal kubeconfig")
	}
	return string(out), nil
}

// awaitSecretField retries reading a single field of the token secret,
// terminating on the first successful read, per spec.md §4.5 step 1.
func (a *ConfigAssembler) awaitSecretField(ctx context.Context, name, key string) ([]byte, error) {
	var field []byte

	poll := func() (bool, error) {
		secret, err := a.tokens.Get(ctx, name)
		if err != nil {
			if apierrors.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}

		v, ok := secret.Data[key]
		if !ok || len(v) == 0 {
			return false, nil
		}
		field = v
		return true, nil
	}

	b := a.backoff()
	attempts := b.Steps
	var err error
	for attempt := 1; ; attempt++ {
		var done bool
		if done, err = poll(); err != nil || done {
			break
		}
		if attempt >= attempts {
			err = wait.ErrWaitTimeout
			break
		}
		// Step keeps returning the capped delay once the cap is reached.
		time.Sleep(b.Step())
	}

	if wait.Interrupted(err) {
		return nil, errors.Wrapf(ErrTokenNotPopulated, "field %q of secret %q", key, name)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read field %q of secret %q", key, name)
	}
	return field, nil
}
