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
	"math/rand"

	"github.com/pkg/errors"
)

const nameSuffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const nameSuffixLength = 6

// Prober checks whether an object of a given kind already exists under a
// candidate name, using the same API the eventual create call will use.
type Prober interface {
	Exists(ctx context.Context, name string) (bool, error)
}

// GenerateName produces "<prefix>-<6-char lowercase alnum>", probing prober
// on every candidate and regenerating on collision (C2). The 36^6 name
// space makes repeated collisions practically impossible; there is no
// bounded retry count, matching spec.md §4.2.
func GenerateName(ctx context.Context, prefix string, prober Prober) (string, error) {
	for {
		name := prefix + "-" + randomSuffix()

		exists, err := prober.Exists(ctx, name)
		if err != nil {
			return "", errors.Wrapf(err, "probe name %q", name)
		}
		if !exists {
			return name, nil
		}
	}
}

func randomSuffix() string {
	b := make([]byte, nameSuffixLength)
	for i := range b {
		b[i] = nameSuffixAlphabet[rand.Intn(len(nameSuffixAlphabet))]
	}
	return string(b)
}
