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
	"strings"
	"testing"

	"github.com/pkg/errors"
)

type fakeProber struct {
	taken map[string]bool
	err   error
}

func (p *fakeProber) Exists(_ context.Context, name string) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	return p.taken[name], nil
}

func TestGenerateNameShape(t *testing.T) {
	prober := &fakeProber{taken: map[string]bool{}}

	name, err := GenerateName(context.Background(), "accessctl", prober)
	if err != nil {
		t.Fatalf("GenerateName() error = %v", err)
	}

	if !strings.HasPrefix(name, "accessctl-") {
		t.Errorf("GenerateName() = %q, want prefix %q", name, "accessctl-")
	}
	if got := len(strings.TrimPrefix(name, "accessctl-")); got != nameSuffixLength {
		t.Errorf("GenerateName() suffix length = %d, want %d", got, nameSuffixLength)
	}
}

func TestGenerateNameRetriesOnCollision(t *testing.T) {
	prober := &fakeProber{taken: map[string]bool{}}
	seen := 0

	collidingProber := proberFunc(func(ctx context.Context, name string) (bool, error) {
		seen++
		if seen <= 3 {
			return true, nil
		}
		return prober.Exists(ctx, name)
	})

	name, err := GenerateName(context.Background(), "accessctl", collidingProber)
	if err != nil {
		t.Fatalf("GenerateName() error = %v", err)
	}
	if seen < 4 {
		t.Errorf("GenerateName() only probed %d times, want at least 4", seen)
	}
	if !strings.HasPrefix(name, "accessctl-") {
		t.Errorf("GenerateName() = %q, want prefix %q", name, "accessctl-")
	}
}

func TestGenerateNamePropagatesProbeError(t *testing.T) {
	wantErr := errors.New("transport error")
	prober := &fakeProber{err: wantErr}

	if _, err := GenerateName(context.Background(), "accessctl", prober); !errors.Is(err, wantErr) {
		t.Errorf("GenerateName() error = %v, want wrapping %v", err, wantErr)
	}
}

type proberFunc func(ctx context.Context, name string) (bool, error)

func (f proberFunc) Exists(ctx context.Context, name string) (bool, error) { return f(ctx, name) }
