// Copyright 2026 The ufork Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metric provides primitives for collecting metrics.
package metric

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	// ErrNameInUse indicates that another metric is already defined for
	// the given name.
	ErrNameInUse = errors.New("metric name already in use")

	// ErrInvalidName indicates that a metric name is not of the form
	// "/component/name".
	ErrInvalidName = errors.New("metric name must start with '/' and contain only [a-z0-9_/]")
)

// Uint64Metric encapsulates a uint64 counter that can be exported.
//
// Metrics must be statically defined (i.e., at init).
type Uint64Metric struct {
	name        string
	description string
	value       atomic.Uint64
}

// Name returns the metric name.
func (m *Uint64Metric) Name() string {
	return m.name
}

// Value returns the current value of the metric.
func (m *Uint64Metric) Value() uint64 {
	return m.value.Load()
}

// Increment increments the metric by 1.
func (m *Uint64Metric) Increment() {
	m.value.Add(1)
}

// IncrementBy increments the metric by v.
func (m *Uint64Metric) IncrementBy(v uint64) {
	m.value.Add(v)
}

// registry holds all defined metrics.
var registry = struct {
	mu      sync.Mutex
	metrics map[string]*Uint64Metric
}{
	metrics: make(map[string]*Uint64Metric),
}

func validName(name string) bool {
	if !strings.HasPrefix(name, "/") || len(name) < 2 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '/':
		default:
			return false
		}
	}
	return true
}

// NewUint64Metric creates and registers a new cumulative metric with the
// given name.
func NewUint64Metric(name, description string) (*Uint64Metric, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.metrics[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrNameInUse, name)
	}
	m := &Uint64Metric{name: name, description: description}
	registry.metrics[name] = m
	return m, nil
}

// MustCreateNewUint64Metric calls NewUint64Metric and panics if it returns
// an error.
func MustCreateNewUint64Metric(name, description string) *Uint64Metric {
	m, err := NewUint64Metric(name, description)
	if err != nil {
		panic(fmt.Sprintf("Unable to create metric %q: %s", name, err))
	}
	return m
}

// Snapshot returns the current values of all metrics keyed by name.
func Snapshot() map[string]uint64 {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	s := make(map[string]uint64, len(registry.metrics))
	for name, m := range registry.metrics {
		s[name] = m.Value()
	}
	return s
}

// sortedMetrics returns all metrics ordered by name.
func sortedMetrics() []*Uint64Metric {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	ms := make([]*Uint64Metric, 0, len(registry.metrics))
	for _, m := range registry.metrics {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].name < ms[j].name })
	return ms
}
