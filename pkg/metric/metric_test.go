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

package metric

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/common/expfmt"
)

func TestRegistration(t *testing.T) {
	m, err := NewUint64Metric("/test/registration", "a test counter")
	if err != nil {
		t.Fatalf("NewUint64Metric got err %v want nil", err)
	}
	if _, err := NewUint64Metric("/test/registration", "again"); !errors.Is(err, ErrNameInUse) {
		t.Errorf("duplicate NewUint64Metric got err %v want %v", err, ErrNameInUse)
	}
	if _, err := NewUint64Metric("no_slash", ""); !errors.Is(err, ErrInvalidName) {
		t.Errorf("NewUint64Metric(no_slash) got err %v want %v", err, ErrInvalidName)
	}

	m.Increment()
	m.IncrementBy(4)
	if got := m.Value(); got != 5 {
		t.Errorf("Value() got %d want 5", got)
	}
	if got := Snapshot()["/test/registration"]; got != 5 {
		t.Errorf("Snapshot() got %d want 5", got)
	}
}

func TestWritePrometheus(t *testing.T) {
	m := MustCreateNewUint64Metric("/test/exposition", "counter with\nnewline")
	m.IncrementBy(42)

	var buf bytes.Buffer
	if err := WritePrometheus(&buf, "ufork"); err != nil {
		t.Fatalf("WritePrometheus failed: %v", err)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("TextToMetricFamilies failed: %v\n%s", err, buf.String())
	}
	name := PrometheusName("ufork", "/test/exposition")
	mf, ok := families[name]
	if !ok {
		t.Fatalf("metric %q missing from exposition", name)
	}
	if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 42 {
		t.Errorf("counter %q got %v want 42", name, got)
	}
	if got, want := mf.GetHelp(), "counter with\nnewline"; got != want {
		t.Errorf("help got %q want %q", got, want)
	}
}
