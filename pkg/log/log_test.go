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

package log

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	expected := []string{
		"line 1\n",
		"\n*** Dropped 2 log messages ***\n",
		"line 2\n",
	}
	if len(tw.lines) != len(expected) {
		t.Fatalf("Writer should have logged %d lines, got: %v, expected: %v", len(expected), tw.lines, expected)
	}
	for i, l := range tw.lines {
		if l != expected[i] {
			t.Fatalf("line %d doesn't match, got: %v, expected: %v", i, l, expected[i])
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Info, &Writer{Next: &buf})
	l.Debugf("hidden %d", 1)
	l.Infof("shown %d\n", 2)
	l.Warningf("shown %d\n", 3)
	if got, want := buf.String(), "shown 2\nshown 3\n"; got != want {
		t.Errorf("output got %q want %q", got, want)
	}

	l.SetLevel(Debug)
	if !l.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug) got false after SetLevel(Debug)")
	}
}

func TestGoogleEmitterHeader(t *testing.T) {
	var buf bytes.Buffer
	e := GoogleEmitter{&Writer{Next: &buf}}
	ts := time.Date(2026, time.March, 4, 5, 6, 7, 8000, time.UTC)
	e.Emit(0, Warning, ts, "fault at %#x", 0x800000)
	got := buf.String()
	if !strings.HasPrefix(got, "W0304 05:06:07.000008 ") {
		t.Errorf("header got %q", got)
	}
	if !strings.HasSuffix(got, "] fault at 0x800000\n") {
		t.Errorf("message got %q", got)
	}
}

func TestRateLimitedLogger(t *testing.T) {
	var buf bytes.Buffer
	l := RateLimitedLogger(New(Debug, &Writer{Next: &buf}), time.Hour)
	for i := 0; i < 10; i++ {
		l.Debugf("message %d\n", i)
	}
	if got, want := buf.String(), "message 0\n"; got != want {
		t.Errorf("rate limited output got %q want %q", got, want)
	}
}
