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
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestLevelJSON(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Level
	}{
		{`"warning"`, Warning},
		{`"info"`, Info},
		{`"debug"`, Debug},
		{`0`, Warning},
		{`1`, Info},
		{`2`, Debug},
	} {
		var lv Level
		if err := json.Unmarshal([]byte(tc.in), &lv); err != nil {
			t.Errorf("Unmarshal(%s) failed: %v", tc.in, err)
			continue
		}
		if lv != tc.want {
			t.Errorf("Unmarshal(%s) got %v want %v", tc.in, lv, tc.want)
		}
	}

	for _, bad := range []string{`"fatal"`, `3`, `-1`, `true`} {
		var lv Level
		if err := json.Unmarshal([]byte(bad), &lv); err == nil {
			t.Errorf("Unmarshal(%s) succeeded with %v", bad, lv)
		}
	}

	if b, err := json.Marshal(Debug); err != nil || string(b) != `"debug"` {
		t.Errorf("Marshal(Debug) got %s, %v want \"debug\"", b, err)
	}
	if _, err := json.Marshal(Level(7)); err == nil {
		t.Errorf("Marshal(Level(7)) succeeded")
	}
}

func TestSplitEnvTag(t *testing.T) {
	for _, tc := range []struct {
		msg, env, rest string
	}{
		{"[00001000] exiting gracefully", "00001000", "exiting gracefully"},
		{"[00001000]exiting", "", "[00001000]exiting"},
		{"[0000100g] x", "", "[0000100g] x"},
		{"[1000] x", "", "[1000] x"},
		{"no tag", "", "no tag"},
	} {
		env, rest := splitEnvTag(tc.msg)
		if env != tc.env || rest != tc.rest {
			t.Errorf("splitEnvTag(%q) got (%q, %q) want (%q, %q)", tc.msg, env, rest, tc.env, tc.rest)
		}
	}
}

func TestJSONEmitter(t *testing.T) {
	var buf bytes.Buffer
	e := JSONEmitter{&Writer{Next: &buf}}
	e.Emit(0, Info, time.Unix(0, 0).UTC(), "[%08x] exited\n", 0x1001)
	e.Emit(0, Warning, time.Unix(1, 0).UTC(), "out of frames")

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines want 2: %q", len(lines), buf.String())
	}
	var got jsonLog
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("json.Unmarshal(%q) failed: %v", lines[0], err)
	}
	if got.Level != Info || got.Env != "00001001" || got.Msg != "exited" {
		t.Errorf("first line got %+v want info message \"exited\" for env 00001001", got)
	}
	if !strings.HasPrefix(got.Caller, "json_test.go:") {
		t.Errorf("caller got %q want json_test.go:<line>", got.Caller)
	}

	got = jsonLog{}
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatalf("json.Unmarshal(%q) failed: %v", lines[1], err)
	}
	if got.Level != Warning || got.Env != "" || got.Msg != "out of frames" {
		t.Errorf("second line got %+v want untagged warning", got)
	}
}
