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
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// jsonLog is one line of JSONEmitter output.
type jsonLog struct {
	Time   time.Time `json:"time"`
	Level  Level     `json:"level"`
	Caller string    `json:"caller,omitempty"`

	// Env is the environment a message is about. Messages name it with a
	// leading "[xxxxxxxx] " tag, which is moved here.
	Env string `json:"env,omitempty"`

	Msg string `json:"msg"`
}

var levelNames = [...]string{
	Warning: "warning",
	Info:    "info",
	Debug:   "debug",
}

// MarshalJSON implements json.Marshaler.MarshalJSON.
func (l Level) MarshalJSON() ([]byte, error) {
	if int(l) >= len(levelNames) {
		return nil, fmt.Errorf("unknown level %d", uint32(l))
	}
	return json.Marshal(levelNames[l])
}

// UnmarshalJSON implements json.Unmarshaler.UnmarshalJSON. Levels are
// accepted by name or by number.
func (l *Level) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		for lv, n := range levelNames {
			if n == name {
				*l = Level(lv)
				return nil
			}
		}
		return fmt.Errorf("unknown level %q", name)
	}
	var n uint32
	if err := json.Unmarshal(b, &n); err != nil || int(n) >= len(levelNames) {
		return fmt.Errorf("unknown level %s", b)
	}
	*l = Level(n)
	return nil
}

// splitEnvTag splits a leading "[xxxxxxxx] " environment tag off msg.
func splitEnvTag(msg string) (env, rest string) {
	const tagLen = len("[00001000] ")
	if len(msg) < tagLen || msg[0] != '[' || msg[tagLen-2:tagLen] != "] " {
		return "", msg
	}
	id := msg[1 : tagLen-2]
	for _, c := range id {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return "", msg
		}
	}
	return id, msg[tagLen:]
}

// JSONEmitter logs messages as JSON objects, one per line.
type JSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	j := jsonLog{
		Time:  timestamp,
		Level: level,
	}
	j.Env, j.Msg = splitEnvTag(strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"))
	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		if slash := strings.LastIndexByte(file, '/'); slash >= 0 {
			file = file[slash+1:]
		}
		j.Caller = fmt.Sprintf("%s:%d", file, line)
	}
	b, err := json.Marshal(j)
	if err != nil {
		panic(err)
	}
	e.Writer.Write(append(b, '\n'))
}
