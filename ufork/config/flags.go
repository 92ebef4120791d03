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

package config

import (
	"flag"
	"fmt"
	"reflect"

	"ufork.dev/ufork/pkg/machine"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	def := machine.DefaultConfig()

	flagSet.String("config", "", "TOML file with settings to apply before command line flags.")

	// Logging flags.
	flagSet.String("log", "", "file path where log messages are written, default is stderr.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.Duration("fault-log-interval", def.FaultLogInterval, "minimum interval between copy-on-write fault log messages. Zero logs every fault.")
	flagSet.String("metrics", "", "file path where metrics are written in Prometheus text format on exit, \"-\" for stdout.")

	// Flags that control machine behavior.
	flagSet.Int("frames", def.Frames, "number of physical page frames of each machine.")
	flagSet.Int("quantum", def.Quantum, "number of instructions an environment runs before it is preempted.")
	flagSet.Int("step-limit", def.StepLimit, "maximum number of instructions a machine executes, zero for no limit.")
}

// NewFromFlags creates a new Config with values coming from the given
// flagSet. If a config file is named, its settings are applied first and
// flags set explicitly on the command line take precedence over them.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	fields := make(map[string]int)
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		obj.Field(i).Set(reflect.ValueOf(fl.Value.(flag.Getter).Get()))
		fields[name] = i
	}

	if len(conf.ConfigFile) > 0 {
		if err := conf.applyFile(conf.ConfigFile); err != nil {
			return nil, err
		}
		flagSet.Visit(func(fl *flag.Flag) {
			if i, ok := fields[fl.Name]; ok {
				obj.Field(i).Set(reflect.ValueOf(fl.Value.(flag.Getter).Get()))
			}
		})
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}
