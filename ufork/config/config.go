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

// Package config provides basic infrastructure to set configuration settings
// for ufork. Each setting that can be changed from the command line must have
// a corresponding flag with the same name, and may also be set from a TOML
// configuration file.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"ufork.dev/ufork/pkg/arch"
	"ufork.dev/ufork/pkg/machine"
	"ufork.dev/ufork/pkg/pgalloc"
)

// Config holds configuration that applies to every machine a command runs.
type Config struct {
	// ConfigFile is the path of a TOML file whose settings are applied
	// before flags given explicitly on the command line.
	ConfigFile string `flag:"config" toml:"-"`

	// Frames is the number of physical page frames of each machine.
	Frames int `flag:"frames" toml:"frames"`

	// Quantum is the number of instructions an environment runs before it
	// is preempted.
	Quantum int `flag:"quantum" toml:"quantum"`

	// StepLimit bounds the instructions a machine executes. Zero means no
	// limit.
	StepLimit int `flag:"step-limit" toml:"step_limit"`

	// LogFilename is the file where log messages are written. Empty means
	// stderr.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is the log format, "text" or "json".
	LogFormat string `flag:"log-format" toml:"log_format"`

	// Debug enables debug logging.
	Debug bool `flag:"debug" toml:"debug"`

	// FaultLogInterval rate limits copy-on-write fault logging.
	FaultLogInterval time.Duration `flag:"fault-log-interval" toml:"fault_log_interval"`

	// Metrics is the file where metrics are written in Prometheus text
	// format when a command finishes. "-" means stdout.
	Metrics string `flag:"metrics" toml:"metrics"`
}

func (c *Config) validate() error {
	if c.Frames < pgalloc.MinFrames || c.Frames > arch.NPages {
		return fmt.Errorf("frames must be in [%d, %d], got %d", pgalloc.MinFrames, arch.NPages, c.Frames)
	}
	if c.Quantum <= 0 {
		return fmt.Errorf("quantum must be positive, got %d", c.Quantum)
	}
	if c.StepLimit < 0 {
		return fmt.Errorf("step-limit must not be negative, got %d", c.StepLimit)
	}
	if c.FaultLogInterval < 0 {
		return fmt.Errorf("fault-log-interval must not be negative, got %v", c.FaultLogInterval)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	return nil
}

// applyFile overrides c with the settings present in the TOML file at path.
// Settings absent from the file are left unchanged.
func (c *Config) applyFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("reading config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %q: unknown keys %v", path, undecoded)
	}
	return nil
}

// Machine returns the machine configuration described by c.
func (c *Config) Machine() machine.Config {
	return machine.Config{
		Frames:           c.Frames,
		Quantum:          c.Quantum,
		StepLimit:        c.StepLimit,
		FaultLogInterval: c.FaultLogInterval,
	}
}
