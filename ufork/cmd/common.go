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

// Package cmd holds implementations of the ufork commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"ufork.dev/ufork/pkg/image"
	"ufork.dev/ufork/pkg/log"
	"ufork.dev/ufork/pkg/machine"
	"ufork.dev/ufork/ufork/config"
)

// loadImage returns the image named by arg: a TOML file if arg ends in
// ".toml", otherwise a built-in image.
func loadImage(arg string) (*image.Image, error) {
	if strings.HasSuffix(arg, ".toml") {
		return image.Load(arg)
	}
	return image.Builtin(arg)
}

// runImages boots a machine configured by conf, spawns imgs in order and
// runs it to completion. Console output is copied to console if it is not
// nil. The machine is returned even on error so that its state can be
// inspected; the caller must close it.
func runImages(ctx context.Context, conf machine.Config, console io.Writer, imgs ...*image.Image) (*machine.Machine, error) {
	m, err := machine.New(conf, console)
	if err != nil {
		return nil, err
	}
	for _, img := range imgs {
		if _, err := m.Spawn(img); err != nil {
			return m, err
		}
	}
	err = m.Run(ctx)
	log.Infof("Machine stopped after %d steps: %v", m.Steps(), err)
	return m, err
}

// writeExits prints the exit records of m.
func writeExits(w io.Writer, m *machine.Machine) {
	for _, e := range m.Exits() {
		fmt.Fprintln(w, e)
	}
}

// aborted returns the number of environments of m that were aborted.
func aborted(m *machine.Machine) int {
	n := 0
	for _, e := range m.Exits() {
		if e.Status == machine.Aborted {
			n++
		}
	}
	return n
}

// machineConfig extracts the machine configuration from the arguments
// passed to Execute.
func machineConfig(args []any) machine.Config {
	return args[0].(*config.Config).Machine()
}

// isStepLimit reports whether err only says the step limit was reached.
func isStepLimit(err error) bool {
	return errors.Is(err, machine.ErrStepLimit)
}
