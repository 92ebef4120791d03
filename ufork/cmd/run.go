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

package cmd

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"ufork.dev/ufork/pkg/image"
	"ufork.dev/ufork/ufork/cmd/util"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	exits bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot a machine and run one or more program images on it"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <image.toml>... - boot a machine, load each image into its own environment and run until all environments end.

The console output of the environments is written to stdout.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.exits, "exits", false, "print how each environment ended.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	var imgs []*image.Image
	for _, path := range f.Args() {
		img, err := image.Load(path)
		if err != nil {
			return util.Errorf("%v", err)
		}
		imgs = append(imgs, img)
	}

	m, err := runImages(ctx, machineConfig(args), os.Stdout, imgs...)
	if m != nil {
		defer m.Close()
	}
	if err != nil {
		return util.Errorf("running machine: %v", err)
	}
	if r.exits {
		writeExits(os.Stdout, m)
	}
	if n := aborted(m); n > 0 {
		return util.Errorf("%d environment(s) aborted", n)
	}
	return subcommands.ExitSuccess
}
