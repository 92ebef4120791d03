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
	"fmt"
	"os"

	"github.com/google/subcommands"
	"ufork.dev/ufork/pkg/image"
	"ufork.dev/ufork/ufork/cmd/util"
)

// Demo implements subcommands.Command for the "demo" command.
type Demo struct{}

// Name implements subcommands.Command.Name.
func (*Demo) Name() string {
	return "demo"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Demo) Synopsis() string {
	return "list or run the built-in program images"
}

// Usage implements subcommands.Command.Usage.
func (*Demo) Usage() string {
	return `demo [name] - without arguments, list the built-in images. Otherwise run the named image and print how each environment ended.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Demo) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Demo) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	switch f.NArg() {
	case 0:
		for _, name := range image.Builtins() {
			img, err := image.Builtin(name)
			if err != nil {
				return util.Errorf("%v", err)
			}
			fmt.Printf("%-12s %s\n", name, img.Description)
		}
		return subcommands.ExitSuccess
	case 1:
	default:
		f.Usage()
		return subcommands.ExitUsageError
	}

	img, err := image.Builtin(f.Arg(0))
	if err != nil {
		return util.Errorf("%v", err)
	}
	m, err := runImages(ctx, machineConfig(args), os.Stdout, img)
	if m != nil {
		defer m.Close()
	}
	if err != nil {
		return util.Errorf("running machine: %v", err)
	}
	// Some demos abort on purpose, so aborts are reported but are not
	// failures here.
	writeExits(os.Stdout, m)
	return subcommands.ExitSuccess
}
