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
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"ufork.dev/ufork/pkg/machine"
	"ufork.dev/ufork/ufork/cmd/util"
)

// PageTables implements subcommands.Command for the "pagetables" command.
type PageTables struct {
	steps int
}

// Name implements subcommands.Command.Name.
func (*PageTables) Name() string {
	return "pagetables"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*PageTables) Synopsis() string {
	return "run an image for a while and dump the page tables of its environments"
}

// Usage implements subcommands.Command.Usage.
func (*PageTables) Usage() string {
	return `pagetables [flags] <image> - run the image for a number of instructions, then print every user mapping of every live environment.

<image> is a built-in image name or a path ending in ".toml".
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *PageTables) SetFlags(f *flag.FlagSet) {
	f.IntVar(&p.steps, "steps", 200, "number of instructions to run before dumping, zero to dump right after loading.")
}

// Execute implements subcommands.Command.Execute.
func (p *PageTables) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if p.steps < 0 {
		return util.Errorf("-steps must not be negative, got %d", p.steps)
	}
	img, err := loadImage(f.Arg(0))
	if err != nil {
		return util.Errorf("%v", err)
	}

	conf := machineConfig(args)
	conf.StepLimit = p.steps
	m, err := machine.New(conf, io.Discard)
	if err != nil {
		return util.Errorf("%v", err)
	}
	defer m.Close()
	if _, err := m.Spawn(img); err != nil {
		return util.Errorf("%v", err)
	}
	if p.steps > 0 {
		if err := m.Run(ctx); err != nil && !isStepLimit(err) {
			return util.Errorf("running machine: %v", err)
		}
	}

	if err := dumpPageTables(os.Stdout, m); err != nil {
		return util.Errorf("%v", err)
	}
	return subcommands.ExitSuccess
}

// dumpPageTables prints the user mappings of every live environment of m.
func dumpPageTables(w io.Writer, m *machine.Machine) error {
	k := m.Kernel()
	envs := k.Envs()
	if len(envs) == 0 {
		fmt.Fprintln(w, "no live environments")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, e := range envs {
		ms, err := k.Mappings(e.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "env %v (parent %v, %v, %d pages)\n", e.ID, e.ParentID, e.Status, len(ms))
		fmt.Fprintf(tw, "\tVA\tFRAME\tFLAGS\tREFS\n")
		for _, mp := range ms {
			fmt.Fprintf(tw, "\t%08x\t%08x\t%s\t%d\n", uint32(mp.VA), uint32(mp.PTE.Addr()), mp.PTE.FlagString(), mp.Refs)
		}
	}
	return tw.Flush()
}
