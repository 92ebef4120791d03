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
	"bytes"
	"context"
	"flag"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/subcommands"
	"github.com/mohae/deepcopy"
	"golang.org/x/sync/errgroup"
	"ufork.dev/ufork/pkg/image"
	"ufork.dev/ufork/pkg/log"
	"ufork.dev/ufork/pkg/machine"
	"ufork.dev/ufork/ufork/cmd/util"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	machines int
	parallel int
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "run an image on many machines concurrently and compare the results"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] <image> - run the image on many independent machines at once and check that every machine produces the same console output.

<image> is a built-in image name or a path ending in ".toml".
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.machines, "n", 16, "number of machines to run.")
	f.IntVar(&s.parallel, "j", runtime.GOMAXPROCS(0), "maximum number of machines running at once.")
}

// stressResult is the outcome of one machine.
type stressResult struct {
	console string
	exits   []machine.Exit
	steps   int
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if s.machines <= 0 || s.parallel <= 0 {
		return util.Errorf("-n and -j must be positive, got %d and %d", s.machines, s.parallel)
	}
	img, err := loadImage(f.Arg(0))
	if err != nil {
		return util.Errorf("%v", err)
	}

	results, err := stress(ctx, machineConfig(args), img, s.machines, s.parallel)
	if err != nil {
		return util.Errorf("%v", err)
	}
	if err := compareResults(results); err != nil {
		return util.Errorf("%v", err)
	}
	fmt.Printf("%d machines ran %q with identical results (%d steps, %d environments each)\n",
		len(results), img.Name, results[0].steps, len(results[0].exits))
	return subcommands.ExitSuccess
}

// stress runs img on n machines, at most parallel at a time. Every machine
// gets its own copy of the image.
func stress(ctx context.Context, conf machine.Config, img *image.Image, n, parallel int) ([]stressResult, error) {
	results := make([]stressResult, n)
	var mu sync.Mutex
	done := 0

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			mimg := deepcopy.Copy(img).(*image.Image)
			mimg.Name = fmt.Sprintf("%s#%d", img.Name, i)

			var console bytes.Buffer
			m, err := runImages(ctx, conf, &console, mimg)
			if m != nil {
				defer m.Close()
			}
			if err != nil {
				return fmt.Errorf("machine %d: %w", i, err)
			}
			if inUse := m.Kernel().MemoryFile().InUse(); inUse != 0 {
				return fmt.Errorf("machine %d: %d frames still in use after all environments ended", i, inUse)
			}
			results[i] = stressResult{
				console: console.String(),
				exits:   m.Exits(),
				steps:   m.Steps(),
			}

			mu.Lock()
			done++
			log.Debugf("Machine %d finished (%d/%d)", i, done, n)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// compareResults checks that every machine behaved like the first one.
func compareResults(results []stressResult) error {
	want := results[0]
	for i, got := range results[1:] {
		if got.console != want.console {
			return fmt.Errorf("machine %d console output differs from machine 0:\n%s\nwant:\n%s", i+1, got.console, want.console)
		}
		if got.steps != want.steps {
			return fmt.Errorf("machine %d ran %d steps, machine 0 ran %d", i+1, got.steps, want.steps)
		}
		if len(got.exits) != len(want.exits) {
			return fmt.Errorf("machine %d had %d exits, machine 0 had %d", i+1, len(got.exits), len(want.exits))
		}
		for j := range got.exits {
			if got.exits[j].String() != want.exits[j].String() {
				return fmt.Errorf("machine %d exit %d is %v, machine 0 has %v", i+1, j, got.exits[j], want.exits[j])
			}
		}
	}
	return nil
}
