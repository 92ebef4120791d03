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

// Package cli is the main entrypoint for ufork.
package cli

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"
	"ufork.dev/ufork/pkg/log"
	"ufork.dev/ufork/pkg/metric"
	"ufork.dev/ufork/ufork/cmd"
	"ufork.dev/ufork/ufork/cmd/util"
	"ufork.dev/ufork/ufork/config"
)

// metricsPrefix is prepended to every exported metric name.
const metricsPrefix = "ufork"

// Main is the main entrypoint.
func Main() {
	// Register all commands.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Create a new Config from the flags.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		util.Fatalf("%v", err)
	}

	// Set up logging. Without a log file, logs go to stderr only when
	// debugging; errors reach the user through util.ErrorLogger regardless.
	logFile := io.Discard
	switch {
	case len(conf.LogFilename) > 0:
		f, err := log.OpenFile(conf.LogFilename)
		if err != nil {
			util.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
		}
		logFile = f
	case conf.Debug:
		logFile = os.Stderr
	}
	log.SetTarget(newEmitter(conf.LogFormat, logFile))
	if conf.Debug {
		log.SetLevel(log.Debug)
	}
	log.Infof("***************************")
	log.Infof("Args: %s", os.Args)
	log.Infof("Frames: %d, quantum: %d, step limit: %d", conf.Frames, conf.Quantum, conf.StepLimit)
	log.Infof("***************************")

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(context.Background(), conf)

	if len(conf.Metrics) > 0 {
		if err := writeMetrics(conf.Metrics); err != nil {
			util.Errorf("writing metrics: %v", err)
		}
	}
	if subcmdCode != subcommands.ExitSuccess {
		log.Warningf("Failure to execute command, err: %v", subcmdCode)
	}
	os.Exit(int(subcmdCode))
}

// forEachCmd invokes the passed callback for each command supported by ufork.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	// Help and flags commands are generated automatically.
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")

	cb(new(cmd.Run), "")
	cb(new(cmd.Demo), "")

	const debugGroup = "debug"
	cb(new(cmd.PageTables), debugGroup)
	cb(new(cmd.Stress), debugGroup)
}

func newEmitter(format string, logFile io.Writer) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	util.Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}

// writeMetrics writes all metrics to path, or to stdout if path is "-".
func writeMetrics(path string) error {
	if path == "-" {
		return metric.WritePrometheus(os.Stdout, metricsPrefix)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := metric.WritePrometheus(f, metricsPrefix); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
