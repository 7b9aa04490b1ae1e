// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command transform-bench builds synthetic list batches and runs the
// transform function over them, reporting timings and checking that
// dictionary peeling does not change results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/arrow/scalar"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/zeroshade/lambdaexec"
	"github.com/zeroshade/lambdaexec/functions"
	"github.com/zeroshade/lambdaexec/internal/arraytest"
	"github.com/zeroshade/lambdaexec/kernels"
	"github.com/zeroshade/lambdaexec/lambda"
	"gopkg.in/yaml.v3"
)

type config struct {
	Rows       int                      `yaml:"rows"`
	Iterations int                      `yaml:"iterations"`
	Scenarios  string                   `yaml:"scenarios"`
	LogLevel   string                   `yaml:"log_level"`
	Transform  kernels.TransformOptions `yaml:"transform"`
}

func (c *config) RegisterFlags(f *flag.FlagSet) {
	f.IntVar(&c.Rows, "rows", 1000, "Rows per batch.")
	f.IntVar(&c.Iterations, "iterations", 10, "Batches per scenario.")
	f.StringVar(&c.Scenarios, "scenarios", "add,even,conditional,peel-permutation,peel-duplicates", "Comma separated scenarios to run.")
	f.StringVar(&c.LogLevel, "log.level", "info", "Only log messages with the given severity or above: debug, info, warn, error.")
	c.Transform.RegisterFlags(f)
}

// batch is one synthetic input: the list column, its capture columns and
// the lambda selection.
type batch struct {
	input    arrow.Array
	captures arrow.Record
	rows     lambda.RowMap
}

func (b *batch) Release() {
	b.input.Release()
	if b.captures != nil {
		b.captures.Release()
	}
}

type lambdas struct {
	add5, sub3, isEven, plusC0 *lambda.Descriptor
}

func registerLambdas(reg *lambda.Registry) (*lambdas, error) {
	x := lambda.Param{Name: "x", Type: arrow.PrimitiveTypes.Int64}
	out := &lambdas{}

	var err error
	if out.add5, err = reg.Register("add5", lambda.Signature{Element: x, Result: arrow.PrimitiveTypes.Int64},
		lambda.Call("add", lambda.Elem(), lambda.Literal(scalar.NewInt64Scalar(5)))); err != nil {
		return nil, err
	}
	if out.sub3, err = reg.Register("sub3", lambda.Signature{Element: x, Result: arrow.PrimitiveTypes.Int64},
		lambda.Call("subtract", lambda.Elem(), lambda.Literal(scalar.NewInt64Scalar(3)))); err != nil {
		return nil, err
	}
	if out.isEven, err = reg.Register("even", lambda.Signature{Element: x, Result: arrow.FixedWidthTypes.Boolean},
		lambda.Unary(arrow.FixedWidthTypes.Boolean, func(v int64) bool { return v%2 == 0 })); err != nil {
		return nil, err
	}
	out.plusC0, err = reg.Register("plus_c0", lambda.Signature{
		Element:  x,
		Captures: []lambda.Param{{Name: "c0", Type: arrow.PrimitiveTypes.Int64}},
		Result:   arrow.PrimitiveTypes.Int64,
	}, lambda.Call("add", lambda.Elem(), lambda.Capture(0)))
	return out, err
}

func shape(mem memory.Allocator, n int) *array.List {
	return arraytest.MakeList(mem, arrow.PrimitiveTypes.Int64, n, arraytest.ModN(5),
		func(row, k int) int64 { return int64(row%7 + k) }, arraytest.NullEvery(11))
}

func captureRecord(mem memory.Allocator, n int) arrow.Record {
	col := arraytest.Column(mem, arrow.PrimitiveTypes.Int64, n, func(i int) any { return int64(i) })
	defer col.Release()
	schema := arrow.NewSchema([]arrow.Field{{Name: "c0", Type: arrow.PrimitiveTypes.Int64}}, nil)
	return array.NewRecord(schema, []arrow.Array{col}, int64(n))
}

func makeBatch(mem memory.Allocator, name string, n int, fns *lambdas) (*batch, error) {
	switch name {
	case "add":
		return &batch{input: shape(mem, n), rows: lambda.Uniform(fns.add5)}, nil
	case "even":
		return &batch{input: shape(mem, n), rows: lambda.Uniform(fns.isEven)}, nil
	case "conditional":
		cond := arraytest.Column(mem, arrow.FixedWidthTypes.Boolean, n, func(i int) any { return i%3 == 1 })
		defer cond.Release()
		rows, err := lambda.Select(cond.(*array.Boolean), fns.add5, fns.sub3)
		if err != nil {
			return nil, err
		}
		return &batch{input: shape(mem, n), rows: rows}, nil
	case "peel-permutation":
		base := shape(mem, n)
		defer base.Release()
		return &batch{
			input:    arraytest.Encode(mem, base, arraytest.Reversed(n)),
			captures: captureRecord(mem, n),
			rows:     lambda.Uniform(fns.plusC0),
		}, nil
	case "peel-duplicates":
		base := shape(mem, n/2)
		defer base.Release()
		return &batch{
			input:    arraytest.Encode(mem, base, arraytest.Repeated(n/2, 2)),
			captures: captureRecord(mem, n/2*2),
			rows:     lambda.Uniform(fns.plusC0),
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown scenario %q", functions.ErrInvalid, name)
}

// checkPeeling compares out against a transform with peeling disabled.
func checkPeeling(ctx context.Context, mem memory.Allocator, b *batch, opts kernels.TransformOptions, out arrow.Array) (bool, error) {
	if _, ok := b.input.(*array.Dictionary); !ok {
		return true, nil
	}

	opts.Peel = kernels.PeelNever
	want, err := lambdaexec.TransformRows(ctx, b.input, b.captures, b.rows, &opts)
	if err != nil {
		return false, err
	}
	defer want.Release()

	got := arraytest.Expand(mem, out)
	defer got.Release()
	return array.Equal(want, got), nil
}

func runScenario(ctx context.Context, logger log.Logger, mem *memory.CheckedAllocator, cfg *config, name string, fns *lambdas) error {
	var elapsed time.Duration
	for i := 0; i < cfg.Iterations; i++ {
		b, err := makeBatch(mem, name, cfg.Rows, fns)
		if err != nil {
			return err
		}

		start := time.Now()
		out, err := lambdaexec.TransformRows(ctx, b.input, b.captures, b.rows, &cfg.Transform)
		elapsed += time.Since(start)
		if err != nil {
			b.Release()
			return err
		}

		if i == 0 {
			ok, err := checkPeeling(ctx, mem, b, cfg.Transform, out)
			if err != nil {
				out.Release()
				b.Release()
				return err
			}
			if !ok {
				level.Error(logger).Log("msg", "peeled result differs from unpeeled evaluation", "scenario", name)
			}
			level.Debug(logger).Log("msg", "first batch", "scenario", name, "input", b.input.DataType(), "output", out.DataType())
		}
		out.Release()
		b.Release()
	}

	level.Info(logger).Log("msg", "scenario done", "scenario", name, "rows", cfg.Rows,
		"iterations", cfg.Iterations, "elapsed", elapsed, "per_batch", elapsed/time.Duration(max(cfg.Iterations, 1)))
	if n := mem.CurrentAlloc(); n != 0 {
		level.Warn(logger).Log("msg", "memory still allocated after scenario", "scenario", name, "bytes", n)
	}
	return nil
}

func levelFilter(name string) (level.Option, error) {
	switch name {
	case "debug":
		return level.AllowDebug(), nil
	case "info":
		return level.AllowInfo(), nil
	case "warn":
		return level.AllowWarn(), nil
	case "error":
		return level.AllowError(), nil
	}
	return nil, fmt.Errorf("%w: unknown log level %q", functions.ErrInvalid, name)
}

func loadConfig(args []string) (*config, error) {
	cfg := &config{}
	fs := flag.NewFlagSet("transform-bench", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	configFile := fs.String("config.file", "", "YAML file to load the configuration from; flags override it.")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configFile == "" {
		return cfg, nil
	}

	buf, err := os.ReadFile(*configFile)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", *configFile, err)
	}
	// flags given on the command line win over the file
	return cfg, fs.Parse(args)
}

func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(2)
	}

	filter, err := levelFilter(cfg.LogLevel)
	if err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(2)
	}
	logger = level.NewFilter(logger, filter)

	var reg lambda.Registry
	fns, err := registerLambdas(&reg)
	if err != nil {
		level.Error(logger).Log("msg", "registering lambdas", "err", err)
		os.Exit(1)
	}

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	ctx := functions.SetExecCtx(context.Background(), &functions.ExecCtx{
		Mem:      mem,
		Registry: lambdaexec.DefaultExecCtx().Registry,
		Logger:   logger,
	})

	level.Info(logger).Log("msg", "starting", "policy", cfg.Transform.Policy, "peel", cfg.Transform.Peel,
		"preserve_dictionary", cfg.Transform.PreserveDictionary, "lambdas", strings.Join(reg.Names(), ","))

	for _, name := range strings.Split(cfg.Scenarios, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if err := runScenario(ctx, logger, mem, cfg, name, fns); err != nil {
			level.Error(logger).Log("msg", "scenario failed", "scenario", name, "err", err)
			os.Exit(1)
		}
	}
}
