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

// Package lambdaexec evaluates array higher-order functions over Arrow
// list columns. The transform function applies a lambda to every element
// of a list column, evaluating dictionary encoded inputs once per distinct
// list when the captures allow it.
package lambdaexec

import (
	"context"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/zeroshade/lambdaexec/functions"
	"github.com/zeroshade/lambdaexec/kernels"
	"github.com/zeroshade/lambdaexec/lambda"
)

var (
	defaultExecCtx     *functions.ExecCtx
	initDefaultExecCtx sync.Once
)

func DefaultExecCtx() *functions.ExecCtx {
	initDefaultExecCtx.Do(func() {
		registry := &functions.FunctionRegistry{}
		if err := kernels.RegisterTransform(registry); err != nil {
			panic(err)
		}
		defaultExecCtx = &functions.ExecCtx{
			Mem:      memory.DefaultAllocator,
			Registry: registry,
			Logger:   log.NewNopLogger(),
		}
	})
	return defaultExecCtx
}

func CallFunction(ctx context.Context, funcname string, args []compute.Datum, opts functions.FunctionOptions) (compute.Datum, error) {
	ectx := functions.GetExecCtx(ctx)
	if ectx == nil {
		return CallFunction(functions.SetExecCtx(ctx, DefaultExecCtx()), funcname, args, opts)
	}

	registry := ectx.Registry
	if registry == nil {
		registry = DefaultExecCtx().Registry
	}
	fn, err := registry.GetFunction(funcname)
	if err != nil {
		return nil, err
	}
	return functions.ExecuteFunction(ctx, fn, args, opts)
}

// Transform applies fn to every element of input, a list or dictionary
// encoded list column. captures supplies the columns fn captures and may be
// nil when it captures nothing. A nil opts uses the default options.
func Transform(ctx context.Context, input arrow.Array, captures arrow.Record, fn *lambda.Descriptor, opts *kernels.TransformOptions) (arrow.Array, error) {
	return TransformRows(ctx, input, captures, lambda.Uniform(fn), opts)
}

// TransformRows is Transform with a lambda chosen per row.
func TransformRows(ctx context.Context, input arrow.Array, captures arrow.Record, rows lambda.RowMap, opts *kernels.TransformOptions) (arrow.Array, error) {
	if opts == nil {
		opts = kernels.DefaultTransformOptions()
	}

	if captures == nil {
		captures = array.NewRecord(arrow.NewSchema(nil, nil), nil, int64(input.Len()))
		defer captures.Release()
	}

	args := []compute.Datum{compute.NewDatum(input), compute.NewDatum(captures)}
	defer func() {
		for _, a := range args {
			a.Release()
		}
	}()

	out, err := CallFunction(ctx, "transform", args, opts.WithLambdas(rows))
	if err != nil {
		return nil, err
	}
	defer out.Release()
	return out.(*compute.ArrayDatum).MakeArray(), nil
}
