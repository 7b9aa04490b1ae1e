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

package kernels

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/zeroshade/lambdaexec/lambda"
	"github.com/zeroshade/lambdaexec/functions"
)

var transformDoc = functions.FunctionDoc{
	Summary: "Apply a lambda to every element of a list",
	Desc: "The lambda, or one lambda per row, is supplied in TransformOptions.\n" +
		"Capture parameters are read by name from the record or struct argument.\n" +
		"Null rows stay null and are never evaluated.",
	ArgNames:        []string{"array", "captures"},
	OptionsType:     "TransformOptions",
	OptionsRequired: true,
}

// ExecTransform applies the lambdas of opts to the elements of input, a
// list or a dictionary encoded list. captures holds the capture columns,
// one row per row of input; it may be nil when no lambda declares captures.
// The result has the rows and nulls of input, and is dictionary encoded
// when input was peeled and opts.PreserveDictionary is set.
func ExecTransform(ctx context.Context, input arrow.Array, captures arrow.Record, opts *TransformOptions) (arrow.Array, error) {
	if opts == nil || opts.Lambdas.Empty() {
		return nil, fmt.Errorf("%w: transform requires a lambda", functions.ErrInvalid)
	}

	elemType, ok := functions.ListElemType(input.DataType())
	if !ok {
		return nil, fmt.Errorf("%w: transform expects a list argument, got %s", functions.ErrSchemaMismatch, input.DataType())
	}

	lambdas := opts.Lambdas.Lambdas()
	result := lambdas[0].Signature().Result
	for _, d := range lambdas {
		if !arrow.TypeEqual(d.Signature().Result, result) {
			return nil, fmt.Errorf("%w: lambda '%s' returns %s, lambda '%s' returns %s",
				functions.ErrSchemaMismatch, lambdas[0].Name(), result, d.Name(), d.Signature().Result)
		}
		if err := checkElementType(d, elemType); err != nil {
			return nil, err
		}
	}
	if !opts.Lambdas.IsUniform() && opts.Lambdas.Len() != input.Len() {
		return nil, fmt.Errorf("%w: lambda selection covers %d rows, array argument has %d",
			functions.ErrSchemaMismatch, opts.Lambdas.Len(), input.Len())
	}
	for i := 0; i < opts.Lambdas.Len(); i++ {
		if opts.Lambdas.At(i) == lambda.Undefined {
			return nil, fmt.Errorf("%w: no lambda selected for row %d", functions.ErrSchemaMismatch, i)
		}
	}

	ctx = computeCtx(ctx)
	caps, err := resolveCaptures(ctx, captures, lambdas, input)
	if err != nil {
		return nil, err
	}
	defer caps.Release()

	plan, err := planTransform(ctx, input, caps, opts)
	if err != nil {
		return nil, err
	}
	defer plan.Release()

	res, err := dispatch(ctx, plan, lambdas, opts)
	if err != nil {
		return nil, err
	}
	defer res.Release()

	return assemble(ctx, plan, res, opts)
}

func initTransform(_ *functions.KernelCtx, args functions.KernelInitArgs) (functions.KernelState, error) {
	opts, ok := args.Options.(*TransformOptions)
	if !ok {
		return nil, fmt.Errorf("%w: transform requires TransformOptions, got %T", functions.ErrInvalid, args.Options)
	}
	if opts.Lambdas.Empty() {
		return nil, fmt.Errorf("%w: transform requires a lambda", functions.ErrInvalid)
	}
	return opts, nil
}

func resolveTransformType(kctx *functions.KernelCtx, _ []arrow.DataType) (arrow.DataType, error) {
	opts := kctx.State.(*TransformOptions)
	return arrow.ListOf(opts.Lambdas.Lambdas()[0].Signature().Result), nil
}

// captureRecord returns the capture columns of d, a record or a struct
// array without null rows.
func captureRecord(d compute.Datum) (arrow.Record, error) {
	switch v := d.(type) {
	case *compute.RecordDatum:
		v.Value.Retain()
		return v.Value, nil
	case *compute.ArrayDatum:
		arr := v.MakeArray()
		defer arr.Release()
		st, ok := arr.(*array.Struct)
		if !ok {
			break
		}
		if st.NullN() > 0 {
			return nil, fmt.Errorf("%w: captures struct has %d null rows", functions.ErrInvalid, st.NullN())
		}
		return array.RecordFromStructArray(st, nil), nil
	}
	return nil, fmt.Errorf("%w: captures must be a record or struct array, got %s", functions.ErrSchemaMismatch, d)
}

func execTransform(ctx context.Context, args []compute.Datum, opts functions.FunctionOptions) (compute.Datum, error) {
	arg, ok := args[0].(*compute.ArrayDatum)
	if !ok {
		return nil, fmt.Errorf("%w: transform expects an array argument, got %s", functions.ErrSchemaMismatch, args[0])
	}
	input := arg.MakeArray()
	defer input.Release()

	captures, err := captureRecord(args[1])
	if err != nil {
		return nil, err
	}
	defer captures.Release()

	out, err := ExecTransform(ctx, input, captures, opts.(*TransformOptions))
	if err != nil {
		return nil, err
	}
	defer out.Release()
	return compute.NewDatum(out), nil
}

// RegisterTransform adds the "transform" function to reg. It is called with
// the array argument and a record or struct array of capture columns.
func RegisterTransform(reg *functions.FunctionRegistry) error {
	sig := functions.NewKernelSig([]functions.InputType{
		functions.NewInputMatcher(functions.ListLike()),
		functions.NewInputIDType(arrow.STRUCT),
	}, functions.NewOutputTypeResolver(resolveTransformType), false)

	fn := functions.NewHigherOrderFunction("transform", functions.Binary(), transformDoc,
		DefaultTransformOptions(), sig, initTransform, execTransform)
	return reg.AddFunction(fn, true)
}
