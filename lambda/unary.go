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

package lambda

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/zeroshade/lambdaexec/functions"
)

type valuer[T any] interface {
	arrow.Array
	Value(int) T
}

type appender[R any] interface {
	array.Builder
	Append(R)
}

func asValuer[T any](arr arrow.Array, what string) (valuer[T], error) {
	v, ok := arr.(valuer[T])
	if !ok {
		var zero T
		return nil, fmt.Errorf("%w: %s of type %s cannot be read as %T",
			functions.ErrTypeCoercion, what, arr.DataType(), zero)
	}
	return v, nil
}

// mapValues builds an array of result by calling fn on each non-null
// position. A null in any input yields a null output.
func mapValues[R any](ctx context.Context, result arrow.DataType, n int, inputs []arrow.Array, fn func(i int) (R, error)) (arrow.Array, error) {
	bldr := array.NewBuilder(functions.GetAllocator(ctx), result)
	defer bldr.Release()

	app, ok := bldr.(appender[R])
	if !ok {
		var zero R
		return nil, fmt.Errorf("%w: builder for %s does not accept %T", functions.ErrSchemaMismatch, result, zero)
	}

	bldr.Reserve(n)
rows:
	for i := 0; i < n; i++ {
		for _, in := range inputs {
			if in.IsNull(i) {
				bldr.AppendNull()
				continue rows
			}
		}

		v, err := fn(i)
		if err != nil {
			return nil, &ElementError{Position: i, Err: err}
		}
		app.Append(v)
	}
	return bldr.NewArray(), nil
}

// Unary evaluates fn on every non-null element. T must be the Go value type
// of the element array and R the value type accepted by the builder for
// result, e.g. Unary(arrow.FixedWidthTypes.Boolean, func(v int64) bool {...}).
func Unary[T, R any](result arrow.DataType, fn func(T) R) Evaluator {
	return UnaryErr(result, func(v T) (R, error) { return fn(v), nil })
}

// UnaryErr is like Unary, but fn may fail on a particular element. The
// failure is reported as an *ElementError carrying the element position.
func UnaryErr[T, R any](result arrow.DataType, fn func(T) (R, error)) Evaluator {
	return EvaluatorFunc(func(ctx context.Context, args Args) (arrow.Array, error) {
		in, err := asValuer[T](args.Elements, "element")
		if err != nil {
			return nil, err
		}
		return mapValues(ctx, result, in.Len(), []arrow.Array{in}, func(i int) (R, error) {
			return fn(in.Value(i))
		})
	})
}

// WithCapture evaluates fn on each element together with the first capture
// value of its row.
func WithCapture[T, C, R any](result arrow.DataType, fn func(T, C) R) Evaluator {
	return EvaluatorFunc(func(ctx context.Context, args Args) (arrow.Array, error) {
		if len(args.Captures) == 0 {
			return nil, fmt.Errorf("%w: lambda expects a capture", functions.ErrSchemaMismatch)
		}
		in, err := asValuer[T](args.Elements, "element")
		if err != nil {
			return nil, err
		}
		capt, err := asValuer[C](args.Captures[0], "capture")
		if err != nil {
			return nil, err
		}
		return mapValues(ctx, result, in.Len(), []arrow.Array{in, capt}, func(i int) (R, error) {
			return fn(in.Value(i), capt.Value(i)), nil
		})
	})
}
