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
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/scalar"
	"github.com/zeroshade/lambdaexec/functions"
)

// Operand is a node of a lambda body evaluated with Arrow compute
// functions.
type Operand interface {
	fmt.Stringer
	// eval returns a datum the caller must release.
	eval(ctx context.Context, args Args) (compute.Datum, error)
}

type elemRef struct{}

// Elem refers to the array element parameter.
func Elem() Operand { return elemRef{} }

func (elemRef) String() string { return "x" }
func (elemRef) eval(_ context.Context, args Args) (compute.Datum, error) {
	return compute.NewDatum(args.Elements), nil
}

type captureRef int

// Capture refers to the i-th declared capture parameter.
func Capture(i int) Operand { return captureRef(i) }

func (c captureRef) String() string { return fmt.Sprintf("c%d", int(c)) }
func (c captureRef) eval(_ context.Context, args Args) (compute.Datum, error) {
	if int(c) < 0 || int(c) >= len(args.Captures) {
		return nil, fmt.Errorf("%w: capture %d referenced, %d bound", functions.ErrSchemaMismatch, int(c), len(args.Captures))
	}
	return compute.NewDatum(args.Captures[c]), nil
}

type literal struct {
	val scalar.Scalar
}

// Literal is a constant operand.
func Literal(v scalar.Scalar) Operand { return literal{val: v} }

func (l literal) String() string { return l.val.String() }
func (l literal) eval(context.Context, Args) (compute.Datum, error) {
	// the datum is released by the caller, so keep our own reference alive
	if r, ok := l.val.(interface{ Retain() }); ok {
		r.Retain()
	}
	return compute.NewDatum(l.val), nil
}

// Expr calls a registered Arrow compute function on its operands. It
// implements both Operand and Evaluator, so expressions nest and can be used
// directly as a lambda body.
type Expr struct {
	fn   string
	opts compute.FunctionOptions
	args []Operand
}

func Call(fn string, args ...Operand) *Expr {
	return &Expr{fn: fn, args: args}
}

func CallWithOptions(fn string, opts compute.FunctionOptions, args ...Operand) *Expr {
	return &Expr{fn: fn, opts: opts, args: args}
}

func (e *Expr) String() string {
	var b strings.Builder
	b.WriteString(e.fn)
	b.WriteByte('(')
	for i, a := range e.args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.String())
	}
	b.WriteByte(')')
	return b.String()
}

func (e *Expr) eval(ctx context.Context, args Args) (compute.Datum, error) {
	operands := make([]compute.Datum, 0, len(e.args))
	defer func() {
		for _, d := range operands {
			d.Release()
		}
	}()

	for _, a := range e.args {
		d, err := a.eval(ctx, args)
		if err != nil {
			return nil, err
		}
		operands = append(operands, d)
	}
	return compute.CallFunction(ctx, e.fn, e.opts, operands...)
}

func (e *Expr) Evaluate(ctx context.Context, args Args) (arrow.Array, error) {
	mem := functions.GetAllocator(ctx)
	out, err := e.eval(compute.WithAllocator(ctx, mem), args)
	if err != nil {
		return nil, err
	}
	defer out.Release()

	switch v := out.(type) {
	case *compute.ArrayDatum:
		return v.MakeArray(), nil
	case *compute.ScalarDatum:
		// constant body
		return scalar.MakeArrayFromScalar(v.Value, args.Len(), mem)
	}
	return nil, fmt.Errorf("%w: expression %s produced %s", functions.ErrInvalid, e, out)
}
