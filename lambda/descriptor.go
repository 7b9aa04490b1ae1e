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

// Package lambda defines the callable handed to array higher-order
// functions: a resolved signature plus an element evaluator.
//
// A Descriptor never holds column names or batch data. Capture parameters
// are resolved against the enclosing batch by the caller; the evaluator only
// ever sees flat, element-aligned arrays.
package lambda

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/zeroshade/lambdaexec/functions"
)

// Param is a named, typed lambda parameter.
type Param struct {
	Name string
	Type arrow.DataType
}

func (p Param) String() string { return p.Name + " " + p.Type.String() }

// Signature is the fixed parameter list of a lambda: the array element
// first, followed by the declared captures in order.
type Signature struct {
	Element  Param
	Captures []Param
	Result   arrow.DataType
}

func (s Signature) String() string {
	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(s.Element.String())
	for _, c := range s.Captures {
		b.WriteString(", ")
		b.WriteString(c.String())
	}
	b.WriteString(") -> ")
	if s.Result != nil {
		b.WriteString(s.Result.String())
	}
	return b.String()
}

func (s Signature) validate() error {
	if s.Element.Type == nil {
		return fmt.Errorf("%w: lambda element parameter has no type", functions.ErrInvalid)
	}
	if s.Result == nil {
		return fmt.Errorf("%w: lambda has no result type", functions.ErrInvalid)
	}

	seen := map[string]struct{}{s.Element.Name: {}}
	for _, c := range s.Captures {
		if c.Name == "" || c.Type == nil {
			return fmt.Errorf("%w: capture parameters need a name and a type, got %q", functions.ErrInvalid, c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: duplicate lambda parameter %q", functions.ErrInvalid, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// Args are the flat inputs of one evaluator call. Every capture array has
// the same length as Elements; capture values are already broadcast so that
// Captures[j].Value(i) belongs to the row owning Elements.Value(i).
type Args struct {
	Elements arrow.Array
	Captures []arrow.Array
}

func (a Args) Len() int { return a.Elements.Len() }

// Evaluator is the per-element scalar evaluator. It must return an array of
// exactly args.Len() values. It must not retain args after returning.
type Evaluator interface {
	Evaluate(ctx context.Context, args Args) (arrow.Array, error)
}

type EvaluatorFunc func(context.Context, Args) (arrow.Array, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, args Args) (arrow.Array, error) {
	return f(ctx, args)
}

// ElementError reports the position of the element an evaluator failed on.
type ElementError struct {
	Position int
	Err      error
}

func (e *ElementError) Error() string { return fmt.Sprintf("element %d: %s", e.Position, e.Err) }
func (e *ElementError) Unwrap() error { return e.Err }

// Descriptor is a resolved lambda handle. Descriptors are compared by
// identity: two rows use the same lambda only when they point at the same
// Descriptor.
type Descriptor struct {
	name string
	sig  Signature
	eval Evaluator
}

func New(name string, sig Signature, eval Evaluator) (*Descriptor, error) {
	if eval == nil {
		return nil, fmt.Errorf("%w: lambda '%s' has no body", functions.ErrInvalid, name)
	}
	if err := sig.validate(); err != nil {
		return nil, err
	}
	return &Descriptor{name: name, sig: sig, eval: eval}, nil
}

func (d *Descriptor) Name() string         { return d.name }
func (d *Descriptor) Signature() Signature { return d.sig }
func (d *Descriptor) String() string       { return d.name + d.sig.String() }

// Evaluate runs the body and checks its output against the declared result
// type. Failures of the body are wrapped with functions.ErrEvaluation.
func (d *Descriptor) Evaluate(ctx context.Context, args Args) (arrow.Array, error) {
	if len(args.Captures) != len(d.sig.Captures) {
		return nil, fmt.Errorf("%w: lambda '%s' declares %d captures, got %d",
			functions.ErrSchemaMismatch, d.name, len(d.sig.Captures), len(args.Captures))
	}

	out, err := d.eval.Evaluate(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("%w: lambda '%s': %w", functions.ErrEvaluation, d.name, err)
	}

	switch {
	case out.Len() != args.Len():
		out.Release()
		return nil, fmt.Errorf("%w: lambda '%s' returned %d values for %d elements",
			functions.ErrInvalid, d.name, out.Len(), args.Len())
	case !arrow.TypeEqual(out.DataType(), d.sig.Result):
		dt := out.DataType()
		out.Release()
		return nil, fmt.Errorf("%w: lambda '%s' declared result %s, evaluator returned %s",
			functions.ErrSchemaMismatch, d.name, d.sig.Result, dt)
	}
	return out, nil
}
