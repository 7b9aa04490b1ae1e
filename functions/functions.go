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

package functions

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/compute"
)

type Arity struct {
	NumArgs int
	VarArgs bool
}

func Nullary() Arity            { return Arity{0, false} }
func Unary() Arity              { return Arity{1, false} }
func Binary() Arity             { return Arity{2, false} }
func Ternary() Arity            { return Arity{3, false} }
func VarArgs(minargs int) Arity { return Arity{minargs, true} }

type FunctionKind int8

const (
	FuncScalarKind FunctionKind = iota
	FuncVectorKind
	FuncHigherOrderKind
	FuncMetaKind
)

type FunctionDoc struct {
	Summary         string
	Desc            string
	ArgNames        []string
	OptionsType     string
	OptionsRequired bool
}

// FunctionOptions is implemented by the options struct of every function
// that accepts options.
type FunctionOptions interface {
	TypeName() string
}

type Function interface {
	Name() string
	Kind() FunctionKind
	Arity() Arity
	Doc() FunctionDoc
	DefaultOptions() FunctionOptions
}

type ExecutableFunc interface {
	Function
	Execute(ctx context.Context, args []compute.Datum, opts FunctionOptions) (compute.Datum, error)
}

type baseFunc struct {
	name    string
	kind    FunctionKind
	arity   Arity
	options FunctionOptions
	doc     FunctionDoc
}

func (b *baseFunc) Name() string                    { return b.name }
func (b *baseFunc) Kind() FunctionKind              { return b.kind }
func (b *baseFunc) Arity() Arity                    { return b.arity }
func (b *baseFunc) Doc() FunctionDoc                { return b.doc }
func (b *baseFunc) DefaultOptions() FunctionOptions { return b.options }

// Validate checks that the documentation agrees with the arity.
func (b *baseFunc) Validate() error {
	if b.doc.Summary == "" {
		return nil
	}

	argCount := len(b.doc.ArgNames)
	if argCount != b.arity.NumArgs && !(b.arity.VarArgs && argCount == b.arity.NumArgs+1) {
		return fmt.Errorf("%w: in function '%s': number of argument names for function doc != function arity",
			ErrInvalid, b.name)
	}

	if strings.Contains(b.doc.Summary, "\n") {
		return fmt.Errorf("%w: summary contains a newline", ErrInvalid)
	}
	return nil
}

func validArity(f *baseFunc, numArgs int, label string) error {
	switch {
	case f.arity.VarArgs && numArgs < f.arity.NumArgs:
		return fmt.Errorf("%w: varargs function '%s' needs at least %d arguments, but %s only %d",
			ErrInvalid, f.name, f.arity.NumArgs, label, numArgs)
	case !f.arity.VarArgs && numArgs != f.arity.NumArgs:
		return fmt.Errorf("%w: function '%s' accepts %d args but %s %d",
			ErrInvalid, f.name, f.arity.NumArgs, label, numArgs)
	default:
		return nil
	}
}

type MetaFunctionImpl func(context.Context, []compute.Datum, FunctionOptions) (compute.Datum, error)

// MetaFunction executes its implementation directly rather than through a
// kernel executor. When a signature is present the argument types are
// checked against it before the call and the result type after.
type MetaFunction struct {
	baseFunc

	sig  *KernelSig
	init KernelInit
	impl MetaFunctionImpl
}

func NewMetaFunction(name string, arity Arity, doc FunctionDoc, impl MetaFunctionImpl) *MetaFunction {
	return &MetaFunction{
		baseFunc: baseFunc{name: name, arity: arity, doc: doc, kind: FuncMetaKind},
		impl:     impl,
	}
}

// NewHigherOrderFunction creates a function whose callable argument is
// carried in its options. sig describes the datum arguments.
func NewHigherOrderFunction(name string, arity Arity, doc FunctionDoc, defaultOpts FunctionOptions,
	sig *KernelSig, init KernelInit, impl MetaFunctionImpl) *MetaFunction {
	return &MetaFunction{
		baseFunc: baseFunc{name: name, arity: arity, doc: doc, kind: FuncHigherOrderKind, options: defaultOpts},
		sig:      sig,
		init:     init,
		impl:     impl,
	}
}

func (mf *MetaFunction) Signature() *KernelSig { return mf.sig }

func (mf *MetaFunction) Execute(ctx context.Context, args []compute.Datum, opts FunctionOptions) (compute.Datum, error) {
	if err := validArity(&mf.baseFunc, len(args), "attempted to execute with"); err != nil {
		return nil, err
	}

	if opts == nil {
		if mf.doc.OptionsRequired && mf.options == nil {
			return nil, fmt.Errorf("%w: function '%s' cannot be called without options", ErrInvalid, mf.name)
		}
		opts = mf.options
	}

	if mf.sig == nil {
		return mf.impl(ctx, args, opts)
	}

	types, err := datumTypes(args)
	if err != nil {
		return nil, err
	}
	if !mf.sig.MatchesInputs(types) {
		return nil, fmt.Errorf("%w: function '%s' has no kernel matching input types %s",
			ErrSchemaMismatch, mf.name, typesToString(types))
	}

	kctx := &KernelCtx{Ctx: GetExecCtx(ctx)}
	if mf.init != nil {
		if kctx.State, err = mf.init(kctx, KernelInitArgs{Inputs: types, Options: opts}); err != nil {
			return nil, err
		}
	}

	outType, err := mf.sig.OutputType().Resolve(kctx, types)
	if err != nil {
		return nil, err
	}

	out, err := mf.impl(SetKernelCtx(ctx, kctx), args, opts)
	if err != nil {
		return nil, err
	}

	if err := checkResultType(out, outType, mf.name); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}
