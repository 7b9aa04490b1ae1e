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

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/bitutil"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
)

type execCtxKey struct{}

func SetExecCtx(ctx context.Context, ectx *ExecCtx) context.Context {
	return context.WithValue(ctx, execCtxKey{}, ectx)
}

func GetExecCtx(ctx context.Context) *ExecCtx {
	if ec, ok := ctx.Value(execCtxKey{}).(*ExecCtx); ok {
		return ec
	}
	return nil
}

// ExecCtx holds the per-batch execution resources. Everything allocated
// through Mem during a call is either released before the call returns or
// handed to the caller as part of the result.
type ExecCtx struct {
	Mem      memory.Allocator
	Registry *FunctionRegistry
	Logger   log.Logger
}

func (e *ExecCtx) Allocator() memory.Allocator {
	if e == nil || e.Mem == nil {
		return memory.DefaultAllocator
	}
	return e.Mem
}

func (e *ExecCtx) Log() log.Logger {
	if e == nil || e.Logger == nil {
		return log.NewNopLogger()
	}
	return e.Logger
}

// GetAllocator returns the allocator of the ExecCtx stored in ctx, or
// memory.DefaultAllocator when there is none.
func GetAllocator(ctx context.Context) memory.Allocator {
	return GetExecCtx(ctx).Allocator()
}

func GetLogger(ctx context.Context) log.Logger {
	return GetExecCtx(ctx).Log()
}

type KernelCtx struct {
	Ctx   *ExecCtx
	State KernelState
}

func (k *KernelCtx) Allocate(nb int) *memory.Buffer {
	buf := memory.NewResizableBuffer(k.Ctx.Allocator())
	buf.Resize(nb)
	return buf
}

func (k *KernelCtx) AllocateBitmap(nbits int64) *memory.Buffer {
	nbytes := bitutil.BytesForBits(nbits)
	return k.Allocate(int(nbytes))
}

type TypeMatcher interface {
	fmt.Stringer
	Matches(arrow.DataType) bool
	Equals(TypeMatcher) bool
}

type sameIDMatcher struct {
	id arrow.Type
}

func (s *sameIDMatcher) Matches(t arrow.DataType) bool { return s.id == t.ID() }
func (s *sameIDMatcher) String() string {
	return "Type::" + s.id.String()
}
func (s *sameIDMatcher) Equals(t TypeMatcher) bool {
	if s == t {
		return true
	}

	if m, ok := t.(*sameIDMatcher); ok {
		return s.id == m.id
	}
	return false
}

// listLikeMatcher accepts a list type, or a dictionary type whose values
// are a list type.
type listLikeMatcher struct{}

func (listLikeMatcher) String() string { return "list-like" }
func (listLikeMatcher) Matches(t arrow.DataType) bool {
	_, ok := ListElemType(t)
	return ok
}
func (listLikeMatcher) Equals(t TypeMatcher) bool {
	_, ok := t.(listLikeMatcher)
	return ok
}

// ListLike matches list<T> and dictionary<list<T>>.
func ListLike() TypeMatcher { return listLikeMatcher{} }

// ListElemType returns the element type of a list or dictionary-encoded list
// type.
func ListElemType(t arrow.DataType) (arrow.DataType, bool) {
	switch dt := t.(type) {
	case *arrow.ListType:
		return dt.Elem(), true
	case *arrow.DictionaryType:
		if lt, ok := dt.ValueType.(*arrow.ListType); ok {
			return lt.Elem(), true
		}
	}
	return nil, false
}

type TypeKind int8

const (
	AnyType TypeKind = iota
	ExactType
	UseTypeMatcher
)

type InputType struct {
	kind        TypeKind
	dt          arrow.DataType
	typeMatcher TypeMatcher
}

func DefaultInputType() InputType {
	return InputType{kind: AnyType}
}

func NewExactInput(dt arrow.DataType) InputType {
	return InputType{kind: ExactType, dt: dt}
}

func NewInputMatcher(matcher TypeMatcher) InputType {
	return InputType{kind: UseTypeMatcher, typeMatcher: matcher}
}

func NewInputIDType(id arrow.Type) InputType {
	return NewInputMatcher(&sameIDMatcher{id})
}

func (it *InputType) Kind() TypeKind { return it.kind }

func (it *InputType) Matches(dt arrow.DataType) bool {
	switch it.kind {
	case ExactType:
		return arrow.TypeEqual(it.dt, dt)
	case UseTypeMatcher:
		return it.typeMatcher.Matches(dt)
	default:
		// ANY TYPE!
		return true
	}
}

func (it *InputType) String() string {
	switch it.kind {
	case ExactType:
		return it.dt.String()
	case UseTypeMatcher:
		return it.typeMatcher.String()
	default:
		return "any"
	}
}

type TypeResolver func(*KernelCtx, []arrow.DataType) (arrow.DataType, error)

type ResolveKind int8

const (
	ResolveFixed ResolveKind = iota
	ResolveComputed
)

type OutputType struct {
	kind     ResolveKind
	dt       arrow.DataType
	resolver TypeResolver
}

func NewOutputType(dt arrow.DataType) OutputType {
	return OutputType{dt: dt, kind: ResolveFixed}
}

func NewOutputTypeResolver(resolver TypeResolver) OutputType {
	return OutputType{kind: ResolveComputed, resolver: resolver}
}

func (o OutputType) Resolve(ctx *KernelCtx, args []arrow.DataType) (arrow.DataType, error) {
	if o.kind == ResolveFixed {
		return o.dt, nil
	}
	return o.resolver(ctx, args)
}

type KernelSig struct {
	inTypes []InputType
	outType OutputType
	varArgs bool
}

func NewKernelSig(in []InputType, out OutputType, varargs bool) *KernelSig {
	return &KernelSig{
		inTypes: in,
		outType: out,
		varArgs: varargs,
	}
}

func (k *KernelSig) OutputType() OutputType { return k.outType }

func (k *KernelSig) InputTypes() []InputType { return k.inTypes }

func (k *KernelSig) MatchesInputs(args []arrow.DataType) bool {
	if k.varArgs {
		for i, arg := range args {
			if !k.inTypes[min(i, len(k.inTypes)-1)].Matches(arg) {
				return false
			}
		}
		return true
	}

	if len(args) != len(k.inTypes) {
		return false
	}

	for i, arg := range args {
		if !k.inTypes[i].Matches(arg) {
			return false
		}
	}
	return true
}

type KernelInitArgs struct {
	Inputs  []arrow.DataType
	Options FunctionOptions
}

type KernelState interface{}

type KernelInit func(*KernelCtx, KernelInitArgs) (KernelState, error)

type kernelCtxKey struct{}

func GetKernelCtx(ctx context.Context) *KernelCtx {
	if v, ok := ctx.Value(kernelCtxKey{}).(*KernelCtx); ok {
		return v
	}
	return nil
}

func SetKernelCtx(ctx context.Context, kctx *KernelCtx) context.Context {
	return context.WithValue(ctx, kernelCtxKey{}, kctx)
}
