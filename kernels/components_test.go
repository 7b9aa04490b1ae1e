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
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/suite"
	"github.com/zeroshade/lambdaexec/functions"
	"github.com/zeroshade/lambdaexec/internal/arraytest"
	"github.com/zeroshade/lambdaexec/lambda"
)

var listInt64 = arrow.ListOf(arrow.PrimitiveTypes.Int64)

type FlattenSuite struct {
	suite.Suite

	mem  *memory.CheckedAllocator
	ectx functions.ExecCtx
	ctx  context.Context
}

func (fs *FlattenSuite) SetupTest() {
	fs.mem = memory.NewCheckedAllocator(memory.NewGoAllocator())
	fs.ectx.Mem = fs.mem
	fs.ctx = functions.SetExecCtx(context.Background(), &fs.ectx)
}

func (fs *FlattenSuite) TearDownTest() {
	fs.mem.AssertSize(fs.T(), 0)
}

func (fs *FlattenSuite) fromJSON(dt arrow.DataType, js string) arrow.Array {
	arr, _, err := array.FromJSON(fs.mem, dt, strings.NewReader(js))
	fs.Require().NoError(err)
	return arr
}

func (fs *FlattenSuite) int64Values(arr arrow.Array) []int64 {
	return arr.(*array.Int64).Int64Values()
}

func (fs *FlattenSuite) TestIdentity() {
	list := fs.fromJSON(listInt64, `[[1, 2], null, [], [3]]`).(*array.List)
	defer list.Release()

	flat, err := Flatten(fs.ctx, list, nil)
	fs.Require().NoError(err)
	defer flat.Release()

	fs.Equal(4, flat.NumRows())
	fs.Equal([]int64{1, 2, 3}, fs.int64Values(flat.Elements))
	fs.Equal([]int32{0, 0, 3}, flat.RowIndex)
	fs.Equal([]int32{0, 2, 2, 2, 3}, flat.Offsets)
	fs.Equal(1, flat.NullCount)
	fs.False(flat.IsValid(1))
	fs.True(flat.IsValid(2))

	// contiguous rows are sliced, not copied
	fs.Same(list.ListValues().Data().Buffers()[1], flat.Elements.Data().Buffers()[1])
}

func (fs *FlattenSuite) TestSelection() {
	list := fs.fromJSON(listInt64, `[[1, 2], null, [], [3]]`).(*array.List)
	defer list.Release()

	flat, err := Flatten(fs.ctx, list, []int32{3, -1, 0, 0, 1})
	fs.Require().NoError(err)
	defer flat.Release()

	fs.Equal([]int64{3, 1, 2, 1, 2}, fs.int64Values(flat.Elements))
	fs.Equal([]int32{0, 2, 2, 3, 3}, flat.RowIndex)
	fs.Equal([]int32{0, 1, 1, 3, 5, 5}, flat.Offsets)
	fs.Equal(2, flat.NullCount)
	fs.False(flat.IsValid(1))
	fs.False(flat.IsValid(4))
}

func (fs *FlattenSuite) TestSlicedList() {
	list := fs.fromJSON(listInt64, `[[1, 2], null, [], [3, 4], [5]]`)
	defer list.Release()
	sliced := array.NewSlice(list, 2, 5).(*array.List)
	defer sliced.Release()

	flat, err := Flatten(fs.ctx, sliced, nil)
	fs.Require().NoError(err)
	defer flat.Release()

	fs.Equal([]int64{3, 4, 5}, fs.int64Values(flat.Elements))
	fs.Equal([]int32{0, 0, 2, 3}, flat.Offsets)
	fs.Zero(flat.NullCount)
}

func (fs *FlattenSuite) TestRowOutOfRange() {
	list := fs.fromJSON(listInt64, `[[1]]`).(*array.List)
	defer list.Release()

	_, err := Flatten(fs.ctx, list, []int32{0, 1})
	fs.ErrorIs(err, functions.ErrEncodingInvariant)
}

func (fs *FlattenSuite) TestOffsetsPastElements() {
	child := fs.fromJSON(arrow.PrimitiveTypes.Int64, `[1, 2, 3]`)
	defer child.Release()

	offsets := memory.NewBufferBytes(arrow.Int32Traits.CastToBytes([]int32{0, 2, 10}))
	data := array.NewData(listInt64, 2, []*memory.Buffer{nil, offsets}, []arrow.ArrayData{child.Data()}, 0, 0)
	defer data.Release()
	list := array.NewListData(data)
	defer list.Release()

	_, err := Flatten(fs.ctx, list, nil)
	fs.ErrorIs(err, functions.ErrEncodingInvariant)
}

func (fs *FlattenSuite) TestReassembleIdentity() {
	list := arraytest.MakeList(fs.mem, arrow.PrimitiveTypes.Int64, 1000, arraytest.ModN(5),
		func(row, k int) int64 { return int64(row%7 + k) }, arraytest.NullEvery(11))
	defer list.Release()

	flat, err := Flatten(fs.ctx, list, nil)
	fs.Require().NoError(err)
	defer flat.Release()

	flat.Elements.Retain()
	res := &evalResult{values: flat.Elements, offsets: flat.offsets, validity: flat.validity, nulls: flat.NullCount, n: flat.NumRows()}
	res.offsets.Retain()
	if res.validity != nil {
		res.validity.Retain()
	}
	defer res.Release()

	out := assembleList(res)
	defer out.Release()
	fs.Truef(array.Equal(list, out), "expected: %s\ngot: %s", list, out)
}

func (fs *FlattenSuite) TestBindCaptures() {
	list := fs.fromJSON(listInt64, `[[1, 2], null, [], [3]]`).(*array.List)
	defer list.Release()
	c0 := fs.fromJSON(arrow.PrimitiveTypes.Int32, `[10, 20, 30, null]`)
	defer c0.Release()
	expected := fs.fromJSON(arrow.PrimitiveTypes.Int32, `[10, 10, null]`)
	defer expected.Release()

	flat, err := Flatten(fs.ctx, list, nil)
	fs.Require().NoError(err)
	defer flat.Release()

	bound, err := BindCaptures(fs.ctx, flat, []arrow.Array{c0})
	fs.Require().NoError(err)
	defer releaseAll(bound)
	fs.Truef(array.Equal(expected, bound[0]), "got: %s", bound[0])

	short := array.NewSlice(c0, 0, 2)
	defer short.Release()
	_, err = BindCaptures(fs.ctx, flat, []arrow.Array{short})
	fs.ErrorIs(err, functions.ErrEncodingInvariant)
}

func TestFlatten(t *testing.T) {
	suite.Run(t, new(FlattenSuite))
}

type PeelSuite struct {
	suite.Suite

	mem  *memory.CheckedAllocator
	ectx functions.ExecCtx
	ctx  context.Context

	base *array.List
	f, g *lambda.Descriptor
}

func (ps *PeelSuite) SetupTest() {
	ps.mem = memory.NewCheckedAllocator(memory.NewGoAllocator())
	ps.ectx.Mem = ps.mem
	ps.ctx = functions.SetExecCtx(context.Background(), &ps.ectx)

	ps.base = arraytest.ListOf(ps.mem, arrow.PrimitiveTypes.Int64, []any{int64(1)}, []any{int64(2), int64(3)}, []any{})

	sig := lambda.Signature{
		Element:  lambda.Param{Name: "x", Type: arrow.PrimitiveTypes.Int64},
		Captures: []lambda.Param{{Name: "c0", Type: arrow.PrimitiveTypes.Int64}},
		Result:   arrow.PrimitiveTypes.Int64,
	}
	body := lambda.Call("add", lambda.Elem(), lambda.Capture(0))
	var err error
	ps.f, err = lambda.New("f", sig, body)
	ps.Require().NoError(err)
	ps.g, err = lambda.New("g", sig, body)
	ps.Require().NoError(err)
}

func (ps *PeelSuite) TearDownTest() {
	ps.base.Release()
	ps.mem.AssertSize(ps.T(), 0)
}

func (ps *PeelSuite) fromJSON(dt arrow.DataType, js string) arrow.Array {
	arr, _, err := array.FromJSON(ps.mem, dt, strings.NewReader(js))
	ps.Require().NoError(err)
	return arr
}

func (ps *PeelSuite) plan(dict *array.Dictionary, capture arrow.Array, opts *TransformOptions) (*evalPlan, error) {
	var cols []arrow.Array
	var fields []arrow.Field
	if capture != nil {
		cols = []arrow.Array{capture}
		fields = []arrow.Field{{Name: "c0", Type: capture.DataType(), Nullable: true}}
	}
	rec := array.NewRecord(arrow.NewSchema(fields, nil), cols, int64(dict.Len()))
	defer rec.Release()

	var lambdas []*lambda.Descriptor
	if capture != nil {
		lambdas = opts.Lambdas.Lambdas()
	}
	caps, err := resolveCaptures(ps.ctx, rec, lambdas, dict)
	ps.Require().NoError(err)
	defer caps.Release()

	return planTransform(ps.ctx, dict, caps, opts)
}

func (ps *PeelSuite) TestSharesIndices() {
	indices := ps.fromJSON(arrow.PrimitiveTypes.Int32, `[2, 0, 2]`)
	defer indices.Release()
	same := ps.fromJSON(arrow.PrimitiveTypes.Int32, `[2, 0, 2]`)
	defer same.Release()
	other := ps.fromJSON(arrow.PrimitiveTypes.Int32, `[2, 1, 2]`)
	defer other.Release()
	narrow := ps.fromJSON(arrow.PrimitiveTypes.Int8, `[2, 0, 2]`)
	defer narrow.Release()

	values := ps.fromJSON(arrow.PrimitiveTypes.Int64, `[7, 8, 9]`)
	defer values.Release()

	mk := func(idx arrow.Array, dict arrow.Array) *array.Dictionary {
		dt := &arrow.DictionaryType{IndexType: idx.DataType(), ValueType: dict.DataType()}
		return array.NewDictionaryArray(dt, idx, dict)
	}
	list := mk(indices, ps.base)
	defer list.Release()

	for _, tc := range []struct {
		name    string
		indices arrow.Array
		want    bool
	}{
		{"same handle", indices, true},
		{"equal values", same, true},
		{"different values", other, false},
		{"different index type", narrow, false},
	} {
		capture := mk(tc.indices, values)
		ps.Equal(tc.want, sharesIndices(list, capture), tc.name)
		capture.Release()
	}
}

func (ps *PeelSuite) TestPeelsAliasedRows() {
	dict := arraytest.Encode(ps.mem, ps.base, []int32{2, 0, 2, -1})
	defer dict.Release()

	plan, err := ps.plan(dict, nil, DefaultTransformOptions().WithLambdas(lambda.Uniform(ps.f)))
	ps.Require().NoError(err)
	defer plan.Release()

	ps.True(plan.peeled)
	ps.Equal([]int32{0, 2}, plan.rows)
	ps.Equal(2, plan.n)
	ps.Equal([]int32{1, 0, 1, -1}, plan.rowOf)
	ps.False(plan.reusesIndices())
	ps.Equal(1, plan.logicalRow(0))
	ps.Equal(0, plan.logicalRow(1))
}

func (ps *PeelSuite) TestPeelsPermutation() {
	dict := arraytest.Encode(ps.mem, ps.base, arraytest.Reversed(3))
	defer dict.Release()
	capture := ps.fromJSON(arrow.PrimitiveTypes.Int64, `[10, 20, 30]`)
	defer capture.Release()
	expected := ps.fromJSON(arrow.PrimitiveTypes.Int64, `[30, 20, 10]`)
	defer expected.Release()

	plan, err := ps.plan(dict, capture, DefaultTransformOptions().WithLambdas(lambda.Uniform(ps.f)))
	ps.Require().NoError(err)
	defer plan.Release()

	ps.True(plan.peeled)
	ps.True(plan.reusesIndices())
	ps.Equal([]int32{2, 1, 0}, plan.rowOf)
	for k := 0; k < plan.n; k++ {
		ps.Equal(k, int(plan.rowOf[plan.logicalRow(k)]))
	}
	// captures follow the dictionary values, not the logical rows
	ps.Truef(array.Equal(expected, plan.captures["c0"]), "got: %s", plan.captures["c0"])
}

func (ps *PeelSuite) TestConflictingCaptureSuppressesPeeling() {
	dict := arraytest.Encode(ps.mem, ps.base, []int32{2, 0, 2})
	defer dict.Release()
	capture := ps.fromJSON(arrow.PrimitiveTypes.Int64, `[1, 2, 3]`)
	defer capture.Release()

	plan, err := ps.plan(dict, capture, DefaultTransformOptions().WithLambdas(lambda.Uniform(ps.f)))
	ps.Require().NoError(err)
	defer plan.Release()

	ps.False(plan.peeled)
	ps.Equal([]int32{2, 0, 2}, plan.rows)
	ps.Nil(plan.rowOf)
	ps.Same(capture, plan.captures["c0"])
}

func (ps *PeelSuite) TestAgreeingCapturePeels() {
	dict := arraytest.Encode(ps.mem, ps.base, []int32{2, 0, 2})
	defer dict.Release()
	capture := ps.fromJSON(arrow.PrimitiveTypes.Int64, `[5, 6, 5]`)
	defer capture.Release()
	expected := ps.fromJSON(arrow.PrimitiveTypes.Int64, `[6, 5]`)
	defer expected.Release()

	plan, err := ps.plan(dict, capture, DefaultTransformOptions().WithLambdas(lambda.Uniform(ps.f)))
	ps.Require().NoError(err)
	defer plan.Release()

	ps.True(plan.peeled)
	ps.Equal([]int32{0, 2}, plan.rows)
	ps.Truef(array.Equal(expected, plan.captures["c0"]), "got: %s", plan.captures["c0"])
}

func (ps *PeelSuite) TestSharedIndicesCapturePeels() {
	indices := ps.fromJSON(arrow.PrimitiveTypes.Int32, `[2, 0, 2]`)
	defer indices.Release()
	values := ps.fromJSON(arrow.PrimitiveTypes.Int64, `[7, 8, 9]`)
	defer values.Release()

	dict := array.NewDictionaryArray(&arrow.DictionaryType{IndexType: indices.DataType(), ValueType: ps.base.DataType()}, indices, ps.base)
	defer dict.Release()
	capture := array.NewDictionaryArray(&arrow.DictionaryType{IndexType: indices.DataType(), ValueType: values.DataType()}, indices, values)
	defer capture.Release()

	plan, err := ps.plan(dict, capture, DefaultTransformOptions().WithLambdas(lambda.Uniform(ps.f)))
	ps.Require().NoError(err)
	defer plan.Release()

	ps.True(plan.peeled)
	expected := ps.fromJSON(arrow.PrimitiveTypes.Int64, `[7, 9]`)
	defer expected.Release()
	ps.Truef(array.Equal(expected, plan.captures["c0"]), "got: %s", plan.captures["c0"])
}

func (ps *PeelSuite) TestLambdaChoiceConflict() {
	dict := arraytest.Encode(ps.mem, ps.base, []int32{1, 1})
	defer dict.Release()
	capture := ps.fromJSON(arrow.PrimitiveTypes.Int64, `[0, 0]`)
	defer capture.Release()

	m, err := lambda.NewRowMap([]*lambda.Descriptor{ps.f, ps.g}, []int32{0, 1})
	ps.Require().NoError(err)

	plan, err := ps.plan(dict, capture, DefaultTransformOptions().WithLambdas(m))
	ps.Require().NoError(err)
	defer plan.Release()

	ps.False(plan.peeled)
	ps.Equal([]int32{0, 1}, plan.choice)
}

func (ps *PeelSuite) TestPeelNever() {
	dict := arraytest.Encode(ps.mem, ps.base, []int32{1, 1})
	defer dict.Release()

	opts := DefaultTransformOptions().WithLambdas(lambda.Uniform(ps.f))
	opts.Peel = PeelNever
	plan, err := ps.plan(dict, nil, opts)
	ps.Require().NoError(err)
	defer plan.Release()

	ps.False(plan.peeled)
	ps.Equal([]int32{1, 1}, plan.rows)
}

func (ps *PeelSuite) TestIndexOutOfRange() {
	dict := arraytest.Encode(ps.mem, ps.base, []int32{0, 3})
	defer dict.Release()

	_, err := ps.plan(dict, nil, DefaultTransformOptions().WithLambdas(lambda.Uniform(ps.f)))
	ps.ErrorIs(err, functions.ErrEncodingInvariant)
}

func TestPeel(t *testing.T) {
	suite.Run(t, new(PeelSuite))
}
