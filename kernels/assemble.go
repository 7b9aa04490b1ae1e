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

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/bitutil"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/zeroshade/lambdaexec/internal/debug"
)

// assembleList lays out res as a list<R> column, sharing its buffers.
func assembleList(res *evalResult) *array.List {
	debug.Assert(int(res.Offsets()[res.n]) == res.values.Len(), "evaluated values do not fill the row offsets")
	dt := arrow.ListOf(res.values.DataType())
	data := array.NewData(dt, res.n, []*memory.Buffer{res.validity, res.offsets},
		[]arrow.ArrayData{res.values.Data()}, res.nulls, 0)
	defer data.Release()
	return array.NewListData(data)
}

// rowOfIndices builds dictionary indices addressing evaluation rows, with a
// null index for every null logical row.
func rowOfIndices(ctx context.Context, rowOf []int32) arrow.Array {
	kctx := kernelCtx(ctx)
	n := len(rowOf)

	valsBuf, vals := allocInt32(kctx, n)
	defer valsBuf.Release()
	validity := kctx.AllocateBitmap(int64(n))
	defer validity.Release()

	nulls := 0
	for i, r := range rowOf {
		if r < 0 {
			vals[i] = 0
			bitutil.ClearBit(validity.Bytes(), i)
			nulls++
			continue
		}
		vals[i] = r
		bitutil.SetBit(validity.Bytes(), i)
	}

	bufs := []*memory.Buffer{validity, valsBuf}
	if nulls == 0 {
		bufs[0] = nil
	}
	data := array.NewData(arrow.PrimitiveTypes.Int32, n, bufs, nil, nulls, 0)
	defer data.Release()
	return array.MakeFromData(data)
}

// assemble builds the output column from the evaluated rows. Results of a
// peeled evaluation are returned dictionary encoded over the evaluated rows
// when the options allow it, and expanded to every logical row otherwise.
func assemble(ctx context.Context, plan *evalPlan, res *evalResult, opts *TransformOptions) (arrow.Array, error) {
	list := assembleList(res)
	if !plan.peeled {
		return list, nil
	}
	defer list.Release()

	var indices arrow.Array
	if plan.reusesIndices() {
		indices = plan.dict.Indices()
		indices.Retain()
	} else {
		indices = rowOfIndices(ctx, plan.rowOf)
	}
	defer indices.Release()

	if opts.PreserveDictionary {
		dt := &arrow.DictionaryType{IndexType: indices.DataType(), ValueType: list.DataType()}
		return array.NewDictionaryArray(dt, indices, list), nil
	}
	return compute.TakeArray(computeCtx(ctx), list, indices)
}
