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

// Package arraytest builds list and dictionary vectors for tests and
// compares arrays by their logical (decoded) values.
package arraytest

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/constraints"
)

type Number interface {
	constraints.Integer | constraints.Float
}

// ModN returns row -> row % n, the usual row size generator.
func ModN(n int) func(int) int {
	return func(row int) int { return row % n }
}

// NullEvery marks every n-th row (starting at 0) as null.
func NullEvery(n int) func(int) bool {
	return func(row int) bool { return row%n == 0 }
}

func NoNulls(int) bool { return false }

func appendValue(bldr array.Builder, value any) error {
	switch v := value.(type) {
	case nil:
		bldr.AppendNull()
	case bool:
		bldr.(*array.BooleanBuilder).Append(v)
	case string:
		bldr.(*array.StringBuilder).Append(v)
	case int8:
		bldr.(*array.Int8Builder).Append(v)
	case int16:
		bldr.(*array.Int16Builder).Append(v)
	case int32:
		bldr.(*array.Int32Builder).Append(v)
	case int64:
		bldr.(*array.Int64Builder).Append(v)
	case uint8:
		bldr.(*array.Uint8Builder).Append(v)
	case uint16:
		bldr.(*array.Uint16Builder).Append(v)
	case uint32:
		bldr.(*array.Uint32Builder).Append(v)
	case uint64:
		bldr.(*array.Uint64Builder).Append(v)
	case float32:
		bldr.(*array.Float32Builder).Append(v)
	case float64:
		bldr.(*array.Float64Builder).Append(v)
	default:
		return fmt.Errorf("arraytest: unsupported value type %T", value)
	}
	return nil
}

// MakeList builds a list<elem> column of size rows. Row i holds sizeAt(i)
// elements valueAt(i, 0..sizeAt(i)) unless nullAt(i). T must match elem.
func MakeList[T Number](mem memory.Allocator, elem arrow.DataType, size int, sizeAt func(int) int, valueAt func(row, k int) T, nullAt func(int) bool) *array.List {
	bldr := array.NewListBuilder(mem, elem)
	defer bldr.Release()

	vb := bldr.ValueBuilder()
	for i := 0; i < size; i++ {
		if nullAt != nil && nullAt(i) {
			bldr.AppendNull()
			continue
		}
		bldr.Append(true)
		for k := 0; k < sizeAt(i); k++ {
			if err := appendValue(vb, valueAt(i, k)); err != nil {
				panic(err)
			}
		}
	}
	return bldr.NewListArray()
}

// ListOf builds a list column from Go values; a nil row is a null row and a
// nil element is a null element.
func ListOf(mem memory.Allocator, elem arrow.DataType, rows ...[]any) *array.List {
	bldr := array.NewListBuilder(mem, elem)
	defer bldr.Release()

	vb := bldr.ValueBuilder()
	for _, r := range rows {
		if r == nil {
			bldr.AppendNull()
			continue
		}
		bldr.Append(true)
		for _, v := range r {
			if err := appendValue(vb, v); err != nil {
				panic(err)
			}
		}
	}
	return bldr.NewListArray()
}

// Column builds a flat column of n values; valueAt returning nil appends a
// null.
func Column(mem memory.Allocator, dt arrow.DataType, n int, valueAt func(int) any) arrow.Array {
	bldr := array.NewBuilder(mem, dt)
	defer bldr.Release()

	for i := 0; i < n; i++ {
		if err := appendValue(bldr, valueAt(i)); err != nil {
			panic(err)
		}
	}
	return bldr.NewArray()
}

func Reversed(n int) []int32 {
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(n - 1 - i)
	}
	return out
}

// Repeated maps logical row i to base row i/times.
func Repeated(n, times int) []int32 {
	out := make([]int32, n*times)
	for i := range out {
		out[i] = int32(i / times)
	}
	return out
}

// Encode wraps base in a dictionary with int32 indices idx. A negative index
// is a null row.
func Encode(mem memory.Allocator, base arrow.Array, idx []int32) *array.Dictionary {
	bldr := array.NewInt32Builder(mem)
	defer bldr.Release()
	for _, v := range idx {
		if v < 0 {
			bldr.AppendNull()
			continue
		}
		bldr.Append(v)
	}
	indices := bldr.NewArray()
	defer indices.Release()

	dt := &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int32, ValueType: base.DataType()}
	return array.NewDictionaryArray(dt, indices, base)
}

// Expand materializes a dictionary column; other arrays are returned with
// an extra reference.
func Expand(mem memory.Allocator, arr arrow.Array) arrow.Array {
	dict, ok := arr.(*array.Dictionary)
	if !ok {
		arr.Retain()
		return arr
	}
	ctx := compute.WithAllocator(context.Background(), mem)
	out, err := compute.TakeArray(ctx, dict.Dictionary(), dict.Indices())
	if err != nil {
		panic(err)
	}
	return out
}

// AssertLogicalEqual compares expected and actual after decoding any
// dictionary encoding, and reports the first differing row.
func AssertLogicalEqual(t assert.TestingT, mem memory.Allocator, expected, actual arrow.Array) bool {
	if h, ok := t.(interface{ Helper() }); ok {
		h.Helper()
	}

	exp, got := Expand(mem, expected), Expand(mem, actual)
	defer exp.Release()
	defer got.Release()

	if !assert.Truef(t, arrow.TypeEqual(exp.DataType(), got.DataType()), "type: expected %s, got %s", exp.DataType(), got.DataType()) ||
		!assert.Equal(t, exp.Len(), got.Len(), "length") {
		return false
	}

	for i := 0; i < exp.Len(); i++ {
		if !array.SliceEqual(exp, int64(i), int64(i+1), got, int64(i), int64(i+1)) {
			return assert.Failf(t, "row mismatch", "row %d: expected %s, got %s",
				i, rowString(exp, i), rowString(got, i))
		}
	}
	return true
}

func rowString(arr arrow.Array, i int) string {
	if arr.IsNull(i) {
		return "null"
	}
	s := array.NewSlice(arr, int64(i), int64(i+1))
	defer s.Release()
	return fmt.Sprint(s)
}
