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
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/bitutil"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/zeroshade/lambdaexec/functions"
)

// Flattened is a list column reduced to the elements of its valid rows,
// together with the row each element belongs to. Row k owns
// Elements[Offsets[k]:Offsets[k+1]]; null rows own nothing.
type Flattened struct {
	Elements arrow.Array
	// RowIndex[j] is the row owning Elements[j].
	RowIndex []int32
	Offsets  []int32

	NullCount int

	rowIndex *memory.Buffer
	offsets  *memory.Buffer
	// nil when NullCount == 0
	validity *memory.Buffer
}

func (f *Flattened) NumRows() int     { return len(f.Offsets) - 1 }
func (f *Flattened) NumElements() int { return f.Elements.Len() }

func (f *Flattened) IsValid(k int) bool {
	return f.validity == nil || bitutil.BitIsSet(f.validity.Bytes(), k)
}

// RowLen is the number of elements owned by row k.
func (f *Flattened) RowLen(k int) int { return int(f.Offsets[k+1] - f.Offsets[k]) }

// RowIndexArray returns RowIndex as an int32 array sharing its buffer.
func (f *Flattened) RowIndexArray() arrow.Array {
	return int32Array(f.rowIndex, len(f.RowIndex))
}

func (f *Flattened) Release() {
	for _, b := range []*memory.Buffer{f.rowIndex, f.offsets, f.validity} {
		if b != nil {
			b.Release()
		}
	}
	if f.Elements != nil {
		f.Elements.Release()
	}
	*f = Flattened{}
}

func kernelCtx(ctx context.Context) *functions.KernelCtx {
	if kctx := functions.GetKernelCtx(ctx); kctx != nil {
		return kctx
	}
	return &functions.KernelCtx{Ctx: functions.GetExecCtx(ctx)}
}

func allocInt32(kctx *functions.KernelCtx, n int) (*memory.Buffer, []int32) {
	buf := kctx.Allocate(arrow.Int32Traits.BytesRequired(n))
	return buf, arrow.Int32Traits.CastFromBytes(buf.Bytes())[:n]
}

// int32Array views the first n values of buf as an int32 array with no
// nulls. The array holds its own reference to buf.
func int32Array(buf *memory.Buffer, n int) arrow.Array {
	data := array.NewData(arrow.PrimitiveTypes.Int32, n, []*memory.Buffer{nil, buf}, nil, 0, 0)
	defer data.Release()
	return array.MakeFromData(data)
}

// Flatten extracts the elements of list. Row k of the result is list row
// rows[k], or a null row when rows[k] < 0; a nil rows selects every list row
// in order. Selections that read one contiguous element range are sliced
// without copying, anything else is gathered with a take.
func Flatten(ctx context.Context, list *array.List, rows []int32) (*Flattened, error) {
	n := list.Len()
	if rows != nil {
		n = len(rows)
	}

	var (
		kctx     = kernelCtx(ctx)
		childLen = int64(list.ListValues().Len())
		out      = &Flattened{}
	)

	out.offsets, out.Offsets = allocInt32(kctx, n+1)
	out.validity = kctx.AllocateBitmap(int64(n))
	valid := out.validity.Bytes()

	var (
		total            int64
		first, last      int64 = -1, -1
		contiguous             = true
		selectedNonempty       = 0
	)

	out.Offsets[0] = 0
	for k := 0; k < n; k++ {
		r := k
		if rows != nil {
			r = int(rows[k])
		}

		if r >= list.Len() {
			out.Release()
			return nil, fmt.Errorf("%w: row %d selects list row %d of %d", functions.ErrEncodingInvariant, k, r, list.Len())
		}

		if r < 0 || list.IsNull(r) {
			bitutil.ClearBit(valid, k)
			out.NullCount++
			out.Offsets[k+1] = int32(total)
			continue
		}
		bitutil.SetBit(valid, k)

		beg, end := list.ValueOffsets(r)
		if beg < 0 || end < beg || end > childLen {
			out.Release()
			return nil, fmt.Errorf("%w: list row %d spans [%d, %d) of %d elements",
				functions.ErrEncodingInvariant, r, beg, end, childLen)
		}

		if end > beg {
			if selectedNonempty > 0 && beg != last {
				contiguous = false
			}
			if first < 0 {
				first = beg
			}
			last = end
			selectedNonempty++
		}

		total += end - beg
		if total > math.MaxInt32 {
			out.Release()
			return nil, fmt.Errorf("%w: flattened elements exceed int32 list offsets", functions.ErrInvalid)
		}
		out.Offsets[k+1] = int32(total)
	}

	if out.NullCount == 0 {
		out.validity.Release()
		out.validity = nil
	}

	out.rowIndex, out.RowIndex = allocInt32(kctx, int(total))
	for k := 0; k < n; k++ {
		for j := out.Offsets[k]; j < out.Offsets[k+1]; j++ {
			out.RowIndex[j] = int32(k)
		}
	}

	child := list.ListValues()
	switch {
	case total == 0:
		out.Elements = array.NewSlice(child, 0, 0)
	case contiguous:
		out.Elements = array.NewSlice(child, first, last)
	default:
		idxBuf, idx := allocInt32(kctx, int(total))
		pos := 0
		for k := 0; k < n; k++ {
			if out.RowLen(k) == 0 {
				continue
			}
			r := k
			if rows != nil {
				r = int(rows[k])
			}
			beg, end := list.ValueOffsets(r)
			for e := beg; e < end; e++ {
				idx[pos] = int32(e)
				pos++
			}
		}

		indices := int32Array(idxBuf, int(total))
		idxBuf.Release()
		defer indices.Release()

		var err error
		out.Elements, err = compute.TakeArray(computeCtx(ctx), child, indices)
		if err != nil {
			out.Release()
			return nil, err
		}
	}
	return out, nil
}

func computeCtx(ctx context.Context) context.Context {
	return compute.WithAllocator(ctx, functions.GetAllocator(ctx))
}
