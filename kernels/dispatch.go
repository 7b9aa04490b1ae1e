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
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/bitutil"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log/level"
	"github.com/zeroshade/lambdaexec/functions"
	"github.com/zeroshade/lambdaexec/internal/debug"
	"github.com/zeroshade/lambdaexec/lambda"
)

// evalResult holds the evaluated elements of n evaluation rows, laid out as
// a list: row k owns values[offsets[k]:offsets[k+1]].
type evalResult struct {
	values   arrow.Array
	offsets  *memory.Buffer
	validity *memory.Buffer
	nulls    int
	n        int
}

func (r *evalResult) Release() {
	if r.values != nil {
		r.values.Release()
	}
	if r.offsets != nil {
		r.offsets.Release()
	}
	if r.validity != nil {
		r.validity.Release()
	}
	*r = evalResult{}
}

func (r *evalResult) Offsets() []int32 {
	return arrow.Int32Traits.CastFromBytes(r.offsets.Bytes())[:r.n+1]
}

func (r *evalResult) IsValid(k int) bool {
	return r.validity == nil || bitutil.BitIsSet(r.validity.Bytes(), k)
}

// group is the set of evaluation rows that selected one lambda.
type group struct {
	plan *evalPlan
	fn   *lambda.Descriptor
	// evaluation rows of the group in ascending order, nil for all rows
	sel []uint32
}

func (g *group) evalRow(k int) int {
	if g.sel == nil {
		return k
	}
	return int(g.sel[k])
}

func emptyArray(mem memory.Allocator, dt arrow.DataType) arrow.Array {
	bldr := array.NewBuilder(mem, dt)
	defer bldr.Release()
	return bldr.NewArray()
}

// dispatch partitions the evaluation rows of plan by selected lambda,
// evaluates every partition and merges the results back into row order.
func dispatch(ctx context.Context, plan *evalPlan, lambdas []*lambda.Descriptor, opts *TransformOptions) (*evalResult, error) {
	if plan.choice == nil || plan.n == 0 {
		return evalGroup(ctx, &group{plan: plan, fn: lambdas[0]}, opts)
	}

	parts := make([]*roaring.Bitmap, len(lambdas))
	for k, c := range plan.choice {
		if c == lambda.Undefined {
			return nil, fmt.Errorf("%w: no lambda selected for row %d", functions.ErrSchemaMismatch, plan.logicalRow(k))
		}
		if parts[c] == nil {
			parts[c] = roaring.New()
		}
		parts[c].Add(uint32(k))
	}

	var only = -1
	for c, bm := range parts {
		if bm == nil {
			continue
		}
		if only >= 0 {
			only = -1
			break
		}
		only = c
	}
	if only >= 0 {
		return evalGroup(ctx, &group{plan: plan, fn: lambdas[only]}, opts)
	}

	logger := functions.GetLogger(ctx)
	results := make([]*evalResult, len(lambdas))
	defer func() {
		for _, r := range results {
			if r != nil {
				r.Release()
			}
		}
	}()

	for c, bm := range parts {
		if bm == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		level.Debug(logger).Log("msg", "evaluating lambda group", "lambda", lambdas[c].Name(),
			"rows", bm.GetCardinality(), "of", plan.n)

		res, err := evalGroup(ctx, &group{plan: plan, fn: lambdas[c], sel: bm.ToArray()}, opts)
		if err != nil {
			return nil, err
		}
		results[c] = res
	}
	return mergeGroups(ctx, plan, results)
}

func evalGroup(ctx context.Context, g *group, opts *TransformOptions) (*evalResult, error) {
	var (
		kctx     = kernelCtx(ctx)
		baseRows = g.plan.rows
		selArr   arrow.Array
	)

	if g.sel != nil {
		buf, sel := allocInt32(kctx, len(g.sel))
		baseRows = make([]int32, len(g.sel))
		for i, k := range g.sel {
			sel[i] = int32(k)
			baseRows[i] = int32(k)
			if g.plan.rows != nil {
				baseRows[i] = g.plan.rows[k]
			}
		}
		selArr = int32Array(buf, len(g.sel))
		buf.Release()
		defer selArr.Release()
	}

	flat, err := Flatten(ctx, g.plan.base, baseRows)
	if err != nil {
		return nil, err
	}
	defer flat.Release()

	params := g.fn.Signature().Captures
	caps := make([]arrow.Array, 0, len(params))
	defer func() { releaseAll(caps) }()
	for _, p := range params {
		col := g.plan.captures[p.Name]
		if selArr == nil {
			col.Retain()
			caps = append(caps, col)
			continue
		}
		part, err := compute.TakeArray(computeCtx(ctx), col, selArr)
		if err != nil {
			return nil, err
		}
		caps = append(caps, part)
	}

	values, err := evalElements(ctx, g.fn, flat, caps)
	if err == nil {
		res := &evalResult{values: values, offsets: flat.offsets, validity: flat.validity, nulls: flat.NullCount, n: flat.NumRows()}
		res.offsets.Retain()
		if res.validity != nil {
			res.validity.Retain()
		}
		return res, nil
	}

	if opts.Policy != EvalLenient || !functions.IsRecoverable(err) {
		return nil, g.rowError(flat, err)
	}
	return evalRows(ctx, g, flat, caps)
}

func (g *group) rowError(flat *Flattened, err error) error {
	var elemErr *lambda.ElementError
	if errors.As(err, &elemErr) && elemErr.Position >= 0 && elemErr.Position < len(flat.RowIndex) {
		k := g.evalRow(int(flat.RowIndex[elemErr.Position]))
		return fmt.Errorf("transform: row %d: %w", g.plan.logicalRow(k), err)
	}
	return fmt.Errorf("transform: %w", err)
}

// evalElements evaluates fn over every element of flat. caps hold one value
// per row of flat.
func evalElements(ctx context.Context, fn *lambda.Descriptor, flat *Flattened, caps []arrow.Array) (arrow.Array, error) {
	if flat.NumElements() == 0 {
		return emptyArray(functions.GetAllocator(ctx), fn.Signature().Result), nil
	}

	elems, err := coerceElements(ctx, fn, flat.Elements)
	if err != nil {
		return nil, err
	}
	defer elems.Release()

	bound, err := BindCaptures(ctx, flat, caps)
	if err != nil {
		return nil, err
	}
	defer releaseAll(bound)

	return fn.Evaluate(ctx, lambda.Args{Elements: elems, Captures: bound})
}

// evalRows evaluates each row of flat on its own and turns the rows whose
// evaluation fails into null rows.
func evalRows(ctx context.Context, g *group, flat *Flattened, caps []arrow.Array) (*evalResult, error) {
	var (
		kctx     = kernelCtx(ctx)
		n        = flat.NumRows()
		parts    = make([]arrow.Array, 0, n)
		failed   []int
		firstErr error
	)
	defer func() { releaseAll(parts) }()

	res := &evalResult{n: n}
	var offsets []int32
	res.offsets, offsets = allocInt32(kctx, n+1)
	res.validity = kctx.AllocateBitmap(int64(n))
	valid := res.validity.Bytes()

	offsets[0] = 0
	for k := 0; k < n; k++ {
		if err := ctx.Err(); err != nil {
			res.Release()
			return nil, err
		}

		offsets[k+1] = offsets[k]
		if !flat.IsValid(k) {
			bitutil.ClearBit(valid, k)
			res.nulls++
			continue
		}
		bitutil.SetBit(valid, k)
		if flat.RowLen(k) == 0 {
			continue
		}

		vals, err := evalRow(ctx, g.fn, flat, caps, k)
		switch {
		case err == nil:
			parts = append(parts, vals)
			offsets[k+1] += int32(vals.Len())
		case functions.IsRecoverable(err):
			bitutil.ClearBit(valid, k)
			res.nulls++
			failed = append(failed, g.plan.logicalRow(g.evalRow(k)))
			if firstErr == nil {
				firstErr = err
			}
		default:
			res.Release()
			return nil, g.rowError(flat, err)
		}
	}

	if len(failed) > 0 {
		level.Warn(functions.GetLogger(ctx)).Log("msg", "lenient evaluation nulled rows",
			"lambda", g.fn.Name(), "rows", len(failed), "first_row", failed[0], "err", firstErr)
	}

	var err error
	switch len(parts) {
	case 0:
		res.values = emptyArray(functions.GetAllocator(ctx), g.fn.Signature().Result)
	case 1:
		parts[0].Retain()
		res.values = parts[0]
	default:
		res.values, err = array.Concatenate(parts, functions.GetAllocator(ctx))
	}
	if err != nil {
		res.Release()
		return nil, err
	}
	return res, nil
}

func evalRow(ctx context.Context, fn *lambda.Descriptor, flat *Flattened, caps []arrow.Array, k int) (arrow.Array, error) {
	kctx := kernelCtx(ctx)
	beg, end := int64(flat.Offsets[k]), int64(flat.Offsets[k+1])

	row := &Flattened{Elements: array.NewSlice(flat.Elements, beg, end)}
	row.offsets, row.Offsets = allocInt32(kctx, 2)
	row.Offsets[0], row.Offsets[1] = 0, int32(end-beg)
	row.rowIndex, row.RowIndex = allocInt32(kctx, int(end-beg))
	for j := range row.RowIndex {
		row.RowIndex[j] = 0
	}
	defer row.Release()

	rowCaps := make([]arrow.Array, len(caps))
	for i, c := range caps {
		rowCaps[i] = array.NewSlice(c, int64(k), int64(k+1))
	}
	defer releaseAll(rowCaps)

	return evalElements(ctx, fn, row, rowCaps)
}

// mergeGroups interleaves per-group results back into evaluation row
// order.
func mergeGroups(ctx context.Context, plan *evalPlan, results []*evalResult) (*evalResult, error) {
	var (
		kctx   = kernelCtx(ctx)
		mem    = functions.GetAllocator(ctx)
		parts  = make([]arrow.Array, 0, len(results))
		start  = make([]int32, len(results))
		offs   = make([][]int32, len(results))
		cursor = make([]int, len(results))
		total  int32
	)
	for c, r := range results {
		if r == nil {
			continue
		}
		start[c] = total
		offs[c] = r.Offsets()
		total += int32(r.values.Len())
		parts = append(parts, r.values)
	}

	concat, err := array.Concatenate(parts, mem)
	if err != nil {
		return nil, err
	}
	defer concat.Release()

	res := &evalResult{n: plan.n}
	var offsets []int32
	res.offsets, offsets = allocInt32(kctx, plan.n+1)
	res.validity = kctx.AllocateBitmap(int64(plan.n))
	valid := res.validity.Bytes()

	permBuf, perm := allocInt32(kctx, int(total))
	defer permBuf.Release()

	offsets[0] = 0
	for k, c := range plan.choice {
		r, p := results[c], cursor[c]
		cursor[c]++

		lo, hi := offs[c][p], offs[c][p+1]
		for e := lo; e < hi; e++ {
			perm[offsets[k]+e-lo] = start[c] + e
		}
		offsets[k+1] = offsets[k] + hi - lo

		if r.IsValid(p) {
			bitutil.SetBit(valid, k)
		} else {
			bitutil.ClearBit(valid, k)
			res.nulls++
		}
	}
	debug.Assert(offsets[plan.n] == total, "merged offsets do not cover every group value")
	permArr := int32Array(permBuf, len(perm))
	defer permArr.Release()
	res.values, err = compute.TakeArray(computeCtx(ctx), concat, permArr)
	if err != nil {
		res.Release()
		return nil, err
	}
	return res, nil
}
