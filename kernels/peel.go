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

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/go-kit/log/level"
	"github.com/zeroshade/lambdaexec/functions"
	"github.com/zeroshade/lambdaexec/lambda"
)

// evalPlan describes the rows lambdas are evaluated on. Without peeling the
// evaluation rows are the logical rows of the batch. With peeling they are
// the distinct dictionary values referenced by the batch.
type evalPlan struct {
	base *array.List
	// rows[k] is the base row read by evaluation row k, negative for a null
	// row. nil reads every base row in order.
	rows []int32
	n    int

	// set when evaluation rows are dictionary values; rowOf maps each
	// logical row to its evaluation row, negative for a null row, and reps
	// maps each evaluation row to one logical row it stands for
	peeled bool
	dict   *array.Dictionary
	rowOf  []int32
	reps   []int32

	// captures by name, one value per evaluation row
	captures map[string]arrow.Array
	// lambda index per evaluation row, nil for a uniform row map
	choice []int32
}

func (p *evalPlan) Release() {
	for _, c := range p.captures {
		c.Release()
	}
	p.captures = nil
}

// reusesIndices reports whether evaluation row k is dictionary value k for
// every k, so the input's own indices address the evaluated values.
func (p *evalPlan) reusesIndices() bool { return p.peeled && p.rows == nil }

// logicalRow returns a logical row that evaluation row k stands for.
func (p *evalPlan) logicalRow(k int) int {
	if p.reps == nil {
		return k
	}
	return int(p.reps[k])
}

func rowMapChoices(m lambda.RowMap, n int) []int32 {
	if m.IsUniform() {
		return nil
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = m.At(i)
	}
	return out
}

func planTransform(ctx context.Context, input arrow.Array, caps *captureSet, opts *TransformOptions) (*evalPlan, error) {
	switch in := input.(type) {
	case *array.List:
		plan := &evalPlan{
			base:     in,
			n:        in.Len(),
			captures: make(map[string]arrow.Array, len(caps.cols)),
			choice:   rowMapChoices(opts.Lambdas, in.Len()),
		}
		for _, c := range caps.cols {
			c.values.Retain()
			plan.captures[c.name] = c.values
		}
		return plan, nil
	case *array.Dictionary:
		base, ok := in.Dictionary().(*array.List)
		if !ok {
			return nil, fmt.Errorf("%w: dictionary values of type %s are not a list",
				functions.ErrSchemaMismatch, in.Dictionary().DataType())
		}
		return planPeel(ctx, in, base, caps, opts)
	}
	return nil, fmt.Errorf("%w: transform of %s", functions.ErrNotImplemented, input.DataType())
}

// dictIndices validates and returns the dictionary index of every logical
// row, with -1 for null rows.
func dictIndices(dict *array.Dictionary, baseLen int) ([]int32, error) {
	idx := make([]int32, dict.Len())
	for i := range idx {
		if dict.IsNull(i) {
			idx[i] = -1
			continue
		}
		v := dict.GetValueIndex(i)
		if v < 0 || v >= baseLen {
			return nil, fmt.Errorf("%w: dictionary index %d at row %d outside [0, %d)",
				functions.ErrEncodingInvariant, v, i, baseLen)
		}
		idx[i] = int32(v)
	}
	return idx, nil
}

// peelConflict returns why evaluating once per dictionary value would not
// match evaluating every logical row, or "" when peeling is safe. Two
// logical rows sharing a dictionary value must agree on their lambda and on
// every capture.
func peelConflict(idx, rep []int32, choice []int32, caps *captureSet) string {
	type capEq struct {
		name string
		eq   func(i, j int) bool
	}
	eqs := make([]capEq, 0, len(caps.cols))
	for _, c := range caps.cols {
		if c.sharedIndices {
			continue
		}
		eqs = append(eqs, capEq{c.name, rowsEqual(c.values)})
	}

	for i, b := range idx {
		if b < 0 {
			continue
		}
		j := rep[b]
		if j < 0 {
			rep[b] = int32(i)
			continue
		}
		if choice != nil && choice[i] != choice[j] {
			return fmt.Sprintf("rows %d and %d share dictionary value %d but select different lambdas", j, i, b)
		}
		for _, c := range eqs {
			if !c.eq(int(j), i) {
				return fmt.Sprintf("capture '%s' differs between rows %d and %d sharing dictionary value %d", c.name, j, i, b)
			}
		}
	}
	return ""
}

// planPeel plans evaluation of a dictionary encoded list. When every pair
// of logical rows sharing a dictionary value also shares its captures and
// lambda, each referenced dictionary value is evaluated once, with the
// captures of one of its logical rows. Otherwise every logical row is
// evaluated on its own.
func planPeel(ctx context.Context, in *array.Dictionary, base *array.List, caps *captureSet, opts *TransformOptions) (*evalPlan, error) {
	logger := functions.GetLogger(ctx)

	idx, err := dictIndices(in, base.Len())
	if err != nil {
		return nil, err
	}
	choice := rowMapChoices(opts.Lambdas, in.Len())

	reason := "disabled by options"
	rep := make([]int32, base.Len())
	if opts.Peel != PeelNever {
		for b := range rep {
			rep[b] = -1
		}
		reason = peelConflict(idx, rep, choice, caps)
	}

	if reason != "" {
		level.Debug(logger).Log("msg", "evaluating dictionary encoded list without peeling",
			"reason", reason, "rows", in.Len(), "dictionary_len", base.Len())

		plan := &evalPlan{
			base:     base,
			rows:     idx,
			n:        len(idx),
			captures: make(map[string]arrow.Array, len(caps.cols)),
			choice:   choice,
		}
		for _, c := range caps.cols {
			c.values.Retain()
			plan.captures[c.name] = c.values
		}
		return plan, nil
	}

	var (
		evalRows = make([]int32, 0, base.Len())
		reps     = make([]int32, 0, base.Len())
		pos      = make([]int32, base.Len())
	)
	for b, r := range rep {
		if r < 0 {
			continue
		}
		pos[b] = int32(len(evalRows))
		evalRows = append(evalRows, int32(b))
		reps = append(reps, r)
	}

	rowOf := make([]int32, len(idx))
	for i, b := range idx {
		rowOf[i] = -1
		if b >= 0 {
			rowOf[i] = pos[b]
		}
	}

	plan := &evalPlan{
		base:     base,
		rows:     evalRows,
		n:        len(evalRows),
		peeled:   true,
		dict:     in,
		rowOf:    rowOf,
		reps:     reps,
		captures: make(map[string]arrow.Array, len(caps.cols)),
	}
	if len(evalRows) == base.Len() {
		plan.rows = nil
	}
	if choice != nil {
		plan.choice = make([]int32, len(reps))
		for k, r := range reps {
			plan.choice[k] = choice[r]
		}
	}

	if len(caps.cols) > 0 {
		kctx := kernelCtx(ctx)
		buf, vals := allocInt32(kctx, len(reps))
		copy(vals, reps)
		repArr := int32Array(buf, len(reps))
		buf.Release()
		defer repArr.Release()

		for _, c := range caps.cols {
			aligned, err := compute.TakeArray(computeCtx(ctx), c.values, repArr)
			if err != nil {
				plan.Release()
				return nil, err
			}
			plan.captures[c.name] = aligned
		}
	}

	level.Debug(logger).Log("msg", "peeled dictionary encoded list",
		"rows", in.Len(), "dictionary_len", base.Len(), "evaluated_rows", len(evalRows))
	return plan, nil
}

type nullValuer[T comparable] interface {
	IsNull(int) bool
	Value(int) T
}

func valuesEqual[T comparable](arr nullValuer[T]) func(i, j int) bool {
	return func(i, j int) bool {
		ni, nj := arr.IsNull(i), arr.IsNull(j)
		if ni || nj {
			return ni == nj
		}
		return arr.Value(i) == arr.Value(j)
	}
}

// rowsEqual returns an equality test between two rows of arr.
func rowsEqual(arr arrow.Array) func(i, j int) bool {
	switch a := arr.(type) {
	case *array.Int8:
		return valuesEqual[int8](a)
	case *array.Int16:
		return valuesEqual[int16](a)
	case *array.Int32:
		return valuesEqual[int32](a)
	case *array.Int64:
		return valuesEqual[int64](a)
	case *array.Uint8:
		return valuesEqual[uint8](a)
	case *array.Uint16:
		return valuesEqual[uint16](a)
	case *array.Uint32:
		return valuesEqual[uint32](a)
	case *array.Uint64:
		return valuesEqual[uint64](a)
	case *array.Float32:
		return valuesEqual[float32](a)
	case *array.Float64:
		return valuesEqual[float64](a)
	case *array.Boolean:
		return valuesEqual[bool](a)
	case *array.String:
		return valuesEqual[string](a)
	}
	return func(i, j int) bool {
		return array.SliceEqual(arr, int64(i), int64(i+1), arr, int64(j), int64(j+1))
	}
}
