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
	"github.com/zeroshade/lambdaexec/functions"
	"github.com/zeroshade/lambdaexec/lambda"
)

// captureColumn is a capture resolved against the batch, decoded to one
// value per logical row.
type captureColumn struct {
	name   string
	values arrow.Array
	// set when the capture was dictionary encoded with the same indices as
	// the array argument, so rows sharing a dictionary value share the
	// capture value too
	sharedIndices bool
}

type captureSet struct {
	cols   []*captureColumn
	byName map[string]*captureColumn
}

func (c *captureSet) Release() {
	for _, col := range c.cols {
		col.values.Release()
	}
	c.cols, c.byName = nil, nil
}

// sharesIndices reports whether two dictionary columns select their values
// through the same index sequence. Columns built on the same indices buffer
// are recognized without comparing values.
func sharesIndices(a, b *array.Dictionary) bool {
	ai, bi := a.Indices(), b.Indices()
	if ai.Len() != bi.Len() || !arrow.TypeEqual(ai.DataType(), bi.DataType()) {
		return false
	}

	ad, bd := ai.Data(), bi.Data()
	if ad.Offset() == bd.Offset() &&
		ad.Buffers()[0] == bd.Buffers()[0] &&
		ad.Buffers()[1] == bd.Buffers()[1] {
		return true
	}
	return array.Equal(ai, bi)
}

func decodeDictionary(ctx context.Context, dict *array.Dictionary) (arrow.Array, error) {
	out, err := compute.TakeArray(ctx, dict.Dictionary(), dict.Indices())
	if err != nil {
		return nil, fmt.Errorf("%w: decoding dictionary: %w", functions.ErrEncodingInvariant, err)
	}
	return out, nil
}

func logicalType(dt arrow.DataType) arrow.DataType {
	if d, ok := dt.(*arrow.DictionaryType); ok {
		return d.ValueType
	}
	return dt
}

// resolveCaptures looks up every capture declared by lambdas in rec and
// checks it against the declared parameter type.
func resolveCaptures(ctx context.Context, rec arrow.Record, lambdas []*lambda.Descriptor, input arrow.Array) (*captureSet, error) {
	set := &captureSet{byName: make(map[string]*captureColumn)}
	inputDict, _ := input.(*array.Dictionary)

	for _, d := range lambdas {
		for _, p := range d.Signature().Captures {
			if col, ok := set.byName[p.Name]; ok {
				if !arrow.TypeEqual(col.values.DataType(), p.Type) {
					set.Release()
					return nil, fmt.Errorf("%w: lambda '%s' declares capture '%s' as %s, column is %s",
						functions.ErrSchemaMismatch, d.Name(), p.Name, p.Type, col.values.DataType())
				}
				continue
			}

			col, err := resolveCapture(ctx, rec, d, p, inputDict, input.Len())
			if err != nil {
				set.Release()
				return nil, err
			}
			set.cols = append(set.cols, col)
			set.byName[p.Name] = col
		}
	}
	return set, nil
}

func resolveCapture(ctx context.Context, rec arrow.Record, d *lambda.Descriptor, p lambda.Param, inputDict *array.Dictionary, nrows int) (*captureColumn, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: lambda '%s' captures '%s' but no capture columns were supplied",
			functions.ErrSchemaMismatch, d.Name(), p.Name)
	}

	indices := rec.Schema().FieldIndices(p.Name)
	switch len(indices) {
	case 0:
		return nil, fmt.Errorf("%w: capture '%s' of lambda '%s' not found in %s",
			functions.ErrSchemaMismatch, p.Name, d.Name(), rec.Schema())
	case 1:
	default:
		return nil, fmt.Errorf("%w: capture '%s' of lambda '%s' is ambiguous",
			functions.ErrSchemaMismatch, p.Name, d.Name())
	}

	if int(rec.NumRows()) != nrows {
		return nil, fmt.Errorf("%w: capture columns have %d rows, array argument has %d",
			functions.ErrEncodingInvariant, rec.NumRows(), nrows)
	}

	col := rec.Column(indices[0])
	if !arrow.TypeEqual(logicalType(col.DataType()), p.Type) {
		return nil, fmt.Errorf("%w: lambda '%s' declares capture '%s' as %s, column is %s",
			functions.ErrSchemaMismatch, d.Name(), p.Name, p.Type, col.DataType())
	}

	dict, ok := col.(*array.Dictionary)
	if !ok {
		col.Retain()
		return &captureColumn{name: p.Name, values: col}, nil
	}

	values, err := decodeDictionary(ctx, dict)
	if err != nil {
		return nil, err
	}
	return &captureColumn{
		name:          p.Name,
		values:        values,
		sharedIndices: inputDict != nil && sharesIndices(inputDict, dict),
	}, nil
}

// BindCaptures repeats the value of each row of caps once per element the
// row owns in flat. caps must hold one value per row of flat. The caller
// releases the returned arrays.
func BindCaptures(ctx context.Context, flat *Flattened, caps []arrow.Array) ([]arrow.Array, error) {
	if len(caps) == 0 {
		return nil, nil
	}

	rowIndex := flat.RowIndexArray()
	defer rowIndex.Release()

	out := make([]arrow.Array, 0, len(caps))
	for i, c := range caps {
		if c.Len() != flat.NumRows() {
			releaseAll(out)
			return nil, fmt.Errorf("%w: capture %d has %d rows, expected %d",
				functions.ErrEncodingInvariant, i, c.Len(), flat.NumRows())
		}

		bcast, err := compute.TakeArray(computeCtx(ctx), c, rowIndex)
		if err != nil {
			releaseAll(out)
			return nil, err
		}
		out = append(out, bcast)
	}
	return out, nil
}

// checkElementType reports whether list elements of type from can be handed
// to a lambda expecting to.
func checkElementType(d *lambda.Descriptor, from arrow.DataType) error {
	to := d.Signature().Element.Type
	if arrow.TypeEqual(from, to) || compute.CanCast(from, to) {
		return nil
	}
	return fmt.Errorf("%w: lambda '%s' expects elements of type %s, array holds %s",
		functions.ErrTypeCoercion, d.Name(), to, from)
}

func coerceElements(ctx context.Context, d *lambda.Descriptor, elems arrow.Array) (arrow.Array, error) {
	to := d.Signature().Element.Type
	if arrow.TypeEqual(elems.DataType(), to) {
		elems.Retain()
		return elems, nil
	}

	out, err := compute.CastArray(computeCtx(ctx), elems, compute.SafeCastOptions(to))
	if err != nil {
		return nil, fmt.Errorf("%w: casting elements for lambda '%s' to %s: %w",
			functions.ErrTypeCoercion, d.Name(), to, err)
	}
	return out, nil
}

func releaseAll(arrs []arrow.Array) {
	for _, a := range arrs {
		if a != nil {
			a.Release()
		}
	}
}
