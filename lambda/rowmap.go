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

package lambda

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/zeroshade/lambdaexec/functions"
)

// Undefined marks a row for which no lambda was selected.
const Undefined int32 = -1

// RowMap assigns a lambda to every row of a batch. Rows are grouped by the
// index of their lambda in Lambdas, and Lambdas never holds the same
// Descriptor twice.
type RowMap struct {
	lambdas []*Descriptor
	// nil when every row uses lambdas[0]
	choice []int32
}

// Uniform applies d to every row, whatever the batch length.
func Uniform(d *Descriptor) RowMap {
	if d == nil {
		return RowMap{}
	}
	return RowMap{lambdas: []*Descriptor{d}}
}

// NewRowMap builds a per-row mapping. choice[i] indexes lambdas, or is
// Undefined. Repeated descriptors are merged so each appears once.
func NewRowMap(lambdas []*Descriptor, choice []int32) (RowMap, error) {
	var (
		uniq  = make([]*Descriptor, 0, len(lambdas))
		remap = make([]int32, len(lambdas))
		pos   = make(map[*Descriptor]int32, len(lambdas))
	)
	for i, d := range lambdas {
		if d == nil {
			return RowMap{}, fmt.Errorf("%w: nil lambda at position %d", functions.ErrInvalid, i)
		}
		p, ok := pos[d]
		if !ok {
			p = int32(len(uniq))
			pos[d] = p
			uniq = append(uniq, d)
		}
		remap[i] = p
	}

	out := make([]int32, len(choice))
	for i, c := range choice {
		switch {
		case c == Undefined:
			out[i] = Undefined
		case c < 0 || int(c) >= len(lambdas):
			return RowMap{}, fmt.Errorf("%w: row %d selects lambda %d of %d", functions.ErrInvalid, i, c, len(lambdas))
		default:
			out[i] = remap[c]
		}
	}
	return RowMap{lambdas: uniq, choice: out}, nil
}

// Select chooses ifTrue for rows where cond is true and ifFalse otherwise.
// A null condition selects ifFalse.
func Select(cond *array.Boolean, ifTrue, ifFalse *Descriptor) (RowMap, error) {
	if ifTrue == ifFalse {
		return Uniform(ifTrue), nil
	}

	choice := make([]int32, cond.Len())
	for i := range choice {
		if cond.IsNull(i) || !cond.Value(i) {
			choice[i] = 1
		}
	}
	return NewRowMap([]*Descriptor{ifTrue, ifFalse}, choice)
}

// Switch selects lambdas[sel[i]] for row i. Null or out of range selectors
// leave the row Undefined.
func Switch(sel *array.Int32, lambdas ...*Descriptor) (RowMap, error) {
	choice := make([]int32, sel.Len())
	for i := range choice {
		v := sel.Value(i)
		if sel.IsNull(i) || v < 0 || int(v) >= len(lambdas) {
			choice[i] = Undefined
			continue
		}
		choice[i] = v
	}
	return NewRowMap(lambdas, choice)
}

func (m RowMap) Lambdas() []*Descriptor { return m.lambdas }
func (m RowMap) IsUniform() bool        { return m.choice == nil }
func (m RowMap) Empty() bool            { return len(m.lambdas) == 0 }

// Len is the number of rows mapped, or -1 for a uniform mapping.
func (m RowMap) Len() int {
	if m.choice == nil {
		return -1
	}
	return len(m.choice)
}

// At returns the lambda index chosen for row i.
func (m RowMap) At(i int) int32 {
	if m.choice == nil {
		return 0
	}
	return m.choice[i]
}
