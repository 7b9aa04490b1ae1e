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

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/compute"
)

func checkAllValues(vals []compute.Datum) error {
	// only whole arrays and records are accepted; chunked inputs are split
	// into batches by the caller
	for _, v := range vals {
		switch v.(type) {
		case *compute.ArrayDatum, *compute.RecordDatum:
		case *compute.ChunkedDatum:
			return fmt.Errorf("%w: chunked array arguments", ErrNotImplemented)
		default:
			return fmt.Errorf("%w: tried executing function with non-value type %s", ErrInvalid, v)
		}
	}
	return nil
}

func datumType(d compute.Datum) (arrow.DataType, error) {
	switch v := d.(type) {
	case *compute.ArrayDatum:
		return v.Value.DataType(), nil
	case *compute.RecordDatum:
		return arrow.StructOf(v.Value.Schema().Fields()...), nil
	}
	return nil, fmt.Errorf("%w: no type for datum %s", ErrInvalid, d)
}

func datumTypes(args []compute.Datum) ([]arrow.DataType, error) {
	out := make([]arrow.DataType, len(args))
	for i, a := range args {
		dt, err := datumType(a)
		if err != nil {
			return nil, err
		}
		out[i] = dt
	}
	return out, nil
}

func typesToString(types []arrow.DataType) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, t := range types {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.String())
	}
	b.WriteByte(')')
	return b.String()
}

// logicalType strips a dictionary encoding, since a dictionary-wrapped
// result is an allowed representation of the declared value type.
func logicalType(dt arrow.DataType) arrow.DataType {
	if dict, ok := dt.(*arrow.DictionaryType); ok {
		return dict.ValueType
	}
	return dt
}

func checkResultType(out compute.Datum, declared arrow.DataType, funcName string) error {
	typ, err := datumType(out)
	if err != nil {
		return err
	}
	if declared != nil && !arrow.TypeEqual(logicalType(typ), logicalType(declared)) {
		return fmt.Errorf("%w: kernel type result mismatch for function '%s': declared as %s, actual is %s",
			ErrSchemaMismatch, funcName, declared, typ)
	}
	return nil
}

// ExecuteFunction validates the arguments and runs fn. When opts is nil the
// function's default options are used.
func ExecuteFunction(ctx context.Context, fn Function, args []compute.Datum, opts FunctionOptions) (compute.Datum, error) {
	if err := checkAllValues(args); err != nil {
		return nil, err
	}

	if opts == nil {
		if fn.Doc().OptionsRequired && fn.DefaultOptions() == nil {
			return nil, fmt.Errorf("%w: function '%s' cannot be called without options", ErrInvalid, fn.Name())
		}
		opts = fn.DefaultOptions()
	}

	ef, ok := fn.(ExecutableFunc)
	if !ok {
		return nil, fmt.Errorf("%w: direct execution of function '%s'", ErrNotImplemented, fn.Name())
	}
	return ef.Execute(ctx, args, opts)
}
