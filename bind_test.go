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

package lambdaexec_test

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeroshade/lambdaexec"
	"github.com/zeroshade/lambdaexec/functions"
	"github.com/zeroshade/lambdaexec/lambda"
)

func TestBindLambda(t *testing.T) {
	var reg lambda.Registry
	_, err := reg.Register("plus", lambda.Signature{
		Element:  xInt64,
		Captures: []lambda.Param{{Name: "c0", Type: arrow.PrimitiveTypes.Int16}},
		Result:   arrow.PrimitiveTypes.Int64,
	}, lambda.Call("add", lambda.Elem(), lambda.Capture(0)))
	require.NoError(t, err)

	tests := []struct {
		name   string
		fields []arrow.Field
		err    error
	}{
		{"exact", []arrow.Field{{Name: "c0", Type: arrow.PrimitiveTypes.Int16}}, nil},
		{"dictionary encoded", []arrow.Field{{Name: "c0", Type: &arrow.DictionaryType{
			IndexType: arrow.PrimitiveTypes.Int32, ValueType: arrow.PrimitiveTypes.Int16}}}, nil},
		{"missing", []arrow.Field{{Name: "c1", Type: arrow.PrimitiveTypes.Int16}}, functions.ErrSchemaMismatch},
		{"ambiguous", []arrow.Field{
			{Name: "c0", Type: arrow.PrimitiveTypes.Int16},
			{Name: "c0", Type: arrow.PrimitiveTypes.Int16},
		}, functions.ErrSchemaMismatch},
		{"wrong type", []arrow.Field{{Name: "c0", Type: arrow.PrimitiveTypes.Int64}}, functions.ErrSchemaMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := lambdaexec.BindNamed(&reg, "plus", arrow.NewSchema(tt.fields, nil))
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "plus", fn.Name())
		})
	}

	_, err = lambdaexec.BindNamed(&reg, "minus", arrow.NewSchema(nil, nil))
	assert.ErrorIs(t, err, functions.ErrSchemaMismatch)
}

func TestCallUnknownFunction(t *testing.T) {
	_, err := lambdaexec.CallFunction(context.Background(), "filter", nil, nil)
	assert.ErrorIs(t, err, functions.ErrInvalid)
}

func TestDefaultRegistry(t *testing.T) {
	assert.Equal(t, []string{"transform"}, lambdaexec.DefaultExecCtx().Registry.GetFunctionNames())
}
