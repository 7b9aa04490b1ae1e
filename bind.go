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

package lambdaexec

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/zeroshade/lambdaexec/functions"
	"github.com/zeroshade/lambdaexec/lambda"
)

// BindLambda checks that every capture declared by fn names exactly one
// field of sc with the declared type.
func BindLambda(fn *lambda.Descriptor, sc *arrow.Schema) error {
	for _, p := range fn.Signature().Captures {
		path, err := compute.FieldRefName(p.Name).FindOne(sc)
		if err != nil {
			return fmt.Errorf("%w: capture '%s' of lambda '%s': %w", functions.ErrSchemaMismatch, p.Name, fn.Name(), err)
		}

		field, err := path.Get(sc)
		if err != nil {
			return fmt.Errorf("%w: capture '%s' of lambda '%s': %w", functions.ErrSchemaMismatch, p.Name, fn.Name(), err)
		}

		typ := field.Type
		if dict, ok := typ.(*arrow.DictionaryType); ok {
			typ = dict.ValueType
		}
		if !arrow.TypeEqual(typ, p.Type) {
			return fmt.Errorf("%w: lambda '%s' declares capture '%s' as %s, field is %s",
				functions.ErrSchemaMismatch, fn.Name(), p.Name, p.Type, field.Type)
		}
	}
	return nil
}

// BindNamed looks name up in reg and binds it to sc.
func BindNamed(reg *lambda.Registry, name string, sc *arrow.Schema) (*lambda.Descriptor, error) {
	fn, err := reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	if err := BindLambda(fn, sc); err != nil {
		return nil, err
	}
	return fn, nil
}
