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

import "errors"

var (
	ErrNotImplemented = errors.New("not yet implemented")
	ErrInvalid        = errors.New("invalid")

	// ErrSchemaMismatch is returned when a capture cannot be resolved or a
	// lambda's declared parameter types do not match the supplied columns.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrTypeCoercion is returned when the array element type cannot be
	// adapted to the lambda's element parameter type.
	ErrTypeCoercion = errors.New("type coercion failed")
	// ErrEvaluation wraps failures of the element evaluator. It is the only
	// error kind that lenient evaluation recovers from.
	ErrEvaluation = errors.New("evaluation failed")
	// ErrEncodingInvariant signals internally inconsistent offsets, lengths
	// or dictionary indices handed in by the engine.
	ErrEncodingInvariant = errors.New("encoding invariant violation")
)

// IsRecoverable reports whether err may be handled locally by nulling out
// the offending rows rather than failing the batch.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrEvaluation) &&
		!errors.Is(err, ErrSchemaMismatch) &&
		!errors.Is(err, ErrTypeCoercion) &&
		!errors.Is(err, ErrEncodingInvariant)
}
