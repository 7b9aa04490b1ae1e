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
	"sort"
	"sync"

	"github.com/zeroshade/lambdaexec/functions"
)

// Registry is a name to definition table used to build descriptors. The
// transform kernel never consults it: callers resolve names up front and
// pass descriptors.
type Registry struct {
	defs sync.Map
}

// Register defines a lambda under name and returns its descriptor. A name can
// only be defined once.
func (r *Registry) Register(name string, sig Signature, body Evaluator) (*Descriptor, error) {
	d, err := New(name, sig, body)
	if err != nil {
		return nil, err
	}

	if _, loaded := r.defs.LoadOrStore(name, d); loaded {
		return nil, fmt.Errorf("%w: lambda '%s' is already registered", functions.ErrInvalid, name)
	}
	return d, nil
}

// Lookup returns the descriptor registered under name. Repeated lookups
// return the same descriptor.
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	if d, ok := r.defs.Load(name); ok {
		return d.(*Descriptor), nil
	}
	return nil, fmt.Errorf("%w: no lambda registered with name: %s", functions.ErrSchemaMismatch, name)
}

func (r *Registry) Names() []string {
	out := make([]string, 0)
	r.defs.Range(func(key, _ any) bool {
		out = append(out, key.(string))
		return true
	})
	sort.Strings(out)
	return out
}
