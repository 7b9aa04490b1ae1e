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
	"flag"
	"fmt"

	"github.com/zeroshade/lambdaexec/functions"
	"github.com/zeroshade/lambdaexec/lambda"
	"gopkg.in/yaml.v3"
)

// EvalPolicy decides what happens when the element evaluator fails.
type EvalPolicy int8

const (
	// EvalStrict fails the whole batch.
	EvalStrict EvalPolicy = iota
	// EvalLenient turns the rows whose elements failed into null rows.
	EvalLenient
)

func (p EvalPolicy) String() string {
	switch p {
	case EvalStrict:
		return "strict"
	case EvalLenient:
		return "lenient"
	}
	return fmt.Sprintf("EvalPolicy(%d)", int8(p))
}

func (p *EvalPolicy) Set(s string) error {
	switch s {
	case "strict":
		*p = EvalStrict
	case "lenient":
		*p = EvalLenient
	default:
		return fmt.Errorf("%w: unknown evaluation policy %q, expected strict or lenient", functions.ErrInvalid, s)
	}
	return nil
}

func (p EvalPolicy) MarshalYAML() (any, error) { return p.String(), nil }

func (p *EvalPolicy) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return p.Set(s)
}

// PeelStrategy controls dictionary peeling of the array argument.
type PeelStrategy int8

const (
	// PeelAuto evaluates once per referenced dictionary value whenever the
	// captures allow it.
	PeelAuto PeelStrategy = iota
	// PeelNever always evaluates every logical row.
	PeelNever
)

func (s PeelStrategy) String() string {
	switch s {
	case PeelAuto:
		return "auto"
	case PeelNever:
		return "never"
	}
	return fmt.Sprintf("PeelStrategy(%d)", int8(s))
}

func (s *PeelStrategy) Set(v string) error {
	switch v {
	case "auto":
		*s = PeelAuto
	case "never":
		*s = PeelNever
	default:
		return fmt.Errorf("%w: unknown peel strategy %q, expected auto or never", functions.ErrInvalid, v)
	}
	return nil
}

func (s PeelStrategy) MarshalYAML() (any, error) { return s.String(), nil }

func (s *PeelStrategy) UnmarshalYAML(value *yaml.Node) error {
	var v string
	if err := value.Decode(&v); err != nil {
		return err
	}
	return s.Set(v)
}

// TransformOptions configures the transform function. Lambdas is the
// callable, and is supplied by the caller for every invocation.
type TransformOptions struct {
	Policy             EvalPolicy   `yaml:"policy"`
	Peel               PeelStrategy `yaml:"peel"`
	PreserveDictionary bool         `yaml:"preserve_dictionary"`

	Lambdas lambda.RowMap `yaml:"-"`
}

func DefaultTransformOptions() *TransformOptions {
	return &TransformOptions{Policy: EvalStrict, Peel: PeelAuto, PreserveDictionary: true}
}

func (*TransformOptions) TypeName() string { return "TransformOptions" }

// WithLambdas returns a copy of o applying m.
func (o TransformOptions) WithLambdas(m lambda.RowMap) *TransformOptions {
	o.Lambdas = m
	return &o
}

// RegisterFlags adds the flags required to config this to the given FlagSet.
func (o *TransformOptions) RegisterFlags(f *flag.FlagSet) {
	o.RegisterFlagsWithPrefix("", f)
}

// RegisterFlagsWithPrefix adds the flags required to config this to the given FlagSet
func (o *TransformOptions) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	if prefix != "" {
		prefix += "."
	}

	o.PreserveDictionary = true
	f.Var(&o.Policy, prefix+"transform.policy", "Evaluation failure policy: strict fails the batch, lenient nulls the failing rows.")
	f.Var(&o.Peel, prefix+"transform.peel", "Dictionary peeling of the array argument: auto or never.")
	f.BoolVar(&o.PreserveDictionary, prefix+"transform.preserve-dictionary", true, "Return dictionary encoded results for peeled dictionary inputs.")
}
