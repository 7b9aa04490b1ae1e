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

package kernels_test

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeroshade/lambdaexec/functions"
	"github.com/zeroshade/lambdaexec/kernels"
	"gopkg.in/yaml.v3"
)

func TestTransformOptionsYAML(t *testing.T) {
	opts := kernels.DefaultTransformOptions()
	require.NoError(t, yaml.Unmarshal([]byte("policy: lenient\npeel: never\n"), opts))

	assert.Equal(t, kernels.EvalLenient, opts.Policy)
	assert.Equal(t, kernels.PeelNever, opts.Peel)
	assert.True(t, opts.PreserveDictionary)

	out, err := yaml.Marshal(opts)
	require.NoError(t, err)
	assert.Equal(t, "policy: lenient\npeel: never\npreserve_dictionary: true\n", string(out))

	err = yaml.Unmarshal([]byte("policy: forgiving\n"), opts)
	assert.ErrorIs(t, err, functions.ErrInvalid)
}

func TestTransformOptionsFlags(t *testing.T) {
	var opts kernels.TransformOptions
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	opts.RegisterFlagsWithPrefix("bench", fs)

	require.NoError(t, fs.Parse([]string{"-bench.transform.policy=lenient", "-bench.transform.preserve-dictionary=false"}))
	assert.Equal(t, kernels.EvalLenient, opts.Policy)
	assert.Equal(t, kernels.PeelAuto, opts.Peel)
	assert.False(t, opts.PreserveDictionary)

	assert.Error(t, fs.Parse([]string{"-bench.transform.peel=sometimes"}))
}

func TestTransformOptionsDefaults(t *testing.T) {
	var opts kernels.TransformOptions
	opts.RegisterFlags(flag.NewFlagSet("test", flag.ContinueOnError))

	assert.Equal(t, "TransformOptions", opts.TypeName())
	assert.Equal(t, "strict", opts.Policy.String())
	assert.Equal(t, "auto", opts.Peel.String())
	assert.True(t, opts.PreserveDictionary)
	assert.True(t, opts.Lambdas.Empty())
}
