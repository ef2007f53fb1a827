// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package wire

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnalyzeLeafScalars(t *testing.T) {
	cases := []struct {
		v   interface{}
		tag Tag
	}{
		{false, TagBool},
		{int8(0), TagInt8},
		{int16(0), TagInt16},
		{int32(0), TagInt32},
		{int64(0), TagInt64},
		{float32(0), TagFloat32},
		{float64(0), TagFloat64},
		{CodePoint(0), TagRune},
		{"", TagString},
	}
	for _, c := range cases {
		shape, err := analyzeType(reflect.TypeOf(c.v))
		require.NoError(t, err)
		require.Len(t, shape.Nodes, 1)
		require.Equal(t, c.tag, shape.Terminal().Tag)
	}
}

func TestAnalyzeContainers(t *testing.T) {
	shape, err := analyzeType(reflect.TypeOf([]int32(nil)))
	require.NoError(t, err)
	require.Equal(t, []Tag{TagList, TagInt32}, tagsOf(shape))

	shape, err = analyzeType(reflect.TypeOf([4]string{}))
	require.NoError(t, err)
	require.Equal(t, []Tag{TagArray, TagString}, tagsOf(shape))

	shape, err = analyzeType(reflect.TypeOf(Opt[int32]{}))
	require.NoError(t, err)
	require.Equal(t, []Tag{TagOptional, TagInt32}, tagsOf(shape))

	shape, err = analyzeType(reflect.TypeOf(map[string]int32{}))
	require.NoError(t, err)
	require.Equal(t, []Tag{TagMap, TagString, TagMapSeparator, TagInt32}, tagsOf(shape))
}

func TestAnalyzeIllegalMapKey(t *testing.T) {
	_, err := analyzeType(reflect.TypeOf(map[Address]string{}))
	require.Error(t, err)
	werr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ReasonIllegalMapKey, werr.Reason)
}

func TestAnalyzeEnumMapKeyAllowed(t *testing.T) {
	shape, err := analyzeType(reflect.TypeOf(map[Suit]int32{}))
	require.NoError(t, err)
	require.Equal(t, []Tag{TagMap, TagEnum, TagMapSeparator, TagInt32}, tagsOf(shape))
}

func TestAnalyzePlainIntRejected(t *testing.T) {
	var n int
	_, err := analyzeType(reflect.TypeOf(n))
	require.Error(t, err)
	werr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ReasonUnsupportedKind, werr.Reason)
}

func TestAnalyzeBareInterfaceRejected(t *testing.T) {
	_, err := analyzeType(reflect.TypeOf((*interface{})(nil)).Elem())
	require.Error(t, err)
}

func TestAnalyzeCached(t *testing.T) {
	s1, err := analyzeType(reflect.TypeOf(Person{}))
	require.NoError(t, err)
	s2, err := analyzeType(reflect.TypeOf(Person{}))
	require.NoError(t, err)
	require.Same(t, s1, s2)
}

func tagsOf(shape *TypeShape) []Tag {
	tags := make([]Tag, len(shape.Nodes))
	for i, n := range shape.Nodes {
		tags[i] = n.Tag
	}
	return tags
}
