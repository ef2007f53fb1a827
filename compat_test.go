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

// WidgetV1/V2 model an append-only evolution where the appended field is a
// container (a list), exercising skipValue's container-skipping path rather
// than just a single trailing leaf.
type WidgetV1 struct {
	ID   int32
	Name string
}

type WidgetV2 struct {
	ID   int32
	Name string
	Tags []string
}

func TestSkipValueDiscardsTrailingContainerField(t *testing.T) {
	wide, err := Build(reflect.TypeOf(WidgetV2{}), WithLenientSchema())
	require.NoError(t, err)
	narrow, err := Build(reflect.TypeOf(WidgetV1{}), WithLenientSchema())
	require.NoError(t, err)

	w := WidgetV2{ID: 7, Name: "gizmo", Tags: []string{"a", "b", "c"}}
	n, err := wide.SizeOf(w)
	require.NoError(t, err)
	buf := NewByteBufferSize(n)
	require.NoError(t, wide.Encode(w, buf))
	buf.SetPosition(0)

	got, err := narrow.Decode(buf)
	require.NoError(t, err)
	require.Equal(t, WidgetV1{ID: 7, Name: "gizmo"}, got)
	require.Equal(t, n, buf.Position())
}

func TestStructuralDescriptorDistinguishesShapes(t *testing.T) {
	dsPerson, err := discover(reflect.TypeOf(Person{}))
	require.NoError(t, err)
	dsAddress, err := discover(reflect.TypeOf(Address{}))
	require.NoError(t, err)

	fpPerson, err := rootFingerprint(dsPerson)
	require.NoError(t, err)
	fpAddress, err := rootFingerprint(dsAddress)
	require.NoError(t, err)
	require.NotEqual(t, fpPerson, fpAddress)
}

func TestFingerprintWireRoundTrip(t *testing.T) {
	buf := NewByteBufferSize(8)
	require.NoError(t, writeFingerprint(buf, 0x0102030405060708))
	buf.SetPosition(0)
	got, err := readFingerprint(buf)
	require.NoError(t, err)
	require.Equal(t, uint64(0x0102030405060708), got)
}

func TestDescriptorInternerDeduplicatesEqualContent(t *testing.T) {
	in := &descriptorInterner{bucket: map[uint64][]string{}}
	a := in.intern("STRING,INT32")
	b := in.intern("STRING,INT32")
	require.Equal(t, a, b)

	c := in.intern("INT32,STRING")
	require.NotEqual(t, a, c)
}
