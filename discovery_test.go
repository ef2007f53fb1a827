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

func TestDiscoverOrdinalsAreLexicographicByName(t *testing.T) {
	ds, err := discover(reflect.TypeOf(Person{}))
	require.NoError(t, err)

	// Address, Person and Suit are all reachable from Person; sorted by
	// fully-qualified name within this package that is alphabetical order.
	require.Equal(t, int32(1), ds.types[reflect.TypeOf(Address{})].Ordinal)
	require.Equal(t, int32(2), ds.types[reflect.TypeOf(Person{})].Ordinal)
	require.Equal(t, int32(3), ds.types[reflect.TypeOf(Suit(0))].Ordinal)

	require.Equal(t, userRecord, ds.types[reflect.TypeOf(Address{})].Kind)
	require.Equal(t, userRecord, ds.types[reflect.TypeOf(Person{})].Kind)
	require.Equal(t, userEnum, ds.types[reflect.TypeOf(Suit(0))].Kind)
}

func TestDiscoverIsDeterministicAcrossRuns(t *testing.T) {
	ds1, err := discover(reflect.TypeOf(Person{}))
	require.NoError(t, err)
	ds2, err := discover(reflect.TypeOf(Person{}))
	require.NoError(t, err)
	require.Equal(t, ds1.order, ds2.order)
}

func TestDiscoverSumVariantsBothShapes(t *testing.T) {
	ds, err := discover(reflect.TypeOf((*Shape)(nil)).Elem())
	require.NoError(t, err)

	require.Contains(t, ds.types, reflect.TypeOf((*Shape)(nil)).Elem())
	require.Contains(t, ds.types, reflect.TypeOf(Circle{}))
	require.Contains(t, ds.types, reflect.TypeOf(Square{})) // unwrapped from *Square

	dispatch := buildDispatch(ds)
	_, ok := dispatch.ordinalOf(reflect.TypeOf(Circle{}))
	require.True(t, ok)
	_, ok = dispatch.ordinalOf(reflect.TypeOf(Square{}))
	require.True(t, ok)
}

func TestDiscoverAllowsRecursionThroughSum(t *testing.T) {
	ds, err := discover(reflect.TypeOf((*Expr)(nil)).Elem())
	require.NoError(t, err)
	require.Contains(t, ds.types, reflect.TypeOf(Add{}))
	require.Contains(t, ds.types, reflect.TypeOf(Lit{}))
}

func TestDiscoverRejectsDirectRecordCycle(t *testing.T) {
	_, err := discover(reflect.TypeOf(Node{}))
	require.Error(t, err)
	werr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ReasonCyclicNonSumReference, werr.Reason)
}

func TestDispatchRoundTripsOrdinals(t *testing.T) {
	ds, err := discover(reflect.TypeOf(Person{}))
	require.NoError(t, err)
	dispatch := buildDispatch(ds)

	ord, ok := dispatch.ordinalOf(reflect.TypeOf(Person{}))
	require.True(t, ok)
	row, ok := dispatch.rowAt(ord)
	require.True(t, ok)
	require.Equal(t, reflect.TypeOf(Person{}), row.Type)
}
