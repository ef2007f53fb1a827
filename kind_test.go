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

type registryProbe interface{ isRegistryProbe() }

type probeA struct{}

func (probeA) isRegistryProbe() {}

type probeB struct{}

func (probeB) isRegistryProbe() {}

func TestRegisterSumIsIdempotentForSameSet(t *testing.T) {
	iface := reflect.TypeOf((*registryProbe)(nil)).Elem()
	require.NoError(t, RegisterSum(iface, reflect.TypeOf(probeA{}), reflect.TypeOf(probeB{})))
	require.NoError(t, RegisterSum(iface, reflect.TypeOf(probeA{}), reflect.TypeOf(probeB{})))
}

type conflictProbe interface{ isConflictProbe() }

type probeC struct{}

func (probeC) isConflictProbe() {}

type probeD struct{}

func (probeD) isConflictProbe() {}

func TestRegisterSumRejectsConflictingSet(t *testing.T) {
	iface := reflect.TypeOf((*conflictProbe)(nil)).Elem()
	require.NoError(t, RegisterSum(iface, reflect.TypeOf(probeC{})))
	err := RegisterSum(iface, reflect.TypeOf(probeD{}))
	require.Error(t, err)
	werr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ReasonOrdinalCollision, werr.Reason)
}

func TestRegisterSumRejectsNonImplementingVariant(t *testing.T) {
	type other interface{ isOther() }
	iface := reflect.TypeOf((*other)(nil)).Elem()
	err := RegisterSum(iface, reflect.TypeOf(Address{}))
	require.Error(t, err)
}

func TestRegisterEnumRejectsNonIntegerKind(t *testing.T) {
	err := RegisterEnum(reflect.TypeOf(""), "a", "b")
	require.Error(t, err)
	werr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ReasonUnsupportedKind, werr.Reason)
}

func TestRegisterEnumRejectsConflictingConstants(t *testing.T) {
	type localEnum int32
	et := reflect.TypeOf(localEnum(0))
	require.NoError(t, RegisterEnum(et, "A", "B"))
	err := RegisterEnum(et, "X", "Y")
	require.Error(t, err)
	werr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ReasonOrdinalCollision, werr.Reason)
}
