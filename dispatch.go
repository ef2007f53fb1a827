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

import "reflect"

// discoveredRow is one ordinal-indexed entry of a dispatchTable: the user
// type assigned that ordinal, and which of the three user kinds it is.
type discoveredRow struct {
	Type reflect.Type
	Kind userKind
}

// dispatchTable is the ordinal-indexed lookup an Engine consults at
// encode time (Go type -> ordinal) and decode time (ordinal -> Go type),
// built once from a discoverySet and then reused for every Encode/Decode
// call the Engine serves.
type dispatchTable struct {
	byType    map[reflect.Type]Ordinal
	byOrdinal []discoveredRow
}

// buildDispatch flattens a discoverySet's ordinal assignment into the two
// lookup directions the chain compiler needs.
func buildDispatch(ds *discoverySet) *dispatchTable {
	byType := make(map[reflect.Type]Ordinal, len(ds.order))
	rows := make([]discoveredRow, len(ds.order))

	for _, t := range ds.order {
		dt := ds.types[t]
		byType[t] = Ordinal(dt.Ordinal)
		rows[dt.Ordinal-1] = discoveredRow{Type: t, Kind: dt.Kind}
	}

	return &dispatchTable{byType: byType, byOrdinal: rows}
}

// ordinalOf returns the ordinal assigned to t (a struct, enum, or interface
// type, always already unwrapped of any pointer indirection).
func (d *dispatchTable) ordinalOf(t reflect.Type) (Ordinal, bool) {
	o, ok := d.byType[t]
	return o, ok
}

// rowAt resolves an ordinal read off the wire back to its discovered type.
func (d *dispatchTable) rowAt(o Ordinal) (discoveredRow, bool) {
	idx := int(o) - 1
	if idx < 0 || idx >= len(d.byOrdinal) {
		return discoveredRow{}, false
	}
	return d.byOrdinal[idx], true
}
