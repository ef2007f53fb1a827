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
	"sort"
)

// userKind narrows a discovered type to one of the three user-defined
// kinds the engine accepts.
type userKind int8

const (
	userRecord userKind = iota
	userEnum
	userSum
)

// discoveredType is one entry of the transitive closure computed by
// discover, before and after ordinal assignment.
type discoveredType struct {
	Type    reflect.Type
	Kind    userKind
	Ordinal int32
}

// discoverySet is the output of discovery: the root's own shape, plus every
// reachable user type with a stable 1-indexed ordinal.
type discoverySet struct {
	rootShape *TypeShape
	types     map[reflect.Type]*discoveredType
	order     []reflect.Type // ordinal order: order[i].Ordinal == int32(i+1)
}

// discover computes the transitive closure of user types reachable from
// root and assigns ordinals in lexicographic order of fully-qualified
// name, independent of traversal order.
func discover(root reflect.Type) (*discoverySet, error) {
	rootShape, err := analyzeType(root)
	if err != nil {
		return nil, err
	}

	visited := map[reflect.Type]*discoveredType{}
	var order []reflect.Type

	var walk func(t reflect.Type, stack []reflect.Type) error

	// walkShape descends into every user-kind node of a flattened shape, not
	// just its terminal: a map's key position can name an enum that appears
	// nowhere else in the shape.
	walkShape := func(shape *TypeShape, stack []reflect.Type) error {
		for _, node := range shape.Nodes {
			switch node.Tag {
			case TagRecord:
				if err := walk(recordStructType(node.GoType), stack); err != nil {
					return err
				}
			case TagEnum, TagInterface:
				if err := walk(node.GoType, nil); err != nil {
					return err
				}
			}
		}
		return nil
	}

	walk = func(t reflect.Type, stack []reflect.Type) error {
		// The stack (the chain of records currently being expanded) must be
		// checked before the visited memo: a type can legitimately be
		// re-entered once it is no longer its own ancestor, but a type that
		// is still on the active stack is always a cycle, even if an
		// earlier, unrelated branch already finished discovering it.
		for _, s := range stack {
			if s == t {
				return analysisErr(ReasonCyclicNonSumReference,
					"%v references itself through records only, without passing through a sum type", t)
			}
		}
		if _, ok := visited[t]; ok {
			return nil
		}

		if t.Kind() == reflect.Interface {
			variants, _ := sumVariants(t)
			visited[t] = &discoveredType{Type: t, Kind: userSum}
			order = append(order, t)
			for _, v := range variants {
				target := v
				if target.Kind() == reflect.Ptr {
					target = target.Elem()
				}
				// Crossing a sum boundary is not a structural cycle:
				// dispatch indirects through an ordinal, so the cycle
				// stack resets here.
				if err := walk(target, nil); err != nil {
					return err
				}
			}
			return nil
		}

		if _, ok := enumConstants(t); ok {
			visited[t] = &discoveredType{Type: t, Kind: userEnum}
			order = append(order, t)
			return nil
		}

		if t.Kind() == reflect.Struct {
			visited[t] = &discoveredType{Type: t, Kind: userRecord}
			order = append(order, t)
			nextStack := append(append([]reflect.Type(nil), stack...), t)
			for i := 0; i < t.NumField(); i++ {
				f := t.Field(i)
				if f.PkgPath != "" {
					continue // unexported fields carry no wire representation
				}
				fieldShape, err := analyzeType(f.Type)
				if err != nil {
					return err
				}
				if err := walkShape(fieldShape, nextStack); err != nil {
					return err
				}
			}
			return nil
		}

		return analysisErr(ReasonUnsupportedKind, "%v is not a record, enum, or sum type", t)
	}

	if err := walkShape(rootShape, nil); err != nil {
		return nil, err
	}

	names := make(map[reflect.Type]string, len(order))
	for _, t := range order {
		names[t] = fqName(t)
	}
	sort.Slice(order, func(i, j int) bool { return names[order[i]] < names[order[j]] })

	seenNames := make(map[string]reflect.Type, len(order))
	for _, t := range order {
		n := names[t]
		if prev, ok := seenNames[n]; ok && prev != t {
			return nil, analysisErr(ReasonOrdinalCollision, "two distinct types share fully-qualified name %q", n)
		}
		seenNames[n] = t
	}

	for i, t := range order {
		visited[t].Ordinal = int32(i + 1)
	}

	return &discoverySet{rootShape: rootShape, types: visited, order: order}, nil
}

// fqName is the fully-qualified name ordinal assignment sorts by: package
// path plus declared type name, stable and locale-independent.
func fqName(t reflect.Type) string {
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}
