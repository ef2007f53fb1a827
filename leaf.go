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
	"strings"

	"github.com/google/uuid"
)

// CodePoint is the single-code-point-unit leaf scalar. Go's
// own rune is an alias of int32 and so is indistinguishable, at the
// reflect.Type level, from the INT32 leaf; CodePoint is a distinct named
// type for exactly this reason, storable as a 2-byte UTF-16 unit with no
// coercion loss (see buffer.go's WriteCodePoint).
type CodePoint uint16

// Opt is the explicit OPTIONAL container. A bare Go
// pointer cannot distinguish "absent" from "present but itself nil"; Opt
// carries that distinction directly instead of overloading nil.
type Opt[T any] struct {
	Valid bool
	Value T
}

// Some constructs a present optional.
func Some[T any](v T) Opt[T] { return Opt[T]{Valid: true, Value: v} }

// None constructs an absent optional.
func None[T any]() Opt[T] { return Opt[T]{} }

var (
	boolType       = reflect.TypeOf(false)
	int8Type       = reflect.TypeOf(int8(0))
	int16Type      = reflect.TypeOf(int16(0))
	int32Type      = reflect.TypeOf(int32(0))
	int64Type      = reflect.TypeOf(int64(0))
	float32Type    = reflect.TypeOf(float32(0))
	float64Type    = reflect.TypeOf(float64(0))
	codePointType  = reflect.TypeOf(CodePoint(0))
	stringType     = reflect.TypeOf("")
	uuidType       = reflect.TypeOf(uuid.UUID{})
	emptyIfaceType = reflect.TypeOf((*interface{})(nil)).Elem()
)

// isOptionalType reports whether t is some Opt[E] instantiation, returning
// E's reflect.Type. Go reflection has no first-class "generic type this was
// instantiated from" query; the idiomatic workaround (matching the pattern
// real generics-aware reflection helpers in the ecosystem use) is to check
// the struct shape plus the "Opt[" name prefix Go's reflect package gives
// instantiated generic types since 1.18.
func isOptionalType(t reflect.Type) (elem reflect.Type, ok bool) {
	if t.Kind() != reflect.Struct || t.PkgPath() != optPkgPath {
		return nil, false
	}
	if !strings.HasPrefix(t.Name(), "Opt[") {
		return nil, false
	}
	if t.NumField() != 2 {
		return nil, false
	}
	validField, hasValid := t.FieldByName("Valid")
	valueField, hasValue := t.FieldByName("Value")
	if !hasValid || !hasValue || validField.Type.Kind() != reflect.Bool {
		return nil, false
	}
	return valueField.Type, true
}

var optPkgPath = reflect.TypeOf(Opt[int]{}).PkgPath()
