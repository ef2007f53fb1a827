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

// Shared fixture types registered once for every test in this package.

type Suit int32

const (
	SuitClubs Suit = iota
	SuitDiamonds
	SuitHearts
	SuitSpades
)

type Address struct {
	City string
	Zip  string
}

type Person struct {
	Name    string
	Age     int32
	Favor   Suit
	Home    *Address
	Tags    map[string]int32
	Scores  []int32
	Triples [3]int32
}

// SimplePerson is a minimal two-field record, kept separate from Person so
// literal byte assertions aren't coupled to Person's larger field set.
type SimplePerson struct {
	Name string
	Age  int32
}

// Shape is a sum over one value-receiver and one pointer-receiver variant,
// deliberately mixed to exercise both registration shapes.
//
//wire:sum
type Shape interface{ isShape() }

type Circle struct{ Radius float64 }

func (Circle) isShape() {}

type Square struct{ Side float64 }

func (*Square) isShape() {}

type Drawing struct {
	Shapes []Shape
}

// Expr recurses through a sum, which is allowed; Node recurses directly
// through a record field, which is not.
type Expr interface{ isExpr() }

type Lit struct{ Value int32 }

func (Lit) isExpr() {}

type Add struct{ Left, Right Expr }

func (Add) isExpr() {}

type Node struct {
	Value int32
	Next  *Node
}

// Token mixes a record variant with a scalar-enum variant in one sum.
type Token interface{ isToken() }

type Word struct{ Text string }

func (Word) isToken() {}

type Punct int32

const (
	PunctComma Punct = iota
	PunctDot
)

func (Punct) isToken() {}

// PersonV1 and PersonV2 model append-only schema evolution: V2 appends a
// field V1 never had.
type PersonV1 struct {
	Name string
}

type PersonV2 struct {
	Name string
	Age  int32
}

func init() {
	mustRegisterEnum(reflect.TypeOf(Suit(0)), "Clubs", "Diamonds", "Hearts", "Spades")
	mustRegisterSum(reflect.TypeOf((*Shape)(nil)).Elem(), reflect.TypeOf(Circle{}), reflect.TypeOf(&Square{}))
	mustRegisterSum(reflect.TypeOf((*Expr)(nil)).Elem(), reflect.TypeOf(Lit{}), reflect.TypeOf(Add{}))
	mustRegisterEnum(reflect.TypeOf(Punct(0)), "Comma", "Dot")
	mustRegisterSum(reflect.TypeOf((*Token)(nil)).Elem(), reflect.TypeOf(Word{}), reflect.TypeOf(Punct(0)))
}

func mustRegisterEnum(t reflect.Type, constants ...string) {
	if err := RegisterEnum(t, constants...); err != nil {
		panic(err)
	}
}

func mustRegisterSum(iface reflect.Type, variants ...reflect.Type) {
	if err := RegisterSum(iface, variants...); err != nil {
		panic(err)
	}
}
