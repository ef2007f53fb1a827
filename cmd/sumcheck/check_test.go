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

package main

import (
	"go/ast"
	"go/parser"
	"go/token"
	"testing"

	"github.com/stretchr/testify/require"
)

func parseExpr(t *testing.T, src string) ast.Expr {
	t.Helper()
	expr, err := parser.ParseExpr(src)
	require.NoError(t, err)
	return expr
}

func TestTypeNameFromTypeOfExprPointerVariant(t *testing.T) {
	name := typeNameFromTypeOfExpr(parseExpr(t, `reflect.TypeOf((*Square)(nil)).Elem()`))
	require.Equal(t, "Square", name)
}

func TestTypeNameFromTypeOfExprCompositeLit(t *testing.T) {
	name := typeNameFromTypeOfExpr(parseExpr(t, `reflect.TypeOf(Circle{})`))
	require.Equal(t, "Circle", name)
}

func TestTypeNameFromTypeOfExprRejectsUnrelatedCall(t *testing.T) {
	name := typeNameFromTypeOfExpr(parseExpr(t, `fmt.Sprintf("x")`))
	require.Equal(t, "", name)
}

func TestHasSumDirectiveOnGenDeclDoc(t *testing.T) {
	src := `package p

//wire:sum
type Shape interface{ isShape() }
`
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "p.go", src, parser.ParseComments)
	require.NoError(t, err)

	found := false
	for _, decl := range f.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		ts := gd.Specs[0].(*ast.TypeSpec)
		if hasSumDirective(gd, ts) {
			found = true
		}
	}
	require.True(t, found)
}

func TestHasSumDirectiveAbsent(t *testing.T) {
	src := `package p

type Shape interface{ isShape() }
`
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "p.go", src, parser.ParseComments)
	require.NoError(t, err)

	gd := f.Decls[0].(*ast.GenDecl)
	ts := gd.Specs[0].(*ast.TypeSpec)
	require.False(t, hasSumDirective(gd, ts))
}

func TestSetDiff(t *testing.T) {
	require.Equal(t, []string{"A"}, setDiff([]string{"A", "B"}, []string{"B"}))
	require.Empty(t, setDiff([]string{"A"}, []string{"A"}))
	require.Empty(t, setDiff(nil, []string{"A"}))
}

func TestFindingString(t *testing.T) {
	f := Finding{Iface: "Shape", Missing: []string{"Triangle"}, Extra: []string{"Ghost"}}
	s := f.String()
	require.Contains(t, s, "Shape")
	require.Contains(t, s, "Triangle")
	require.Contains(t, s, "Ghost")
}
