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
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"sort"
	"strings"

	"golang.org/x/tools/go/packages"
)

const sumDirective = "//wire:sum"

// Finding is one interface whose declared (implements-the-interface) variant
// set and registered (RegisterSum call) variant set disagree.
type Finding struct {
	Pos     token.Position
	Iface   string
	Missing []string // implements the interface, never passed to RegisterSum
	Extra   []string // passed to RegisterSum, does not implement the interface
}

func (f Finding) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s: variant set does not match registration", f.Pos, f.Iface)
	if len(f.Missing) > 0 {
		fmt.Fprintf(&b, "; unregistered implementers: %s", strings.Join(f.Missing, ", "))
	}
	if len(f.Extra) > 0 {
		fmt.Fprintf(&b, "; registered non-implementers: %s", strings.Join(f.Extra, ", "))
	}
	return b.String()
}

// Check loads patterns (Go package patterns, as accepted by `go list`) and
// runs the exhaustiveness check over every //wire:sum interface found.
func Check(patterns []string) ([]Finding, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedSyntax | packages.NeedTypes |
			packages.NeedTypesInfo | packages.NeedFiles,
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, fmt.Errorf("loading packages: %w", err)
	}

	var findings []Finding
	for _, pkg := range pkgs {
		if len(pkg.Errors) > 0 {
			msgs := make([]string, len(pkg.Errors))
			for i, e := range pkg.Errors {
				msgs[i] = e.Error()
			}
			return nil, fmt.Errorf("%s: %s", pkg.PkgPath, strings.Join(msgs, "; "))
		}
		pkgFindings, err := checkPackage(pkg)
		if err != nil {
			return nil, err
		}
		findings = append(findings, pkgFindings...)
	}
	return findings, nil
}

func checkPackage(pkg *packages.Package) ([]Finding, error) {
	sumIfaces := taggedInterfaces(pkg)
	if len(sumIfaces) == 0 {
		return nil, nil
	}

	registered := registeredVariants(pkg)
	implementers := localImplementers(pkg)

	var findings []Finding
	names := make([]string, 0, len(sumIfaces))
	for name := range sumIfaces {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		obj := sumIfaces[name]
		impl := implementers[name]
		reg := registered[name]

		missing := setDiff(impl, reg)
		extra := setDiff(reg, impl)
		if len(missing) == 0 && len(extra) == 0 {
			continue
		}
		findings = append(findings, Finding{
			Pos:     pkg.Fset.Position(obj.Pos()),
			Iface:   name,
			Missing: missing,
			Extra:   extra,
		})
	}
	return findings, nil
}

// taggedInterfaces finds every interface type declaration in pkg immediately
// preceded by a //wire:sum directive comment.
func taggedInterfaces(pkg *packages.Package) map[string]types.Object {
	out := map[string]types.Object{}
	for _, file := range pkg.Syntax {
		ast.Inspect(file, func(n ast.Node) bool {
			gd, ok := n.(*ast.GenDecl)
			if !ok || gd.Tok != token.TYPE {
				return true
			}
			for _, spec := range gd.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				if _, ok := ts.Type.(*ast.InterfaceType); !ok {
					continue
				}
				if !hasSumDirective(gd, ts) {
					continue
				}
				if obj := pkg.TypesInfo.Defs[ts.Name]; obj != nil {
					out[ts.Name.Name] = obj
				}
			}
			return true
		})
	}
	return out
}

func hasSumDirective(gd *ast.GenDecl, ts *ast.TypeSpec) bool {
	groups := [][]*ast.Comment{}
	if gd.Doc != nil {
		groups = append(groups, gd.Doc.List)
	}
	if ts.Doc != nil {
		groups = append(groups, ts.Doc.List)
	}
	for _, g := range groups {
		for _, c := range g {
			if strings.HasPrefix(strings.TrimSpace(c.Text), sumDirective) {
				return true
			}
		}
	}
	return false
}

// localImplementers reports, for every tagged interface name, the set of
// named local types that implement it (by value or pointer receiver).
func localImplementers(pkg *packages.Package) map[string][]string {
	sumIfaces := taggedInterfaces(pkg)
	result := make(map[string][]string, len(sumIfaces))

	scope := pkg.Types.Scope()
	for _, name := range scope.Names() {
		obj, ok := scope.Lookup(name).(*types.TypeName)
		if !ok {
			continue
		}
		named, ok := obj.Type().(*types.Named)
		if !ok {
			continue
		}
		if _, isIface := named.Underlying().(*types.Interface); isIface {
			continue
		}
		for ifaceName, ifaceObj := range sumIfaces {
			iface, ok := ifaceObj.Type().Underlying().(*types.Interface)
			if !ok {
				continue
			}
			if types.Implements(named, iface) || types.Implements(types.NewPointer(named), iface) {
				result[ifaceName] = append(result[ifaceName], name)
			}
		}
	}
	for k := range result {
		sort.Strings(result[k])
	}
	return result
}

// registeredVariants scans for RegisterSum(ifaceTypeExpr, variantExprs...)
// call sites and extracts the interface name and variant type names
// textually from the AST, matching the reflect.TypeOf((*T)(nil)).Elem() /
// reflect.TypeOf(T{}) idioms RegisterSum callers use.
func registeredVariants(pkg *packages.Package) map[string][]string {
	result := map[string][]string{}
	for _, file := range pkg.Syntax {
		ast.Inspect(file, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			sel, ok := call.Fun.(*ast.SelectorExpr)
			name := ""
			if ok {
				name = sel.Sel.Name
			} else if ident, ok := call.Fun.(*ast.Ident); ok {
				name = ident.Name
			}
			if name != "RegisterSum" || len(call.Args) < 2 {
				return true
			}
			ifaceName := typeNameFromTypeOfExpr(call.Args[0])
			if ifaceName == "" {
				return true
			}
			for _, arg := range call.Args[1:] {
				if vn := typeNameFromTypeOfExpr(arg); vn != "" {
					result[ifaceName] = append(result[ifaceName], vn)
				}
			}
			return true
		})
	}
	for k := range result {
		sort.Strings(result[k])
	}
	return result
}

// typeNameFromTypeOfExpr extracts T from reflect.TypeOf((*T)(nil)).Elem() or
// reflect.TypeOf(T{}) shaped expressions.
func typeNameFromTypeOfExpr(expr ast.Expr) string {
	call, ok := expr.(*ast.CallExpr)
	if ok {
		if sel, ok := call.Fun.(*ast.SelectorExpr); ok && sel.Sel.Name == "Elem" {
			if inner, ok := sel.X.(*ast.CallExpr); ok {
				return typeNameFromTypeOf(inner)
			}
			return ""
		}
		return typeNameFromTypeOf(call)
	}
	return ""
}

func typeNameFromTypeOf(call *ast.CallExpr) string {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "TypeOf" {
		return ""
	}
	if len(call.Args) != 1 {
		return ""
	}
	return identFromTypeExpr(call.Args[0])
}

func identFromTypeExpr(e ast.Expr) string {
	switch v := e.(type) {
	case *ast.ParenExpr:
		return identFromTypeExpr(v.X)
	case *ast.UnaryExpr:
		if v.Op == token.AND {
			return identFromTypeExpr(v.X)
		}
	case *ast.CompositeLit:
		return identFromTypeExpr(v.Type)
	case *ast.CallExpr:
		// (*T)(nil): a conversion whose Fun is the parenthesized pointer type.
		if p, ok := v.Fun.(*ast.ParenExpr); ok {
			if star, ok := p.X.(*ast.StarExpr); ok {
				return identFromTypeExpr(star.X)
			}
		}
	case *ast.Ident:
		return v.Name
	case *ast.SelectorExpr:
		return v.Sel.Name
	}
	return ""
}

func setDiff(a, b []string) []string {
	bSet := make(map[string]bool, len(b))
	for _, s := range b {
		bSet[s] = true
	}
	var out []string
	for _, s := range a {
		if !bSet[s] {
			out = append(out, s)
		}
	}
	return out
}
