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
	"math"
	"reflect"
	"sort"

	"github.com/google/uuid"
)

// writerFunc, readerFunc and sizerFunc are the three closures compiled for
// every position in a shape. A chain bundles the three for one position so
// the compiler can pass a single value down through recursion.
type (
	writerFunc func(buf *ByteBuffer, v reflect.Value) error
	readerFunc func(buf *ByteBuffer) (reflect.Value, error)
	sizerFunc  func(v reflect.Value) (int, error)
)

type chain struct {
	write writerFunc
	read  readerFunc
	size  sizerFunc
}

// recordField is one compiled, position-stable field of a record chain.
type recordField struct {
	index int
	c     *chain
}

type recordChain struct {
	fields []recordField
}

// writeInto writes the component count followed by each field's own
// self-describing {ordinal, body}. The count always equals the compiled
// field count; the decoder reconciles it against its own.
func (rc *recordChain) writeInto(buf *ByteBuffer, structVal reflect.Value) error {
	if err := buf.WriteVarint(int64(len(rc.fields))); err != nil {
		return err
	}
	for _, f := range rc.fields {
		if err := f.c.write(buf, structVal.Field(f.index)); err != nil {
			return err
		}
	}
	return nil
}

func (rc *recordChain) sizeOf(structVal reflect.Value) (int, error) {
	total := varintSize(int64(len(rc.fields)))
	for _, f := range rc.fields {
		n, err := f.c.size(structVal.Field(f.index))
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// readInto reads the component count and reconciles it against the
// compiled field count per the active compatibility mode: an exact match
// always decodes field-by-field; in strict mode any other
// count is a hard error; in lenient mode a shorter wire count zero-fills
// the struct's remaining fields (the "fallback constructor" case) and a
// longer one decodes the known fields then discards the rest generically.
func (rc *recordChain) readInto(buf *ByteBuffer, t reflect.Type, dispatch *dispatchTable, lenient bool) (reflect.Value, error) {
	pos := buf.Position()
	wireCount, err := buf.ReadVarint()
	if err != nil {
		return reflect.Value{}, err
	}
	n := int64(len(rc.fields))
	out := reflect.New(t).Elem()

	switch {
	case wireCount == n:
		for _, f := range rc.fields {
			v, err := f.c.read(buf)
			if err != nil {
				return reflect.Value{}, err
			}
			out.Field(f.index).Set(v)
		}
		return out, nil

	case !lenient:
		return reflect.Value{}, decodeErr(ReasonComponentCountMismatch, pos,
			"record %v expects %d components, wire has %d", t, n, wireCount)

	case wireCount < n:
		for i, f := range rc.fields {
			if int64(i) >= wireCount {
				break // fields beyond the wire's count keep their zero value
			}
			v, err := f.c.read(buf)
			if err != nil {
				return reflect.Value{}, err
			}
			out.Field(f.index).Set(v)
		}
		return out, nil

	default: // wireCount > n: the writer's schema grew; skip the unknown tail
		for _, f := range rc.fields {
			v, err := f.c.read(buf)
			if err != nil {
				return reflect.Value{}, err
			}
			out.Field(f.index).Set(v)
		}
		for i := n; i < wireCount; i++ {
			if err := skipValue(buf, dispatch); err != nil {
				return reflect.Value{}, err
			}
		}
		return out, nil
	}
}

// compiler holds the per-Build state the chain compiler threads through its
// recursion: the dispatch table (for record/enum/sum ordinal lookups) and a
// cache of record chains, scoped to this Engine since the ordinals a
// dispatchTable assigns are only valid for the root type it was built for.
type compiler struct {
	dispatch *dispatchTable
	records  map[reflect.Type]*recordChain
	ifaces   map[reflect.Type]*chain
	lenient  bool
}

func newCompiler(dispatch *dispatchTable, lenient bool) *compiler {
	return &compiler{
		dispatch: dispatch,
		records:  map[reflect.Type]*recordChain{},
		ifaces:   map[reflect.Type]*chain{},
		lenient:  lenient,
	}
}

// compileShape compiles a whole TypeShape (a record field's shape, or the
// engine's root shape) into a single chain.
func (c *compiler) compileShape(shape *TypeShape) (*chain, error) {
	ch, next, err := c.compileNode(shape.Nodes, 0)
	if err != nil {
		return nil, err
	}
	if next != len(shape.Nodes) {
		return nil, analysisErr(ReasonUnsupportedKind, "shape left %d unconsumed nodes", len(shape.Nodes)-next)
	}
	return ch, nil
}

// compileNode compiles the position at nodes[i], recursing right-to-left:
// it first compiles whatever the node's own payload needs (its element
// shape, its key/value shapes, its record body), then wraps that inner
// chain with this node's own ordinal-and-body behavior. It returns the
// index immediately past everything this node consumed.
func (c *compiler) compileNode(nodes []ShapeNode, i int) (*chain, int, error) {
	node := nodes[i]

	switch node.Tag {
	case TagBool, TagInt8, TagInt16, TagInt32, TagInt64, TagFloat32, TagFloat64, TagRune, TagString, TagUUID:
		ch, err := compileLeaf(node.Tag, node.GoType)
		return ch, i + 1, err

	case TagOptional:
		elem, next, err := c.compileNode(nodes, i+1)
		if err != nil {
			return nil, 0, err
		}
		return compileOptional(node.GoType, elem), next, nil

	case TagArray:
		elemTag := nodes[i+1].Tag
		elem, next, err := c.compileNode(nodes, i+1)
		if err != nil {
			return nil, 0, err
		}
		return compileArray(node.GoType, elemTag, elem), next, nil

	case TagList:
		elem, next, err := c.compileNode(nodes, i+1)
		if err != nil {
			return nil, 0, err
		}
		return compileList(node.GoType, elem), next, nil

	case TagMap:
		keyChain, next, err := c.compileNode(nodes, i+1)
		if err != nil {
			return nil, 0, err
		}
		if next >= len(nodes) || nodes[next].Tag != TagMapSeparator {
			return nil, 0, analysisErr(ReasonUnsupportedKind, "malformed map shape: missing separator")
		}
		valChain, final, err := c.compileNode(nodes, next+1)
		if err != nil {
			return nil, 0, err
		}
		return compileMap(node.GoType, keyChain, valChain), final, nil

	case TagRecord:
		ch, err := c.compileRecordNode(node.GoType)
		return ch, i + 1, err

	case TagEnum:
		ch, err := c.compileEnumNode(node.GoType)
		return ch, i + 1, err

	case TagInterface:
		ch, err := c.compileInterfaceNode(node.GoType)
		return ch, i + 1, err

	default:
		return nil, 0, analysisErr(ReasonUnsupportedKind, "cannot compile tag %v", node.Tag)
	}
}

// --- leaf scalars ---

// compileLeaf builds the codec for one leaf position. goType is the exact
// declared type at that position (e.g. a named type with underlying kind
// int8), which may differ from the bare predeclared type the ByteBuffer
// methods traffic in; results are built through reflect.New(goType) and the
// Set* family so a named leaf type round-trips as itself, not as its
// underlying predeclared type (reflect.Value.Set rejects the latter).
func compileLeaf(tag Tag, goType reflect.Type) (*chain, error) {
	ord := leafOrdinals[tag]
	ordSize := varintSize(int64(ord))

	switch tag {
	case TagBool:
		return &chain{
			write: func(buf *ByteBuffer, v reflect.Value) error {
				if err := buf.WriteVarint(int64(ord)); err != nil {
					return err
				}
				return buf.WriteBool(v.Bool())
			},
			read: func(buf *ByteBuffer) (reflect.Value, error) {
				if err := expectOrdinal(buf, ord); err != nil {
					return reflect.Value{}, err
				}
				b, err := buf.ReadBool()
				if err != nil {
					return reflect.Value{}, err
				}
				out := reflect.New(goType).Elem()
				out.SetBool(b)
				return out, nil
			},
			size: func(v reflect.Value) (int, error) { return ordSize + 1, nil },
		}, nil
	case TagInt8:
		return &chain{
			write: func(buf *ByteBuffer, v reflect.Value) error {
				if err := buf.WriteVarint(int64(ord)); err != nil {
					return err
				}
				return buf.WriteInt8(int8(v.Int()))
			},
			read: func(buf *ByteBuffer) (reflect.Value, error) {
				if err := expectOrdinal(buf, ord); err != nil {
					return reflect.Value{}, err
				}
				n, err := buf.ReadInt8()
				if err != nil {
					return reflect.Value{}, err
				}
				out := reflect.New(goType).Elem()
				out.SetInt(int64(n))
				return out, nil
			},
			size: func(v reflect.Value) (int, error) { return ordSize + 1, nil },
		}, nil
	case TagInt16:
		return &chain{
			write: func(buf *ByteBuffer, v reflect.Value) error {
				if err := buf.WriteVarint(int64(ord)); err != nil {
					return err
				}
				return buf.WriteInt16(int16(v.Int()))
			},
			read: func(buf *ByteBuffer) (reflect.Value, error) {
				if err := expectOrdinal(buf, ord); err != nil {
					return reflect.Value{}, err
				}
				n, err := buf.ReadInt16()
				if err != nil {
					return reflect.Value{}, err
				}
				out := reflect.New(goType).Elem()
				out.SetInt(int64(n))
				return out, nil
			},
			size: func(v reflect.Value) (int, error) { return ordSize + 2, nil },
		}, nil
	case TagInt32:
		return &chain{
			write: func(buf *ByteBuffer, v reflect.Value) error {
				if err := buf.WriteVarint(int64(ord)); err != nil {
					return err
				}
				return buf.WriteInt32(int32(v.Int()))
			},
			read: func(buf *ByteBuffer) (reflect.Value, error) {
				if err := expectOrdinal(buf, ord); err != nil {
					return reflect.Value{}, err
				}
				n, err := buf.ReadInt32()
				if err != nil {
					return reflect.Value{}, err
				}
				out := reflect.New(goType).Elem()
				out.SetInt(int64(n))
				return out, nil
			},
			size: func(v reflect.Value) (int, error) { return ordSize + 4, nil },
		}, nil
	case TagInt64:
		return &chain{
			write: func(buf *ByteBuffer, v reflect.Value) error {
				if err := buf.WriteVarint(int64(ord)); err != nil {
					return err
				}
				return buf.WriteInt64(v.Int())
			},
			read: func(buf *ByteBuffer) (reflect.Value, error) {
				if err := expectOrdinal(buf, ord); err != nil {
					return reflect.Value{}, err
				}
				n, err := buf.ReadInt64()
				if err != nil {
					return reflect.Value{}, err
				}
				out := reflect.New(goType).Elem()
				out.SetInt(n)
				return out, nil
			},
			size: func(v reflect.Value) (int, error) { return ordSize + 8, nil },
		}, nil
	case TagFloat32:
		return &chain{
			write: func(buf *ByteBuffer, v reflect.Value) error {
				if err := buf.WriteVarint(int64(ord)); err != nil {
					return err
				}
				return buf.WriteFloat32(float32(v.Float()))
			},
			read: func(buf *ByteBuffer) (reflect.Value, error) {
				if err := expectOrdinal(buf, ord); err != nil {
					return reflect.Value{}, err
				}
				f, err := buf.ReadFloat32()
				if err != nil {
					return reflect.Value{}, err
				}
				out := reflect.New(goType).Elem()
				out.SetFloat(float64(f))
				return out, nil
			},
			size: func(v reflect.Value) (int, error) { return ordSize + 4, nil },
		}, nil
	case TagFloat64:
		return &chain{
			write: func(buf *ByteBuffer, v reflect.Value) error {
				if err := buf.WriteVarint(int64(ord)); err != nil {
					return err
				}
				return buf.WriteFloat64(v.Float())
			},
			read: func(buf *ByteBuffer) (reflect.Value, error) {
				if err := expectOrdinal(buf, ord); err != nil {
					return reflect.Value{}, err
				}
				f, err := buf.ReadFloat64()
				if err != nil {
					return reflect.Value{}, err
				}
				out := reflect.New(goType).Elem()
				out.SetFloat(f)
				return out, nil
			},
			size: func(v reflect.Value) (int, error) { return ordSize + 8, nil },
		}, nil
	case TagRune:
		return &chain{
			write: func(buf *ByteBuffer, v reflect.Value) error {
				if err := buf.WriteVarint(int64(ord)); err != nil {
					return err
				}
				return buf.WriteCodePoint(CodePoint(v.Uint()))
			},
			read: func(buf *ByteBuffer) (reflect.Value, error) {
				if err := expectOrdinal(buf, ord); err != nil {
					return reflect.Value{}, err
				}
				cp, err := buf.ReadCodePoint()
				if err != nil {
					return reflect.Value{}, err
				}
				out := reflect.New(goType).Elem()
				out.SetUint(uint64(cp))
				return out, nil
			},
			size: func(v reflect.Value) (int, error) { return ordSize + 2, nil },
		}, nil
	case TagString:
		return &chain{
			write: func(buf *ByteBuffer, v reflect.Value) error {
				if err := buf.WriteVarint(int64(ord)); err != nil {
					return err
				}
				return buf.WriteString(v.String())
			},
			read: func(buf *ByteBuffer) (reflect.Value, error) {
				if err := expectOrdinal(buf, ord); err != nil {
					return reflect.Value{}, err
				}
				s, err := buf.ReadString()
				if err != nil {
					return reflect.Value{}, err
				}
				out := reflect.New(goType).Elem()
				out.SetString(s)
				return out, nil
			},
			size: func(v reflect.Value) (int, error) {
				s := v.String()
				return ordSize + varintSize(int64(len(s))) + len(s), nil
			},
		}, nil
	case TagUUID:
		return &chain{
			write: func(buf *ByteBuffer, v reflect.Value) error {
				if err := buf.WriteVarint(int64(ord)); err != nil {
					return err
				}
				return buf.WriteUUID(v.Interface().(uuid.UUID))
			},
			read: func(buf *ByteBuffer) (reflect.Value, error) {
				if err := expectOrdinal(buf, ord); err != nil {
					return reflect.Value{}, err
				}
				id, err := buf.ReadUUID()
				if err != nil {
					return reflect.Value{}, err
				}
				return reflect.ValueOf(id), nil
			},
			size: func(v reflect.Value) (int, error) { return ordSize + 16, nil },
		}, nil
	}
	return nil, analysisErr(ReasonUnsupportedKind, "no leaf codec for tag %v", tag)
}

// expectOrdinal reads the next ordinal off buf and confirms it is want,
// restoring the pre-read position before returning a TagMismatch so a
// caller retrying with different shape knowledge sees a clean cursor.
func expectOrdinal(buf *ByteBuffer, want Ordinal) error {
	pos := buf.Position()
	got, err := buf.ReadVarint()
	if err != nil {
		return err
	}
	if Ordinal(got) != want {
		buf.SetPosition(pos)
		return decodeErr(ReasonTagMismatch, pos, "expected ordinal %d, got %d", want, got)
	}
	return nil
}

// --- OPTIONAL ---

// compileOptional: the OPTIONAL ordinal is always written, followed by a
// one-byte presence flag (0 absent, 1 present), followed by the inner value
// only when present. This is distinct from the generic null-short-circuits-
// to-ordinal-0 rule that governs inherently
// nullable positions like pointer record references and sum interfaces,
// which never wrap their payload in an explicit OPTIONAL marker at all —
// Opt[E] is an explicit wrapper for otherwise non-nullable types such as
// Optional<Int32>, so it always carries its own marker.
func compileOptional(optType reflect.Type, elem *chain) *chain {
	ord := containerOrdinals[TagOptional]
	return &chain{
		write: func(buf *ByteBuffer, v reflect.Value) error {
			if err := buf.WriteVarint(int64(ord)); err != nil {
				return err
			}
			if !v.FieldByName("Valid").Bool() {
				return buf.WriteBool(false)
			}
			if err := buf.WriteBool(true); err != nil {
				return err
			}
			return elem.write(buf, v.FieldByName("Value"))
		},
		read: func(buf *ByteBuffer) (reflect.Value, error) {
			if err := expectOrdinal(buf, ord); err != nil {
				return reflect.Value{}, err
			}
			present, err := buf.ReadBool()
			if err != nil {
				return reflect.Value{}, err
			}
			out := reflect.New(optType).Elem()
			if !present {
				return out, nil
			}
			inner, err := elem.read(buf)
			if err != nil {
				return reflect.Value{}, err
			}
			out.FieldByName("Valid").SetBool(true)
			out.FieldByName("Value").Set(inner)
			return out, nil
		},
		size: func(v reflect.Value) (int, error) {
			if !v.FieldByName("Valid").Bool() {
				return varintSize(int64(ord)) + 1, nil
			}
			n, err := elem.size(v.FieldByName("Value"))
			if err != nil {
				return 0, err
			}
			return varintSize(int64(ord)) + 1 + n, nil
		},
	}
}

// --- ARRAY (fixed length, invariant element type) ---

// arraySampleSize bounds how many leading elements the INT32/INT64 fixed-
// width-vs-varint heuristic inspects before committing the whole array to
// one encoding.
const arraySampleSize = 32

// compileArray picks one of the four element-kind-dependent encodings the
// ARRAY writer supports: a raw-byte-buffer copy for
// INT8 elements, eight-per-byte bit-packing for BOOL, a sampled
// fixed-width-vs-varint selector for INT32/INT64, and the element chain's
// own per-position delegation for everything else.
func compileArray(arrType reflect.Type, elemTag Tag, elem *chain) *chain {
	switch elemTag {
	case TagInt8:
		return compileByteArray(arrType)
	case TagBool:
		return compileBitPackedArray(arrType)
	case TagInt32:
		return compileSampledIntArray(arrType, 4)
	case TagInt64:
		return compileSampledIntArray(arrType, 8)
	default:
		return compileGenericArray(arrType, elem)
	}
}

// compileGenericArray is path (d): per-element delegation through the
// compiled element chain, each element keeping its own ordinal prefix.
func compileGenericArray(arrType reflect.Type, elem *chain) *chain {
	ord := containerOrdinals[TagArray]
	n := arrType.Len()

	return &chain{
		write: func(buf *ByteBuffer, v reflect.Value) error {
			if err := buf.WriteVarint(int64(ord)); err != nil {
				return err
			}
			if err := buf.WriteVarint(int64(n)); err != nil {
				return err
			}
			for i := 0; i < n; i++ {
				if err := elem.write(buf, v.Index(i)); err != nil {
					return err
				}
			}
			return nil
		},
		read: func(buf *ByteBuffer) (reflect.Value, error) {
			out, n, err := readArrayHeader(buf, arrType, ord)
			if err != nil {
				return reflect.Value{}, err
			}
			for i := 0; i < n; i++ {
				v, err := elem.read(buf)
				if err != nil {
					return reflect.Value{}, err
				}
				out.Index(i).Set(v)
			}
			return out, nil
		},
		size: func(v reflect.Value) (int, error) {
			total := varintSize(int64(ord)) + varintSize(int64(n))
			for i := 0; i < n; i++ {
				s, err := elem.size(v.Index(i))
				if err != nil {
					return 0, err
				}
				total += s
			}
			return total, nil
		},
	}
}

// readArrayHeader reads the ARRAY ordinal and length shared by every
// encoding variant, confirms the wire length matches the array's fixed
// compile-time length, and allocates the result array.
func readArrayHeader(buf *ByteBuffer, arrType reflect.Type, ord Ordinal) (reflect.Value, int, error) {
	if err := expectOrdinal(buf, ord); err != nil {
		return reflect.Value{}, 0, err
	}
	pos := buf.Position()
	length, err := buf.ReadVarint()
	if err != nil {
		return reflect.Value{}, 0, err
	}
	n := arrType.Len()
	if int(length) != n {
		return reflect.Value{}, 0, decodeErr(ReasonComponentCountMismatch, pos, "array expects %d elements, wire has %d", n, length)
	}
	return reflect.New(arrType).Elem(), n, nil
}

// compileByteArray is path (a): INT8 elements are already one wire byte
// each with no escaping, so the whole array round-trips as one raw copy
// instead of n individually-ordinalled leaves.
func compileByteArray(arrType reflect.Type) *chain {
	ord := containerOrdinals[TagArray]
	n := arrType.Len()
	elemType := arrType.Elem()

	return &chain{
		write: func(buf *ByteBuffer, v reflect.Value) error {
			if err := buf.WriteVarint(int64(ord)); err != nil {
				return err
			}
			if err := buf.WriteVarint(int64(n)); err != nil {
				return err
			}
			raw := make([]byte, n)
			for i := 0; i < n; i++ {
				raw[i] = byte(v.Index(i).Int())
			}
			return buf.WriteBinary(raw)
		},
		read: func(buf *ByteBuffer) (reflect.Value, error) {
			out, n, err := readArrayHeader(buf, arrType, ord)
			if err != nil {
				return reflect.Value{}, err
			}
			raw, err := buf.ReadBinary(n)
			if err != nil {
				return reflect.Value{}, err
			}
			for i := 0; i < n; i++ {
				elemOut := reflect.New(elemType).Elem()
				elemOut.SetInt(int64(int8(raw[i])))
				out.Index(i).Set(elemOut)
			}
			return out, nil
		},
		size: func(v reflect.Value) (int, error) {
			return varintSize(int64(ord)) + varintSize(int64(n)) + n, nil
		},
	}
}

// compileBitPackedArray is path (b): BOOL elements pack eight to a byte,
// bit i of the array living in bit (i % 8) of byte (i / 8), LSB first.
func compileBitPackedArray(arrType reflect.Type) *chain {
	ord := containerOrdinals[TagArray]
	n := arrType.Len()
	packedLen := (n + 7) / 8

	return &chain{
		write: func(buf *ByteBuffer, v reflect.Value) error {
			if err := buf.WriteVarint(int64(ord)); err != nil {
				return err
			}
			if err := buf.WriteVarint(int64(n)); err != nil {
				return err
			}
			packed := make([]byte, packedLen)
			for i := 0; i < n; i++ {
				if v.Index(i).Bool() {
					packed[i/8] |= 1 << uint(i%8)
				}
			}
			return buf.WriteBinary(packed)
		},
		read: func(buf *ByteBuffer) (reflect.Value, error) {
			out, n, err := readArrayHeader(buf, arrType, ord)
			if err != nil {
				return reflect.Value{}, err
			}
			packed, err := buf.ReadBinary((n + 7) / 8)
			if err != nil {
				return reflect.Value{}, err
			}
			for i := 0; i < n; i++ {
				out.Index(i).SetBool(packed[i/8]&(1<<uint(i%8)) != 0)
			}
			return out, nil
		},
		size: func(v reflect.Value) (int, error) {
			return varintSize(int64(ord)) + varintSize(int64(n)) + packedLen, nil
		},
	}
}

// compileSampledIntArray is path (c): samples up to arraySampleSize leading
// elements and picks whichever of fixed-width or varint encoding the
// sample suggests is smaller on average, recording the choice as a
// one-byte selector (0 fixed-width, 1 varint) immediately after the
// length, since unlike (a)/(b) the choice is data-dependent and a reader
// cannot re-derive it from the element type alone.
func compileSampledIntArray(arrType reflect.Type, width int) *chain {
	ord := containerOrdinals[TagArray]
	n := arrType.Len()
	elemType := arrType.Elem()

	return &chain{
		write: func(buf *ByteBuffer, v reflect.Value) error {
			if err := buf.WriteVarint(int64(ord)); err != nil {
				return err
			}
			if err := buf.WriteVarint(int64(n)); err != nil {
				return err
			}
			useVarint := sampleFavorsVarint(v, n, width)
			if err := buf.WriteByte_(selectorByte(useVarint)); err != nil {
				return err
			}
			for i := 0; i < n; i++ {
				val := v.Index(i).Int()
				if useVarint {
					if err := buf.WriteVarint(val); err != nil {
						return err
					}
					continue
				}
				if err := writeFixedWidthInt(buf, val, width); err != nil {
					return err
				}
			}
			return nil
		},
		read: func(buf *ByteBuffer) (reflect.Value, error) {
			out, n, err := readArrayHeader(buf, arrType, ord)
			if err != nil {
				return reflect.Value{}, err
			}
			selector, err := buf.ReadByte_()
			if err != nil {
				return reflect.Value{}, err
			}
			useVarint := selector != 0
			for i := 0; i < n; i++ {
				var val int64
				if useVarint {
					val, err = buf.ReadVarint()
				} else {
					val, err = readFixedWidthInt(buf, width)
				}
				if err != nil {
					return reflect.Value{}, err
				}
				elemOut := reflect.New(elemType).Elem()
				elemOut.SetInt(val)
				out.Index(i).Set(elemOut)
			}
			return out, nil
		},
		size: func(v reflect.Value) (int, error) {
			total := varintSize(int64(ord)) + varintSize(int64(n)) + 1
			useVarint := sampleFavorsVarint(v, n, width)
			for i := 0; i < n; i++ {
				if useVarint {
					total += varintSize(v.Index(i).Int())
				} else {
					total += width
				}
			}
			return total, nil
		},
	}
}

// sampleFavorsVarint inspects up to arraySampleSize leading elements and
// reports whether their average varint size is smaller than the fixed
// width, in which case varint encoding wins the whole array. An empty or
// all-fixed-favoring sample keeps the fixed-width encoding.
func sampleFavorsVarint(v reflect.Value, n, width int) bool {
	sampleN := n
	if sampleN > arraySampleSize {
		sampleN = arraySampleSize
	}
	if sampleN == 0 {
		return false
	}
	total := 0
	for i := 0; i < sampleN; i++ {
		total += varintSize(v.Index(i).Int())
	}
	avg := float64(total) / float64(sampleN)
	return avg < float64(width)
}

func selectorByte(useVarint bool) byte {
	if useVarint {
		return 1
	}
	return 0
}

func writeFixedWidthInt(buf *ByteBuffer, val int64, width int) error {
	if width == 4 {
		return buf.WriteInt32(int32(val))
	}
	return buf.WriteInt64(val)
}

func readFixedWidthInt(buf *ByteBuffer, width int) (int64, error) {
	if width == 4 {
		v, err := buf.ReadInt32()
		return int64(v), err
	}
	return buf.ReadInt64()
}

// --- LIST (growable, covariant through its element chain) ---

func compileList(listType reflect.Type, elem *chain) *chain {
	ord := containerOrdinals[TagList]

	return &chain{
		write: func(buf *ByteBuffer, v reflect.Value) error {
			n := v.Len()
			if err := buf.WriteVarint(int64(ord)); err != nil {
				return err
			}
			if err := buf.WriteVarint(int64(n)); err != nil {
				return err
			}
			for i := 0; i < n; i++ {
				if err := elem.write(buf, v.Index(i)); err != nil {
					return err
				}
			}
			return nil
		},
		read: func(buf *ByteBuffer) (reflect.Value, error) {
			if err := expectOrdinal(buf, ord); err != nil {
				return reflect.Value{}, err
			}
			length, err := buf.ReadVarint()
			if err != nil {
				return reflect.Value{}, err
			}
			out := reflect.MakeSlice(listType, int(length), int(length))
			for i := 0; i < int(length); i++ {
				v, err := elem.read(buf)
				if err != nil {
					return reflect.Value{}, err
				}
				out.Index(i).Set(v)
			}
			return out, nil
		},
		size: func(v reflect.Value) (int, error) {
			n := v.Len()
			total := varintSize(int64(ord)) + varintSize(int64(n))
			for i := 0; i < n; i++ {
				s, err := elem.size(v.Index(i))
				if err != nil {
					return 0, err
				}
				total += s
			}
			return total, nil
		},
	}
}

// --- MAP ---

func compileMap(mapType reflect.Type, key, val *chain) *chain {
	ord := containerOrdinals[TagMap]

	return &chain{
		write: func(buf *ByteBuffer, v reflect.Value) error {
			keys := sortedMapKeys(v)
			if err := buf.WriteVarint(int64(ord)); err != nil {
				return err
			}
			if err := buf.WriteVarint(int64(len(keys))); err != nil {
				return err
			}
			for _, k := range keys {
				if err := key.write(buf, k); err != nil {
					return err
				}
				if err := val.write(buf, v.MapIndex(k)); err != nil {
					return err
				}
			}
			return nil
		},
		read: func(buf *ByteBuffer) (reflect.Value, error) {
			if err := expectOrdinal(buf, ord); err != nil {
				return reflect.Value{}, err
			}
			length, err := buf.ReadVarint()
			if err != nil {
				return reflect.Value{}, err
			}
			out := reflect.MakeMapWithSize(mapType, int(length))
			for i := 0; i < int(length); i++ {
				k, err := key.read(buf)
				if err != nil {
					return reflect.Value{}, err
				}
				v, err := val.read(buf)
				if err != nil {
					return reflect.Value{}, err
				}
				out.SetMapIndex(k, v)
			}
			return out, nil
		},
		size: func(v reflect.Value) (int, error) {
			keys := v.MapKeys()
			total := varintSize(int64(ord)) + varintSize(int64(len(keys)))
			for _, k := range keys {
				ks, err := key.size(k)
				if err != nil {
					return 0, err
				}
				vs, err := val.size(v.MapIndex(k))
				if err != nil {
					return 0, err
				}
				total += ks + vs
			}
			return total, nil
		},
	}
}

// sortedMapKeys orders a map's keys by their formatted value so encoding a
// given logical map always produces the same byte sequence; Go's own map
// iteration order is randomized per-process and unsuitable for a wire
// format. Decoders tolerate any entry order; a stable one helps anyone
// diffing encoded output.
func sortedMapKeys(v reflect.Value) []reflect.Value {
	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return mapKeySortString(keys[i]) < mapKeySortString(keys[j])
	})
	return keys
}

func mapKeySortString(v reflect.Value) string {
	switch v.Kind() {
	case reflect.String:
		return "s" + v.String()
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		return "i" + formatSortableInt(v.Int())
	case reflect.Uint16:
		return "i" + formatSortableInt(int64(v.Uint()))
	case reflect.Bool:
		if v.Bool() {
			return "b1"
		}
		return "b0"
	case reflect.Float32, reflect.Float64:
		return "f" + formatSortableFloat(v.Float())
	case reflect.Array:
		// UUID: 16 raw bytes, already byte-order comparable.
		buf := make([]byte, v.Len())
		for i := range buf {
			buf[i] = byte(v.Index(i).Uint())
		}
		return "u" + string(buf)
	default:
		return "?"
	}
}

// formatSortableFloat renders a float64 so lexicographic string ordering
// matches numeric ordering: for negatives the 63 magnitude bits are
// inverted (keeping the sign bit), which makes the raw bits compare as
// signed integers in numeric order, and formatSortableInt does the rest.
func formatSortableFloat(f float64) string {
	bits := int64(math.Float64bits(f))
	if bits < 0 {
		bits ^= math.MaxInt64
	}
	return formatSortableInt(bits)
}

// formatSortableInt renders a signed integer so that lexicographic string
// ordering matches numeric ordering, by biasing into an unsigned range and
// zero-padding to the 20 digits the largest uint64 needs.
func formatSortableInt(n int64) string {
	u := uint64(n) ^ (1 << 63)
	const digits = "0123456789"
	buf := [20]byte{}
	for i := len(buf) - 1; i >= 0; i-- {
		buf[i] = digits[u%10]
		u /= 10
	}
	return string(buf[:])
}

// --- RECORD ---

func (c *compiler) compileRecordNode(goType reflect.Type) (*chain, error) {
	if goType.Kind() == reflect.Ptr {
		structType := goType.Elem()
		ord, ok := c.dispatch.ordinalOf(structType)
		if !ok {
			return nil, analysisErr(ReasonUnsupportedKind, "%v was not discovered as a reachable record type", structType)
		}
		rc, err := c.recordChainFor(structType)
		if err != nil {
			return nil, err
		}
		return &chain{
			write: func(buf *ByteBuffer, v reflect.Value) error {
				if v.IsNil() {
					return buf.WriteVarint(int64(OrdinalNull))
				}
				if err := buf.WriteVarint(int64(ord)); err != nil {
					return err
				}
				return rc.writeInto(buf, v.Elem())
			},
			read: func(buf *ByteBuffer) (reflect.Value, error) {
				pos := buf.Position()
				got, err := buf.ReadVarint()
				if err != nil {
					return reflect.Value{}, err
				}
				if Ordinal(got) == OrdinalNull {
					return reflect.Zero(goType), nil
				}
				if Ordinal(got) != ord {
					buf.SetPosition(pos)
					return reflect.Value{}, decodeErr(ReasonTagMismatch, pos, "expected record ordinal %d or null, got %d", ord, got)
				}
				structVal, err := rc.readInto(buf, structType, c.dispatch, c.lenient)
				if err != nil {
					return reflect.Value{}, err
				}
				ptr := reflect.New(structType)
				ptr.Elem().Set(structVal)
				return ptr, nil
			},
			size: func(v reflect.Value) (int, error) {
				if v.IsNil() {
					return varintSize(int64(OrdinalNull)), nil
				}
				n, err := rc.sizeOf(v.Elem())
				if err != nil {
					return 0, err
				}
				return varintSize(int64(ord)) + n, nil
			},
		}, nil
	}

	structType := goType
	ord, ok := c.dispatch.ordinalOf(structType)
	if !ok {
		return nil, analysisErr(ReasonUnsupportedKind, "%v was not discovered as a reachable record type", structType)
	}
	rc, err := c.recordChainFor(structType)
	if err != nil {
		return nil, err
	}
	return &chain{
		write: func(buf *ByteBuffer, v reflect.Value) error {
			if err := buf.WriteVarint(int64(ord)); err != nil {
				return err
			}
			return rc.writeInto(buf, v)
		},
		read: func(buf *ByteBuffer) (reflect.Value, error) {
			if err := expectOrdinal(buf, ord); err != nil {
				return reflect.Value{}, err
			}
			return rc.readInto(buf, structType, c.dispatch, c.lenient)
		},
		size: func(v reflect.Value) (int, error) {
			n, err := rc.sizeOf(v)
			if err != nil {
				return 0, err
			}
			return varintSize(int64(ord)) + n, nil
		},
	}, nil
}

// recordChainFor lazily compiles and memoizes the field chains of a
// record's struct type. A placeholder is stored before the fields are
// filled in so a type that (incorrectly) referenced itself would unwind as
// a nil-field bug rather than infinite recursion; discover already rejects
// direct self-reference outside a sum, so in practice this never recurses.
func (c *compiler) recordChainFor(structType reflect.Type) (*recordChain, error) {
	if rc, ok := c.records[structType]; ok {
		return rc, nil
	}
	rc := &recordChain{}
	c.records[structType] = rc

	var fields []recordField
	for i := 0; i < structType.NumField(); i++ {
		f := structType.Field(i)
		if f.PkgPath != "" {
			continue
		}
		shape, err := analyzeType(f.Type)
		if err != nil {
			return nil, err
		}
		fc, err := c.compileShape(shape)
		if err != nil {
			return nil, err
		}
		fields = append(fields, recordField{index: i, c: fc})
	}
	rc.fields = fields
	return rc, nil
}

// --- ENUM ---

func (c *compiler) compileEnumNode(enumType reflect.Type) (*chain, error) {
	ord, ok := c.dispatch.ordinalOf(enumType)
	if !ok {
		return nil, analysisErr(ReasonUnsupportedKind, "%v was not discovered as a reachable enum type", enumType)
	}
	names, _ := enumConstants(enumType)
	count := int64(len(names))

	return &chain{
		write: func(buf *ByteBuffer, v reflect.Value) error {
			idx := v.Int()
			if idx < 0 || idx >= count {
				return analysisErr(ReasonConstantOutOfRange, "%v value %d has no matching registered constant", enumType, idx)
			}
			if err := buf.WriteVarint(int64(ord)); err != nil {
				return err
			}
			return buf.WriteVarint(idx)
		},
		read: func(buf *ByteBuffer) (reflect.Value, error) {
			if err := expectOrdinal(buf, ord); err != nil {
				return reflect.Value{}, err
			}
			pos := buf.Position()
			idx, err := buf.ReadVarint()
			if err != nil {
				return reflect.Value{}, err
			}
			if idx < 0 || idx >= count {
				return reflect.Value{}, decodeErr(ReasonConstantOutOfRange, pos, "%v index %d out of range [0,%d)", enumType, idx, count)
			}
			out := reflect.New(enumType).Elem()
			out.SetInt(idx)
			return out, nil
		},
		size: func(v reflect.Value) (int, error) {
			return varintSize(int64(ord)) + varintSize(v.Int()), nil
		},
	}, nil
}

// --- INTERFACE (sum) ---

// variantCodec is one concrete kind an interface position can dispatch to,
// resolved and compiled eagerly at Build so the write/read closures never
// touch compiler state at runtime; concurrent Encode/Decode calls on one
// Engine share these lookups read-only.
type variantCodec struct {
	ord    Ordinal
	kind   userKind
	typ    reflect.Type
	rc     *recordChain // records only
	count  int64        // enums only: registered constant count
	boxPtr bool         // variant registered as a pointer type
}

// collectVariants resolves ifaceType's registered variant set into per-type
// and per-ordinal codec lookups. A nested sum variant contributes its own
// variants, flattened: a runtime value behind the outer interface always
// carries some concrete record or enum type, never the inner interface.
func (c *compiler) collectVariants(ifaceType reflect.Type, byType map[reflect.Type]*variantCodec, byOrdinal map[Ordinal]*variantCodec, seen map[reflect.Type]bool) error {
	if seen[ifaceType] {
		return nil
	}
	seen[ifaceType] = true

	variants, ok := sumVariants(ifaceType)
	if !ok {
		return analysisErr(ReasonUnresolvedGeneric, "interface type %v has no registered sum variants; call RegisterSum first", ifaceType)
	}
	for _, v := range variants {
		if v.Kind() == reflect.Interface {
			if err := c.collectVariants(v, byType, byOrdinal, seen); err != nil {
				return err
			}
			continue
		}
		concrete := recordStructType(v)
		ord, ok := c.dispatch.ordinalOf(concrete)
		if !ok {
			return analysisErr(ReasonUnsupportedKind, "%v was not discovered as a reachable variant of %v", concrete, ifaceType)
		}
		vc := &variantCodec{ord: ord, typ: concrete, boxPtr: v.Kind() == reflect.Ptr}
		if names, isEnum := enumConstants(concrete); isEnum {
			vc.kind = userEnum
			vc.count = int64(len(names))
		} else {
			rc, err := c.recordChainFor(concrete)
			if err != nil {
				return err
			}
			vc.kind = userRecord
			vc.rc = rc
		}
		byType[concrete] = vc
		byOrdinal[ord] = vc
	}
	return nil
}

func (c *compiler) compileInterfaceNode(ifaceType reflect.Type) (*chain, error) {
	if ch, ok := c.ifaces[ifaceType]; ok {
		return ch, nil
	}
	// Memoize before compiling variants: a sum that recurses through one of
	// its own records (Expr -> Add -> Expr) must find this chain mid-flight.
	ch := &chain{}
	c.ifaces[ifaceType] = ch

	byType := map[reflect.Type]*variantCodec{}
	byOrdinal := map[Ordinal]*variantCodec{}
	if err := c.collectVariants(ifaceType, byType, byOrdinal, map[reflect.Type]bool{}); err != nil {
		return nil, err
	}
	dispatch := c.dispatch
	lenient := c.lenient

	ch.write = func(buf *ByteBuffer, v reflect.Value) error {
		if v.IsNil() {
			return buf.WriteVarint(int64(OrdinalNull))
		}
		concrete, concreteType, err := unwrapSumValue(v)
		if err != nil {
			return err
		}
		vc, ok := byType[concreteType]
		if !ok {
			return analysisErr(ReasonUnsupportedKind, "%v is not a registered variant of %v", concreteType, ifaceType)
		}
		if err := buf.WriteVarint(int64(vc.ord)); err != nil {
			return err
		}
		if vc.kind == userEnum {
			idx := concrete.Int()
			if idx < 0 || idx >= vc.count {
				return analysisErr(ReasonConstantOutOfRange, "%v value %d has no matching registered constant", concreteType, idx)
			}
			return buf.WriteVarint(idx)
		}
		return vc.rc.writeInto(buf, concrete)
	}
	ch.read = func(buf *ByteBuffer) (reflect.Value, error) {
		pos := buf.Position()
		got, err := buf.ReadVarint()
		if err != nil {
			return reflect.Value{}, err
		}
		if Ordinal(got) == OrdinalNull {
			return reflect.Zero(ifaceType), nil
		}
		vc, ok := byOrdinal[Ordinal(got)]
		if !ok {
			buf.SetPosition(pos)
			if _, known := dispatch.rowAt(Ordinal(got)); !known {
				return reflect.Value{}, decodeErr(ReasonUnknownOrdinal, pos, "ordinal %d does not name a known type", got)
			}
			return reflect.Value{}, decodeErr(ReasonSchemaMismatch, pos, "ordinal %d is not a permitted variant of %v", got, ifaceType)
		}
		if vc.kind == userEnum {
			idxPos := buf.Position()
			idx, err := buf.ReadVarint()
			if err != nil {
				return reflect.Value{}, err
			}
			if idx < 0 || idx >= vc.count {
				return reflect.Value{}, decodeErr(ReasonConstantOutOfRange, idxPos, "%v index %d out of range [0,%d)", vc.typ, idx, vc.count)
			}
			out := reflect.New(vc.typ).Elem()
			out.SetInt(idx)
			return out, nil
		}
		structVal, err := vc.rc.readInto(buf, vc.typ, dispatch, lenient)
		if err != nil {
			return reflect.Value{}, err
		}
		if vc.boxPtr {
			ptr := reflect.New(vc.typ)
			ptr.Elem().Set(structVal)
			return ptr, nil
		}
		return structVal, nil
	}
	ch.size = func(v reflect.Value) (int, error) {
		if v.IsNil() {
			return varintSize(int64(OrdinalNull)), nil
		}
		concrete, concreteType, err := unwrapSumValue(v)
		if err != nil {
			return 0, err
		}
		vc, ok := byType[concreteType]
		if !ok {
			return 0, analysisErr(ReasonUnsupportedKind, "%v is not a registered variant of %v", concreteType, ifaceType)
		}
		if vc.kind == userEnum {
			return varintSize(int64(vc.ord)) + varintSize(concrete.Int()), nil
		}
		n, err := vc.rc.sizeOf(concrete)
		if err != nil {
			return 0, err
		}
		return varintSize(int64(vc.ord)) + n, nil
	}
	return ch, nil
}

// unwrapSumValue peels the pointer (if any) off an interface's dynamic
// value, returning the addressable-or-not struct value and its struct type.
func unwrapSumValue(v reflect.Value) (reflect.Value, reflect.Type, error) {
	concrete := v.Elem()
	if concrete.Kind() == reflect.Ptr {
		if concrete.IsNil() {
			return reflect.Value{}, nil, analysisErr(ReasonUnsupportedKind, "sum value holds a nil %v pointer", concrete.Type())
		}
		concrete = concrete.Elem()
	}
	return concrete, concrete.Type(), nil
}
