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
	"crypto/sha256"
	"encoding/binary"
	"reflect"
	"sort"
	"strings"
)

// rootFingerprint computes the 64-bit structural fingerprint strict mode
// prefixes every stream with: a cryptographic hash of the
// root shape plus the signature of every discovered user type — for a
// record its name and ordered (field-name, field-shape) list, for an enum
// its name and ordered constant names, for a sum its name and sorted
// variant names — truncated to 8 bytes. Covering the whole discovered set
// means evolving any nested type changes the prefix, not just evolving the
// root itself.
func rootFingerprint(ds *discoverySet) (uint64, error) {
	desc, err := structuralDescriptor(ds)
	if err != nil {
		return 0, err
	}
	sum := sha256.Sum256([]byte(desc))
	return binary.BigEndian.Uint64(sum[:8]), nil
}

func structuralDescriptor(ds *discoverySet) (string, error) {
	var b strings.Builder
	b.WriteString("SHAPE:")
	b.WriteString(shapeDescriptor(ds.rootShape))

	// ds.order is already ordinal order, itself a pure function of the
	// discovered name set, so the descriptor is cross-process stable.
	for _, t := range ds.order {
		b.WriteString("\n")
		switch ds.types[t].Kind {
		case userRecord:
			desc, err := recordDescriptor(t)
			if err != nil {
				return "", err
			}
			b.WriteString(desc)
		case userEnum:
			names, _ := enumConstants(t)
			b.WriteString("ENUM:" + fqName(t) + ":" + strings.Join(names, ","))
		case userSum:
			variants, _ := sumVariants(t)
			names := make([]string, len(variants))
			for i, v := range variants {
				names[i] = fqName(recordStructType(v))
			}
			sort.Strings(names)
			b.WriteString("SUM:" + fqName(t) + ":" + strings.Join(names, ","))
		}
	}
	return b.String(), nil
}

func recordDescriptor(t reflect.Type) (string, error) {
	var b strings.Builder
	b.WriteString("RECORD:")
	b.WriteString(fqName(t))
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue
		}
		shape, err := analyzeType(f.Type)
		if err != nil {
			return "", err
		}
		b.WriteString(";")
		b.WriteString(f.Name)
		b.WriteString(":")
		b.WriteString(shapeDescriptor(shape))
	}
	return b.String(), nil
}

func shapeDescriptor(shape *TypeShape) string {
	parts := make([]string, len(shape.Nodes))
	for i, n := range shape.Nodes {
		switch n.Tag {
		case TagMapSeparator:
			parts[i] = "|"
		case TagRecord, TagEnum, TagInterface:
			parts[i] = n.Tag.String() + "(" + fqName(recordStructType(n.GoType)) + ")"
		default:
			parts[i] = n.Tag.String()
		}
	}
	return globalInterner.intern(strings.Join(parts, ","))
}

func writeFingerprint(buf *ByteBuffer, fp uint64) error {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, fp)
	return buf.WriteBinary(raw)
}

func readFingerprint(buf *ByteBuffer) (uint64, error) {
	raw, err := buf.ReadBinary(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(raw), nil
}

// skipValue discards one self-describing wire value without materializing
// it, used in lenient mode when a record's wire component count exceeds
// what the running schema knows about (append-only
// evolution): every value on the wire carries its own ordinal, so a
// stream written by a newer schema can always be walked structurally even
// by a reader that doesn't know what the new trailing fields mean.
func skipValue(buf *ByteBuffer, dispatch *dispatchTable) error {
	pos := buf.Position()
	got, err := buf.ReadVarint()
	if err != nil {
		return err
	}
	ord := Ordinal(got)
	if ord == OrdinalNull {
		return nil
	}
	if ord < 0 {
		if tag, ok := ordinalToLeafTag[ord]; ok {
			return skipLeafBody(buf, tag)
		}
		if tag, ok := ordinalToContainerTag[ord]; ok {
			return skipContainerBody(buf, tag, dispatch)
		}
		return decodeErr(ReasonUnknownOrdinal, pos, "unknown built-in ordinal %d", got)
	}

	row, ok := dispatch.rowAt(ord)
	if !ok {
		return decodeErr(ReasonUnknownOrdinal, pos, "unknown user ordinal %d", got)
	}
	if row.Kind == userEnum {
		_, err := buf.ReadVarint()
		return err
	}
	return skipRecordBody(buf, dispatch)
}

func skipLeafBody(buf *ByteBuffer, tag Tag) error {
	var err error
	switch tag {
	case TagBool, TagInt8:
		_, err = buf.ReadByte_()
	case TagInt16, TagRune:
		_, err = buf.ReadBinary(2)
	case TagInt32, TagFloat32:
		_, err = buf.ReadBinary(4)
	case TagInt64, TagFloat64:
		_, err = buf.ReadBinary(8)
	case TagUUID:
		_, err = buf.ReadBinary(16)
	case TagString:
		var n int64
		n, err = buf.ReadVarint()
		if err == nil {
			_, err = buf.ReadBinary(int(n))
		}
	}
	return err
}

func skipContainerBody(buf *ByteBuffer, tag Tag, dispatch *dispatchTable) error {
	switch tag {
	case TagOptional:
		present, err := buf.ReadBool()
		if err != nil {
			return err
		}
		if !present {
			return nil
		}
		return skipValue(buf, dispatch)
	case TagArray, TagList:
		// Assumes per-element delegation. An ARRAY that took one of the
		// fixed-width fast paths (raw bytes, bit-packed bools, sampled ints)
		// is not self-describing and cannot appear as a skippable trailing
		// field; its elements carry no ordinals to walk.
		n, err := buf.ReadVarint()
		if err != nil {
			return err
		}
		for i := int64(0); i < n; i++ {
			if err := skipValue(buf, dispatch); err != nil {
				return err
			}
		}
		return nil
	case TagMap:
		n, err := buf.ReadVarint()
		if err != nil {
			return err
		}
		for i := int64(0); i < n; i++ {
			if err := skipValue(buf, dispatch); err != nil {
				return err
			}
			if err := skipValue(buf, dispatch); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func skipRecordBody(buf *ByteBuffer, dispatch *dispatchTable) error {
	n, err := buf.ReadVarint()
	if err != nil {
		return err
	}
	for i := int64(0); i < n; i++ {
		if err := skipValue(buf, dispatch); err != nil {
			return err
		}
	}
	return nil
}
