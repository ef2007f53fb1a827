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
	"encoding/binary"
	"math"
	"unicode/utf8"
	"unsafe"

	"github.com/google/uuid"
)

// ByteBuffer is the exclusively-borrowed, caller-owned byte cursor the
// engine writes to and reads from. Unlike a growable bytes.Buffer, capacity
// is fixed at construction: Encode must be handed a buffer with at least
// SizeOf(v) bytes remaining.
type ByteBuffer struct {
	data []byte
	pos  int
}

// NewByteBuffer wraps an existing slice for reading or in-place writing.
func NewByteBuffer(data []byte) *ByteBuffer {
	return &ByteBuffer{data: data}
}

// NewByteBufferSize allocates a fixed-capacity buffer of exactly n bytes.
func NewByteBufferSize(n int) *ByteBuffer {
	return &ByteBuffer{data: make([]byte, n)}
}

// Bytes returns the buffer's full backing slice (not just the written
// prefix); callers that need the serialized span combine it with Position.
func (b *ByteBuffer) Bytes() []byte { return b.data }

// Position returns the current cursor; Encode/Decode advance it by exactly
// the number of bytes the call consumed.
func (b *ByteBuffer) Position() int { return b.pos }

// SetPosition rewinds or fast-forwards the cursor; used to restore the
// pre-call position on BufferError/DecodeError.
func (b *ByteBuffer) SetPosition(p int) { b.pos = p }

// Remaining reports how many unconsumed bytes are left.
func (b *ByteBuffer) Remaining() int { return len(b.data) - b.pos }

func (b *ByteBuffer) require(n int) error {
	if b.Remaining() < n {
		return bufferErr(ReasonUnderflow, b.pos, "need %d bytes, %d remaining", n, b.Remaining())
	}
	return nil
}

// WriteByte_ writes a single raw byte; the trailing underscore keeps the
// method set clear of io.ByteWriter's WriteByte signature.
func (b *ByteBuffer) WriteByte_(v byte) error {
	if err := b.require(1); err != nil {
		return err
	}
	b.data[b.pos] = v
	b.pos++
	return nil
}

// ReadByte_ is the mirror of WriteByte_.
func (b *ByteBuffer) ReadByte_() (byte, error) {
	if err := b.require(1); err != nil {
		return 0, err
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

// WriteBinary copies raw bytes verbatim (UTF-8 string bodies, UUIDs, and
// the raw-copy array fast path).
func (b *ByteBuffer) WriteBinary(p []byte) error {
	if err := b.require(len(p)); err != nil {
		return err
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return nil
}

// ReadBinary returns the next n raw bytes.
func (b *ByteBuffer) ReadBinary(n int) ([]byte, error) {
	if err := b.require(n); err != nil {
		return nil, err
	}
	out := b.data[b.pos : b.pos+n]
	b.pos += n
	return out, nil
}

func (b *ByteBuffer) WriteBool(v bool) error {
	if v {
		return b.WriteByte_(1)
	}
	return b.WriteByte_(0)
}

func (b *ByteBuffer) ReadBool() (bool, error) {
	v, err := b.ReadByte_()
	return v != 0, err
}

func (b *ByteBuffer) WriteInt8(v int8) error { return b.WriteByte_(byte(v)) }

func (b *ByteBuffer) ReadInt8() (int8, error) {
	v, err := b.ReadByte_()
	return int8(v), err
}

func (b *ByteBuffer) WriteInt16(v int16) error {
	if err := b.require(2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b.data[b.pos:], uint16(v))
	b.pos += 2
	return nil
}

func (b *ByteBuffer) ReadInt16() (int16, error) {
	if err := b.require(2); err != nil {
		return 0, err
	}
	v := int16(binary.BigEndian.Uint16(b.data[b.pos:]))
	b.pos += 2
	return v, nil
}

func (b *ByteBuffer) WriteInt32(v int32) error {
	if err := b.require(4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b.data[b.pos:], uint32(v))
	b.pos += 4
	return nil
}

func (b *ByteBuffer) ReadInt32() (int32, error) {
	if err := b.require(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(b.data[b.pos:]))
	b.pos += 4
	return v, nil
}

func (b *ByteBuffer) WriteInt64(v int64) error {
	if err := b.require(8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b.data[b.pos:], uint64(v))
	b.pos += 8
	return nil
}

func (b *ByteBuffer) ReadInt64() (int64, error) {
	if err := b.require(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(b.data[b.pos:]))
	b.pos += 8
	return v, nil
}

func (b *ByteBuffer) WriteFloat32(v float32) error {
	return b.WriteInt32(int32(math.Float32bits(v)))
}

func (b *ByteBuffer) ReadFloat32() (float32, error) {
	v, err := b.ReadInt32()
	return math.Float32frombits(uint32(v)), err
}

func (b *ByteBuffer) WriteFloat64(v float64) error {
	return b.WriteInt64(int64(math.Float64bits(v)))
}

func (b *ByteBuffer) ReadFloat64() (float64, error) {
	v, err := b.ReadInt64()
	return math.Float64frombits(uint64(v)), err
}

// WriteCodePoint writes a single BMP code point as a 2-byte big-endian
// UTF-16 unit. CodePoint is a 16-bit Go type, so there is no silent
// coercion: the type itself cannot hold a value that would not round-trip
// through these 2 bytes.
func (b *ByteBuffer) WriteCodePoint(v CodePoint) error {
	if err := b.require(2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b.data[b.pos:], uint16(v))
	b.pos += 2
	return nil
}

func (b *ByteBuffer) ReadCodePoint() (CodePoint, error) {
	if err := b.require(2); err != nil {
		return 0, err
	}
	v := CodePoint(binary.BigEndian.Uint16(b.data[b.pos:]))
	b.pos += 2
	return v, nil
}

// WriteString writes a varint byte-count followed by UTF-8 bytes, using an
// unsafe zero-copy string-to-bytes reinterpretation.
func (b *ByteBuffer) WriteString(s string) error {
	n := int64(len(s))
	if err := b.writeVarintInPlace(n); err != nil {
		return err
	}
	return b.WriteBinary(unsafeStringBytes(s))
}

func (b *ByteBuffer) ReadString() (string, error) {
	n, nb, err := readVarint(b.data, b.pos)
	if err != nil {
		return "", err
	}
	b.pos += nb
	raw, err := b.ReadBinary(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", decodeErr(ReasonInvalidUTF8, b.pos-len(raw), "invalid UTF-8 string body")
	}
	return string(raw), nil
}

func (b *ByteBuffer) WriteUUID(id uuid.UUID) error {
	return b.WriteBinary(id[:])
}

func (b *ByteBuffer) ReadUUID() (uuid.UUID, error) {
	raw, err := b.ReadBinary(16)
	if err != nil {
		return uuid.UUID{}, err
	}
	var id uuid.UUID
	copy(id[:], raw)
	return id, nil
}

// WriteVarint and ReadVarint expose the ZigZag varint codec through the
// buffer cursor.
func (b *ByteBuffer) WriteVarint(n int64) error {
	return b.writeVarintInPlace(n)
}

func (b *ByteBuffer) ReadVarint() (int64, error) {
	n, nb, err := readVarint(b.data, b.pos)
	if err != nil {
		return 0, err
	}
	b.pos += nb
	return n, nil
}

// writeVarintInPlace encodes n directly into b.data starting at b.pos,
// without growing or re-slicing the backing array.
func (b *ByteBuffer) writeVarintInPlace(n int64) error {
	size := varintSize(n)
	if err := b.require(size); err != nil {
		return err
	}
	u := zigzagEncode64(n)
	i := 0
	for u >= 0x80 {
		b.data[b.pos+i] = byte(u) | 0x80
		u >>= 7
		i++
	}
	b.data[b.pos+i] = byte(u)
	b.pos += size
	return nil
}

// unsafeStringBytes reinterprets s's bytes without copying. Safe here
// because WriteBinary only reads the slice before the string goes out of
// scope.
func unsafeStringBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
