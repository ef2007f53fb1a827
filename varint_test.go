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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []int64{
		0, 1, -1, 2, -2, 63, -64, 64, -65,
		math.MaxInt32, math.MinInt32,
		math.MaxInt64, math.MinInt64,
	}
	for _, n := range values {
		buf := appendVarint(nil, n)
		got, consumed, err := readVarint(buf, 0)
		require.NoError(t, err)
		require.Equal(t, len(buf), consumed)
		require.Equal(t, n, got)
		require.Equal(t, len(buf), varintSize(n))
	}
}

func TestVarintSmallMagnitudesAreShort(t *testing.T) {
	require.Equal(t, 1, varintSize(0))
	require.Equal(t, 1, varintSize(-1))
	require.Equal(t, 1, varintSize(63))
	require.Equal(t, 1, varintSize(-64))
	require.Greater(t, varintSize(math.MaxInt64), 1)
}

func TestVarintTruncatedBuffer(t *testing.T) {
	buf := appendVarint(nil, math.MaxInt64)
	_, _, err := readVarint(buf[:len(buf)-1], 0)
	require.Error(t, err)
	werr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, KindBuffer, werr.Kind)
	require.Equal(t, ReasonUnderflow, werr.Reason)
}

func TestVarintContinuationRunTooLong(t *testing.T) {
	// 11 continuation bytes, none terminating: exceeds maxVarintBytes.
	malformed := make([]byte, maxVarintBytes+1)
	for i := range malformed {
		malformed[i] = 0x80
	}
	_, _, err := readVarint(malformed, 0)
	require.Error(t, err)
	werr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ReasonMalformedVarint, werr.Reason)
}

func TestByteBufferVarintInPlace(t *testing.T) {
	buf := NewByteBufferSize(32)
	require.NoError(t, buf.WriteVarint(12345))
	require.NoError(t, buf.WriteVarint(-1))
	buf.SetPosition(0)
	v1, err := buf.ReadVarint()
	require.NoError(t, err)
	require.Equal(t, int64(12345), v1)
	v2, err := buf.ReadVarint()
	require.NoError(t, err)
	require.Equal(t, int64(-1), v2)
}
