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
	"sync"

	"github.com/spaolacci/murmur3"
)

// descriptorInterner deduplicates the field-shape descriptor strings
// produced for every record field analyzed during a Build: many records
// share identical field shapes ("STRING", "ARRAY,INT32", ...), and a
// large schema re-derives the same descriptor repeatedly across sibling
// types. Buckets are keyed by a fast non-cryptographic hash; content
// equality breaks collisions.
type descriptorInterner struct {
	mu     sync.Mutex
	bucket map[uint64][]string
}

var globalInterner = &descriptorInterner{bucket: map[uint64][]string{}}

// intern returns a canonical instance of s: the first string with the same
// murmur3 hash AND identical content wins; later callers passing an
// equal-but-distinct string get that same backing string back.
func (in *descriptorInterner) intern(s string) string {
	h := murmur3.Sum64([]byte(s))

	in.mu.Lock()
	defer in.mu.Unlock()

	for _, existing := range in.bucket[h] {
		if existing == s {
			return existing
		}
	}
	in.bucket[h] = append(in.bucket[h], s)
	return s
}
