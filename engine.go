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
	"fmt"
	"reflect"
	"sync"

	"golang.org/x/sync/singleflight"
)

// CompatMode selects the schema compatibility contract an Engine enforces.
type CompatMode int8

const (
	// ModeStrict prefixes every stream with an 8-byte fingerprint and
	// rejects any mismatch at decode time. The default.
	ModeStrict CompatMode = iota
	// ModeLenient omits the fingerprint and tolerates append-only field
	// growth via component-count reconciliation (chain.go's recordChain).
	ModeLenient
)

// Option configures a Build or GetEngine call.
type Option func(*engineConfig)

type engineConfig struct {
	mode CompatMode
}

// WithStrictSchema selects strict mode (the default; passing it explicitly
// is only useful to override an earlier option in the same call).
func WithStrictSchema() Option {
	return func(c *engineConfig) { c.mode = ModeStrict }
}

// WithLenientSchema selects lenient, append-only schema evolution.
func WithLenientSchema() Option {
	return func(c *engineConfig) { c.mode = ModeLenient }
}

// Engine is a fully compiled serializer for one root Go type: Discovery's
// ordinal assignment, the dispatch table built from it, and the
// right-to-left chain of writer/reader/sizer closures the chain compiler
// produced, bundled with the compatibility mode it was built under.
// An Engine is immutable after Build and safe for concurrent use.
type Engine struct {
	rootType    reflect.Type
	dispatch    *dispatchTable
	chain       *chain
	mode        CompatMode
	fingerprint uint64
}

// Build performs the full pipeline for rootType once: type analysis,
// transitive discovery, dispatch table construction, chain compilation,
// and (in strict mode) fingerprint derivation. The result is expensive
// enough to want caching across repeated calls for the same type — see
// GetEngine.
func Build(rootType reflect.Type, opts ...Option) (*Engine, error) {
	if rootType == nil {
		return nil, analysisErr(ReasonUnsupportedKind, "Build: nil root type")
	}

	cfg := engineConfig{mode: ModeStrict}
	for _, o := range opts {
		o(&cfg)
	}

	ds, err := discover(rootType)
	if err != nil {
		return nil, err
	}

	dispatch := buildDispatch(ds)
	comp := newCompiler(dispatch, cfg.mode == ModeLenient)
	rootChain, err := comp.compileShape(ds.rootShape)
	if err != nil {
		return nil, err
	}

	var fp uint64
	if cfg.mode == ModeStrict {
		fp, err = rootFingerprint(ds)
		if err != nil {
			return nil, err
		}
	}

	return &Engine{
		rootType:    rootType,
		dispatch:    dispatch,
		chain:       rootChain,
		mode:        cfg.mode,
		fingerprint: fp,
	}, nil
}

// Encode writes instance (which must have the Engine's root type) to buf,
// prefixed with the fingerprint in strict mode. On any BufferError the
// buffer's position is restored to its pre-call value: a partially-written
// instance never leaves the cursor mid-stream.
func (e *Engine) Encode(instance interface{}, buf *ByteBuffer) error {
	pos := buf.Position()
	if err := e.encode(instance, buf); err != nil {
		buf.SetPosition(pos)
		return err
	}
	return nil
}

func (e *Engine) encode(instance interface{}, buf *ByteBuffer) error {
	if e.mode == ModeStrict {
		if err := writeFingerprint(buf, e.fingerprint); err != nil {
			return err
		}
	}
	return e.chain.write(buf, e.rootValue(instance))
}

// Decode reads one value of the Engine's root type from buf, verifying the
// fingerprint first in strict mode. On any BufferError or DecodeError the
// buffer's position is restored to its pre-call value: a partially-
// consumed, malformed stream never corrupts state beyond what the caller
// already had before calling Decode.
func (e *Engine) Decode(buf *ByteBuffer) (interface{}, error) {
	pos := buf.Position()
	v, err := e.decode(buf)
	if err != nil {
		buf.SetPosition(pos)
		return nil, err
	}
	return v, nil
}

func (e *Engine) decode(buf *ByteBuffer) (interface{}, error) {
	if e.mode == ModeStrict {
		got, err := readFingerprint(buf)
		if err != nil {
			return nil, err
		}
		if got != e.fingerprint {
			return nil, decodeErr(ReasonSchemaMismatch, buf.Position(),
				"fingerprint mismatch: stream was encoded from a different schema (expected %016x, got %016x)", e.fingerprint, got)
		}
	}
	v, err := e.chain.read(buf)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// SizeOf reports the exact number of bytes Encode would write for instance,
// without writing anything.
func (e *Engine) SizeOf(instance interface{}) (int, error) {
	n, err := e.chain.size(e.rootValue(instance))
	if err != nil {
		return 0, err
	}
	if e.mode == ModeStrict {
		n += 8
	}
	return n, nil
}

// rootValue wraps instance in a reflect.Value of the Engine's root type.
// Passing a sum value through an interface{} parameter flattens it to its
// dynamic type, so an interface root needs an explicit re-box: the compiled
// interface chain expects an interface-kind Value it can IsNil/Elem.
func (e *Engine) rootValue(instance interface{}) reflect.Value {
	v := reflect.ValueOf(instance)
	if !v.IsValid() {
		return reflect.Zero(e.rootType)
	}
	if v.Type() != e.rootType && e.rootType.Kind() == reflect.Interface {
		boxed := reflect.New(e.rootType).Elem()
		boxed.Set(v)
		return boxed
	}
	return v
}

// --- process-wide Engine cache ---

type engineCacheKey struct {
	rootType reflect.Type
	mode     CompatMode
}

var (
	engineCacheMu sync.RWMutex
	engineCache   = map[engineCacheKey]*Engine{}
	buildGroup    singleflight.Group
)

// GetEngine returns the cached Engine for rootType and the options' mode,
// building it at most once even under concurrent callers: competing Build
// calls for the same (rootType, mode) pair collapse into a single
// singleflight.Group.Do execution while the others block on its result.
func GetEngine(rootType reflect.Type, opts ...Option) (*Engine, error) {
	cfg := engineConfig{mode: ModeStrict}
	for _, o := range opts {
		o(&cfg)
	}
	key := engineCacheKey{rootType: rootType, mode: cfg.mode}

	engineCacheMu.RLock()
	if e, ok := engineCache[key]; ok {
		engineCacheMu.RUnlock()
		return e, nil
	}
	engineCacheMu.RUnlock()

	groupKey := fmt.Sprintf("%s#%d", rootType, cfg.mode)
	v, err, _ := buildGroup.Do(groupKey, func() (interface{}, error) {
		engineCacheMu.RLock()
		if e, ok := engineCache[key]; ok {
			engineCacheMu.RUnlock()
			return e, nil
		}
		engineCacheMu.RUnlock()

		e, err := Build(rootType, opts...)
		if err != nil {
			return nil, err
		}
		engineCacheMu.Lock()
		engineCache[key] = e
		engineCacheMu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Engine), nil
}

// ClearEngineCache empties the process-wide Engine cache. Intended for
// tests that register competing sum/enum types across cases and need a
// clean Build for each.
func ClearEngineCache() {
	engineCacheMu.Lock()
	engineCache = map[engineCacheKey]*Engine{}
	engineCacheMu.Unlock()
}
