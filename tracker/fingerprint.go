package tracker

import (
	"database/sql/driver"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/cespare/xxhash/v2"
)

var errUnhashable = errors.New("tracker: parameters are not structurally hashable")

// Limits on how much of a parameter value is walked. They bound
// self-referencing and very large values.
const (
	maxDepth = 32
	maxNodes = 4096
)

// Fingerprint hashes statement parameters for duplicate detection.
//
// The first tier encodes the value structurally: scalars, strings, byte
// slices, times, driver values and slices or arrays of those. Anything else,
// and any panic raised while encoding, falls back to a rendering of the value
// that also follows maps, structs and pointers, with map entries combined
// independently of iteration order. Both tiers stop descending at maxDepth
// levels or maxNodes values, so self-referencing values hash by their
// reachable prefix. Distinct parameters may collide, so the result is an
// approximation used for diagnostics only. Nil and empty parameter lists
// hash to 0.
func Fingerprint(params any) (fp uint64) {
	if isEmpty(params) {
		return 0
	}
	defer func() {
		if recover() != nil {
			fp = renderedFingerprint(params)
		}
	}()

	e := &encoder{d: xxhash.New()}
	if err := e.writeValue(params, 0); err != nil {
		return renderedFingerprint(params)
	}
	return e.d.Sum64()
}

// renderedFingerprint is the fallback tier. If even rendering panics, only
// the type is hashed.
func renderedFingerprint(params any) (fp uint64) {
	defer func() {
		if recover() != nil {
			fp = xxhash.Sum64String(fmt.Sprintf("%T", params))
		}
	}()
	e := &encoder{d: xxhash.New()}
	e.writeRendered(reflect.ValueOf(params), 0)
	return e.d.Sum64()
}

func isEmpty(params any) bool {
	if params == nil {
		return true
	}
	v := reflect.ValueOf(params)
	switch v.Kind() {
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Type tags keep values of different kinds with equal bytes apart.
const (
	tagNil byte = iota
	tagBool
	tagInt
	tagUint
	tagFloat
	tagString
	tagBytes
	tagTime
	tagSeq
	tagNamed
	tagMap
	tagTruncated
)

type encoder struct {
	d     *xxhash.Digest
	nodes int
}

// enter counts one visited value and reports whether the walk may descend.
func (e *encoder) enter(depth int) bool {
	e.nodes++
	return depth <= maxDepth && e.nodes <= maxNodes
}

func (e *encoder) writeValue(v any, depth int) error {
	if !e.enter(depth) {
		return errUnhashable
	}
	d := e.d
	var buf [8]byte

	switch x := v.(type) {
	case nil:
		_, _ = d.Write([]byte{tagNil})
	case bool:
		b := byte(0)
		if x {
			b = 1
		}
		_, _ = d.Write([]byte{tagBool, b})
	case string:
		writeLen(d, tagString, len(x))
		_, _ = d.WriteString(x)
	case []byte:
		writeLen(d, tagBytes, len(x))
		_, _ = d.Write(x)
	case time.Time:
		_, _ = d.Write([]byte{tagTime})
		binary.LittleEndian.PutUint64(buf[:], uint64(x.UnixNano()))
		_, _ = d.Write(buf[:])
	case driver.NamedValue:
		writeLen(d, tagNamed, x.Ordinal)
		_, _ = d.WriteString(x.Name)
		return e.writeValue(x.Value, depth+1)
	case driver.Valuer:
		val, err := x.Value()
		if err != nil {
			return err
		}
		return e.writeValue(val, depth+1)
	default:
		return e.writeReflect(reflect.ValueOf(v), depth)
	}
	return nil
}

func (e *encoder) writeReflect(v reflect.Value, depth int) error {
	d := e.d
	var buf [8]byte

	switch v.Kind() {
	case reflect.Bool:
		return e.writeValue(v.Bool(), depth)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		_, _ = d.Write([]byte{tagInt})
		binary.LittleEndian.PutUint64(buf[:], uint64(v.Int()))
		_, _ = d.Write(buf[:])
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		_, _ = d.Write([]byte{tagUint})
		binary.LittleEndian.PutUint64(buf[:], v.Uint())
		_, _ = d.Write(buf[:])
	case reflect.Float32, reflect.Float64:
		_, _ = d.Write([]byte{tagFloat})
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.Float()))
		_, _ = d.Write(buf[:])
	case reflect.String:
		return e.writeValue(v.String(), depth)
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return e.writeValue(v.Bytes(), depth)
		}
		writeLen(d, tagSeq, v.Len())
		for i := 0; i < v.Len(); i++ {
			if err := e.writeValue(v.Index(i).Interface(), depth+1); err != nil {
				return err
			}
		}
	case reflect.Interface:
		if v.IsNil() {
			return e.writeValue(nil, depth)
		}
		return e.writeReflect(v.Elem(), depth+1)
	default:
		return errUnhashable
	}
	return nil
}

// writeRendered hashes v without failing. Past the limits only a truncation
// marker is written.
func (e *encoder) writeRendered(v reflect.Value, depth int) {
	d := e.d
	if !v.IsValid() {
		_, _ = d.Write([]byte{tagNil})
		return
	}
	_, _ = d.WriteString(v.Type().String())
	if !e.enter(depth) {
		_, _ = d.Write([]byte{tagTruncated})
		return
	}

	switch v.Kind() {
	case reflect.Map:
		// Entries are hashed separately and summed so iteration order
		// does not matter.
		var sum uint64
		iter := v.MapRange()
		for iter.Next() {
			entry := &encoder{d: xxhash.New(), nodes: e.nodes}
			entry.writeRendered(iter.Key(), depth+1)
			entry.writeRendered(iter.Value(), depth+1)
			e.nodes = entry.nodes
			sum += entry.d.Sum64()
		}
		var buf [8]byte
		writeLen(d, tagMap, v.Len())
		binary.LittleEndian.PutUint64(buf[:], sum)
		_, _ = d.Write(buf[:])
	case reflect.Slice, reflect.Array:
		writeLen(d, tagSeq, v.Len())
		for i := 0; i < v.Len(); i++ {
			e.writeRendered(v.Index(i), depth+1)
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			e.writeRendered(v.Field(i), depth+1)
		}
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			_, _ = d.Write([]byte{tagNil})
			return
		}
		e.writeRendered(v.Elem(), depth+1)
	default:
		_, _ = fmt.Fprintf(d, "%#v", v)
	}
}

func writeLen(d *xxhash.Digest, tag byte, n int) {
	var buf [9]byte
	buf[0] = tag
	binary.LittleEndian.PutUint64(buf[1:], uint64(n))
	_, _ = d.Write(buf[:])
}
