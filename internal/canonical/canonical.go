// ABOUTME: Deterministic, depth- and length-bounded, cycle-safe serializer
// ABOUTME: Builds the dedup signature from a message and its sanitized data

package canonical

import (
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// MaxDepth is the nesting limit used for signatures.
	MaxDepth = 10

	// MaxSignatureLength bounds the serialized data part of a signature.
	MaxSignatureLength = 50 * 1024

	// RecordSeparator joins message and data in a signature. It is not
	// expected in normal text, so "a|b" + "c" can't collide with "a" + "b|c".
	RecordSeparator = "\x1e"

	CircularMarker       = "[Circular]"
	DepthMarker          = "[MaxDepth]"
	UnserializableMarker = "[Unserializable]"
	TruncatedSuffix      = "...[truncated]"
)

// maxExactFloat is the largest magnitude at which every integer is exactly
// representable as a float64.
const maxExactFloat = 1 << 53

// Signature returns the dedup key for a message and its sanitized data.
func Signature(message string, data any) string {
	return message + RecordSeparator + Serialize(data, MaxDepth, MaxSignatureLength)
}

// Serialize renders v as deterministic JSON-like text. Map keys are sorted.
// A maxLength of zero or less disables the length limit.
func Serialize(v any, maxDepth, maxLength int) string {
	if maxDepth < 0 {
		maxDepth = 0
	}
	s := &serializer{
		maxDepth: maxDepth,
		out:      limitWriter{max: maxLength},
		onPath:   make(map[pathKey]struct{}),
	}
	s.value(reflect.ValueOf(v), 0)
	return s.out.String()
}

type pathKey struct {
	ptr  uintptr
	len  int
	kind reflect.Kind
}

type serializer struct {
	maxDepth int
	out      limitWriter
	onPath   map[pathKey]struct{}
}

func (s *serializer) value(v reflect.Value, depth int) {
	if s.out.full {
		return
	}
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			s.out.WriteString("null")
			return
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		s.out.WriteString("null")
		return
	}

	switch v.Kind() {
	case reflect.String:
		s.out.WriteString(strconv.Quote(v.String()))
	case reflect.Bool:
		s.out.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		s.out.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		s.out.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		s.out.WriteString(formatFloat(v.Float()))
	case reflect.Pointer:
		if v.IsNil() {
			s.out.WriteString("null")
			return
		}
		s.enter(v, depth, func() { s.value(v.Elem(), depth) })
	case reflect.Map:
		if v.IsNil() {
			s.out.WriteString("null")
			return
		}
		s.enter(v, depth, func() { s.mapping(v, depth+1) })
	case reflect.Slice:
		if v.IsNil() {
			s.out.WriteString("null")
			return
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			s.out.WriteString(strconv.Quote(string(v.Bytes())))
			return
		}
		s.enter(v, depth, func() { s.sequence(v, depth+1) })
	case reflect.Array:
		if depth >= s.maxDepth {
			s.marker(DepthMarker)
			return
		}
		s.sequence(v, depth+1)
	default:
		s.marker(UnserializableMarker)
	}
}

// enter guards a reference value against cycles and excessive depth before
// descending into it. Pointers don't count towards depth.
func (s *serializer) enter(v reflect.Value, depth int, descend func()) {
	if v.Kind() != reflect.Pointer && depth >= s.maxDepth {
		s.marker(DepthMarker)
		return
	}
	key := pathKey{ptr: v.Pointer(), kind: v.Kind()}
	if v.Kind() == reflect.Slice {
		key.len = v.Len()
	}
	if _, seen := s.onPath[key]; seen {
		s.marker(CircularMarker)
		return
	}
	s.onPath[key] = struct{}{}
	descend()
	delete(s.onPath, key)
}

func (s *serializer) mapping(v reflect.Value, depth int) {
	type kv struct {
		key string
		val reflect.Value
	}
	pairs := make([]kv, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		pairs = append(pairs, kv{key: keyString(iter.Key()), val: iter.Value()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	s.out.WriteString("{")
	for i, p := range pairs {
		if s.out.full {
			return
		}
		if i > 0 {
			s.out.WriteString(",")
		}
		s.out.WriteString(strconv.Quote(p.key))
		s.out.WriteString(":")
		s.value(p.val, depth)
	}
	s.out.WriteString("}")
}

func (s *serializer) sequence(v reflect.Value, depth int) {
	s.out.WriteString("[")
	for i := 0; i < v.Len(); i++ {
		if s.out.full {
			return
		}
		if i > 0 {
			s.out.WriteString(",")
		}
		s.value(v.Index(i), depth)
	}
	s.out.WriteString("]")
}

func (s *serializer) marker(m string) {
	s.out.WriteString(strconv.Quote(m))
}

func keyString(k reflect.Value) string {
	for k.Kind() == reflect.Interface && !k.IsNil() {
		k = k.Elem()
	}
	switch k.Kind() {
	case reflect.String:
		return k.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(k.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return formatFloat(k.Float())
	case reflect.Bool:
		return strconv.FormatBool(k.Bool())
	default:
		return UnserializableMarker
	}
}

// formatFloat prints integral floats like integers so that int64(3) and
// float64(3) (as produced by JSON decoding) share a signature.
func formatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < maxExactFloat {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// limitWriter accepts at most max+1 bytes; the extra byte is how it knows the
// limit was exceeded rather than met exactly.
type limitWriter struct {
	b    strings.Builder
	max  int
	full bool
}

func (w *limitWriter) WriteString(s string) {
	if w.full {
		return
	}
	if w.max > 0 {
		if room := w.max + 1 - w.b.Len(); len(s) >= room {
			w.b.WriteString(s[:room])
			w.full = true
			return
		}
	}
	w.b.WriteString(s)
}

func (w *limitWriter) String() string {
	s := w.b.String()
	if !w.full {
		return s
	}
	return trimPartialRune(s[:w.max]) + TruncatedSuffix
}

// trimPartialRune drops a trailing UTF-8 sequence that the cut left incomplete.
func trimPartialRune(s string) string {
	for i := len(s) - 1; i >= 0 && i >= len(s)-utf8.UTFMax; i-- {
		if utf8.RuneStart(s[i]) {
			if !utf8.FullRuneInString(s[i:]) {
				return s[:i]
			}
			return s
		}
	}
	return s
}
