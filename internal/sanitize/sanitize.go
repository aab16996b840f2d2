// ABOUTME: Produces safe, bounded, cycle-free copies of caller-supplied auxiliary data
// ABOUTME: Classifies every value as scalar, mapping, sequence or unsupported before copying

package sanitize

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/dustin/go-humanize"
)

const (
	// MaxDepth is the deepest container nesting kept in sanitized data.
	MaxDepth = 10

	// MaxBytes is the largest encoded size of sanitized data. Larger payloads
	// are replaced wholesale by a truncation marker.
	MaxBytes = 100 * 1024

	// TruncatedKey is the only key present when a payload was too large.
	TruncatedKey = "_truncated"

	// CircularMarker replaces a value that refers back to one of its parents.
	CircularMarker = "[Circular]"

	// DepthMarker replaces containers nested deeper than MaxDepth.
	DepthMarker = "[MaxDepth]"
)

// Data is sanitized auxiliary data. Values are limited to string, bool,
// int64, uint64, float64, nil, map[string]any and []any.
type Data map[string]any

// Kind classifies a value for sanitization.
type Kind int

const (
	KindUnsupported Kind = iota
	KindScalar
	KindMapping
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindMapping:
		return "mapping"
	case KindSequence:
		return "sequence"
	default:
		return "unsupported"
	}
}

// blockedKeys are dropped at every level to neutralize prototype-pollution
// payloads forwarded from JavaScript clients.
var blockedKeys = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// Classify reports how a value is treated by Sanitize. Interfaces are
// unwrapped first; a nil interface is a scalar (null).
func Classify(v reflect.Value) Kind {
	v = unwrap(v)
	if !v.IsValid() {
		return KindScalar
	}
	switch v.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return KindScalar
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String {
			return KindMapping
		}
		return KindUnsupported
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return KindScalar
		}
		return KindSequence
	case reflect.Array:
		return KindSequence
	default:
		// Structs (time.Time, big.Int and other custom types), pointers
		// (including *big.Int), funcs, channels, complex numbers, uintptr
		// and unsafe pointers.
		return KindUnsupported
	}
}

// IsBlockedKey reports whether key is stripped during sanitization.
func IsBlockedKey(key string) bool {
	_, ok := blockedKeys[key]
	return ok
}

// Sanitize returns a safe copy of raw. Anything other than a map with string
// keys, or a pointer to one, yields empty Data. The result never aliases raw.
func Sanitize(raw any) Data {
	rv := unwrap(reflect.ValueOf(raw))
	if rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Kind() == reflect.Map {
		rv = rv.Elem()
	}
	if Classify(rv) != KindMapping || rv.IsNil() {
		return Data{}
	}

	w := &walker{onPath: make(map[pathKey]struct{})}
	out, _ := w.value(rv, 0)
	if w.over() {
		return Data{TruncatedKey: fmt.Sprintf("Data too large (%s)", humanize.Bytes(uint64(w.size)))}
	}
	m, _ := out.(map[string]any)
	return Data(m)
}

// Clone deep-copies sanitized data.
func Clone(d Data) Data {
	if d == nil {
		return nil
	}
	return Data(cloneMap(d))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Data:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// pathKey identifies a container on the current traversal path. Slices that
// share a backing array but differ in length are distinct values.
type pathKey struct {
	ptr uintptr
	len int
}

// walker copies values while tracking the current path for cycle detection
// and the approximate encoded size for the MaxBytes check. Once the size
// budget is blown it keeps measuring but stops allocating copies.
type walker struct {
	onPath map[pathKey]struct{}
	size   int
}

func (w *walker) over() bool { return w.size > MaxBytes }

// value returns the sanitized form of v and whether it should be kept.
func (w *walker) value(v reflect.Value, depth int) (any, bool) {
	v = unwrap(v)
	if !v.IsValid() {
		w.size += 4
		return nil, true
	}

	switch Classify(v) {
	case KindScalar:
		return w.scalar(v)
	case KindMapping:
		if v.IsNil() {
			w.size += 4
			return nil, true
		}
		if depth >= MaxDepth {
			return w.marker(DepthMarker), true
		}
		key := pathKey{ptr: v.Pointer()}
		if _, seen := w.onPath[key]; seen {
			return w.marker(CircularMarker), true
		}
		w.onPath[key] = struct{}{}
		defer delete(w.onPath, key)
		return w.mapping(v, depth+1), true
	case KindSequence:
		if v.Kind() == reflect.Slice && v.IsNil() {
			w.size += 4
			return nil, true
		}
		if depth >= MaxDepth {
			return w.marker(DepthMarker), true
		}
		if v.Kind() == reflect.Slice && v.Len() > 0 {
			key := pathKey{ptr: v.Pointer(), len: v.Len()}
			if _, seen := w.onPath[key]; seen {
				return w.marker(CircularMarker), true
			}
			w.onPath[key] = struct{}{}
			defer delete(w.onPath, key)
		}
		return w.sequence(v, depth+1), true
	default:
		return nil, false
	}
}

func (w *walker) mapping(v reflect.Value, depth int) map[string]any {
	var out map[string]any
	if !w.over() {
		out = make(map[string]any, v.Len())
	}
	w.size += 2

	iter := v.MapRange()
	for iter.Next() {
		key := iter.Key().String()
		if IsBlockedKey(key) {
			continue
		}
		val, keep := w.value(iter.Value(), depth)
		if !keep {
			continue
		}
		w.size += len(key) + 4
		if out != nil && !w.over() {
			out[key] = val
		}
	}
	return out
}

func (w *walker) sequence(v reflect.Value, depth int) []any {
	var out []any
	if !w.over() {
		out = make([]any, 0, v.Len())
	}
	w.size += 2

	for i := 0; i < v.Len(); i++ {
		val, keep := w.value(v.Index(i), depth)
		if !keep {
			continue
		}
		w.size++
		if out != nil && !w.over() {
			out = append(out, val)
		}
	}
	return out
}

func (w *walker) scalar(v reflect.Value) (any, bool) {
	switch v.Kind() {
	case reflect.String:
		s := v.String()
		w.size += len(s) + 2
		return s, true
	case reflect.Bool:
		w.size += 5
		return v.Bool(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := v.Int()
		w.size += len(strconv.FormatInt(n, 10))
		return n, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := v.Uint()
		w.size += len(strconv.FormatUint(n, 10))
		return n, true
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		w.size += len(strconv.FormatFloat(f, 'g', -1, 64))
		return f, true
	case reflect.Slice:
		s := string(v.Bytes())
		w.size += len(s) + 2
		return s, true
	}
	return nil, false
}

func (w *walker) marker(m string) string {
	w.size += len(m) + 2
	return m
}

func unwrap(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}
