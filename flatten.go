package beacon

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Maximum recursion depth to prevent stack overflow
const maxFlattenDepth = 10

// maxFlattenElements caps how many slice or array elements are expanded.
const maxFlattenElements = 10

// Dump writes one DEBUG record "Dump: <label>" carrying v flattened into
// dotted keys, e.g. {"Config.Port": 80, "Tags[0]": "a"}. Cycles and
// excessive depth are marked rather than followed.
func (l *Logger) Dump(label string, v any) {
	e := l.event(nil, LevelDebug).skipCallerFrames(1)
	if v == nil {
		e.Str(label, "<nil>").Msg("Dump: " + label)
		return
	}
	e.Fields(flatten(label, v)).Msg("Dump: " + label)
}

// flatten expands structs, maps, slices and arrays into a single level of
// fields keyed by path. Leaves keep their native values. An empty prefix with
// a non-composite value yields {"value": v}.
func flatten(prefix string, v any) Fields {
	out := Fields{}
	visited := make(map[uintptr]bool)
	flattenValue(out, prefix, reflect.ValueOf(v), visited, 0)
	if len(out) == 1 {
		if val, ok := out[emptyString]; ok {
			return Fields{"value": val}
		}
	}
	return out
}

var (
	timeType      = reflect.TypeOf(time.Time{})
	marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	stringerType  = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
)

func flattenValue(out Fields, prefix string, val reflect.Value, visited map[uintptr]bool, depth int) {
	if depth > maxFlattenDepth {
		out[prefix] = "<max depth reached>"
		return
	}

	// Unwrap interfaces and pointers, with cycle detection.
	for val.IsValid() && (val.Kind() == reflect.Interface || val.Kind() == reflect.Ptr) {
		if val.IsNil() {
			out[prefix] = nil
			return
		}
		if val.Kind() == reflect.Ptr {
			if isLeafType(val.Type()) {
				break
			}
			ptr := val.Pointer()
			if visited[ptr] {
				out[prefix] = "<circular reference>"
				return
			}
			visited[ptr] = true
		}
		val = val.Elem()
	}
	if !val.IsValid() {
		out[prefix] = nil
		return
	}
	if isLeafType(val.Type()) {
		if val.CanInterface() {
			out[prefix] = val.Interface()
		}
		return
	}

	switch val.Kind() {
	case reflect.Struct:
		typ := val.Type()
		for i := 0; i < val.NumField(); i++ {
			field := typ.Field(i)
			name, ok := fieldName(field)
			if !ok {
				continue
			}
			flattenValue(out, joinPath(prefix, name), val.Field(i), visited, depth+1)
		}

	case reflect.Map:
		if val.Len() == 0 {
			out[prefix] = map[string]any{}
			return
		}
		iter := val.MapRange()
		for iter.Next() {
			key := fmt.Sprintf("%v", iter.Key().Interface())
			flattenValue(out, joinPath(prefix, key), iter.Value(), visited, depth+1)
		}

	case reflect.Slice, reflect.Array:
		if val.Kind() == reflect.Slice && val.Type().Elem().Kind() == reflect.Uint8 {
			out[prefix] = val.Bytes()
			return
		}
		n := val.Len()
		if n == 0 {
			out[prefix] = []any{}
			return
		}
		for i := 0; i < n && i < maxFlattenElements; i++ {
			flattenValue(out, fmt.Sprintf("%s[%d]", prefix, i), val.Index(i), visited, depth+1)
		}
		if n > maxFlattenElements {
			out[prefix+"._truncated"] = n - maxFlattenElements
		}

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		out[prefix] = val.Type().String()

	default:
		if val.CanInterface() {
			out[prefix] = val.Interface()
		}
	}
}

// isLeafType reports types that render themselves and are not expanded.
func isLeafType(t reflect.Type) bool {
	return t == timeType ||
		t.Implements(marshalerType) ||
		t.Implements(stringerType) ||
		t.Implements(errorType)
}

// fieldName prefers the json tag so flattened keys match the type's wire
// names. Unexported and json:"-" fields are skipped.
func fieldName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return emptyString, false
	}
	if tag, ok := f.Tag.Lookup("json"); ok {
		name, _, _ := strings.Cut(tag, ",")
		if name == "-" {
			return emptyString, false
		}
		if name != emptyString {
			return name, true
		}
	}
	return f.Name, true
}

func joinPath(prefix, key string) string {
	if prefix == emptyString {
		return key
	}
	return prefix + "." + key
}
