package beacon

import (
	"fmt"
	"math"
	"net"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Fields is the key/value context attached to a single record.
type Fields map[string]any

// reservedKeys are written by the logger itself and must not be overwritten
// by context.
var reservedKeys = map[string]struct{}{
	FieldTimestamp: {},
	FieldLevel:     {},
	FieldLogger:    {},
	FieldMessage:   {},
	FieldCaller:    {},
}

// safeKey namespaces keys that collide with a fixed record key.
func safeKey(key string) string {
	if _, ok := reservedKeys[key]; ok {
		return collisionPrefix + key
	}
	return key
}

// mergeFields returns a new Fields holding every map in order, later maps
// winning.
func mergeFields(maps ...Fields) Fields {
	n := 0
	for _, m := range maps {
		n += len(m)
	}
	if n == 0 {
		return nil
	}
	out := make(Fields, n)
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

// appendFields writes every field onto e in key order so output is stable.
func appendFields(e *zerolog.Event, fields Fields) *zerolog.Event {
	if e == nil || len(fields) == 0 {
		return e
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e = appendField(e, safeKey(k), fields[k])
	}
	return e
}

// appendField encodes one value. Values zerolog cannot encode natively are
// marshalled to JSON; anything that still fails is written as its %v string.
func appendField(e *zerolog.Event, key string, val any) *zerolog.Event {
	switch v := val.(type) {
	case nil:
		return e.Interface(key, nil)
	case string:
		return e.Str(key, v)
	case []string:
		return e.Strs(key, v)
	case bool:
		return e.Bool(key, v)
	case int:
		return e.Int(key, v)
	case int8:
		return e.Int8(key, v)
	case int16:
		return e.Int16(key, v)
	case int32:
		return e.Int32(key, v)
	case int64:
		return e.Int64(key, v)
	case uint:
		return e.Uint(key, v)
	case uint8:
		return e.Uint8(key, v)
	case uint16:
		return e.Uint16(key, v)
	case uint32:
		return e.Uint32(key, v)
	case uint64:
		return e.Uint64(key, v)
	case float32:
		return appendFloat(e, key, float64(v))
	case float64:
		return appendFloat(e, key, v)
	case time.Time:
		return e.Time(key, v)
	case time.Duration:
		return e.Dur(key, v)
	case error:
		return e.Str(key, safeString(v))
	case net.IP:
		return e.IPAddr(key, v)
	case []byte:
		return e.Bytes(key, v)
	case json.Marshaler:
		return appendJSON(e, key, v)
	case fmt.Stringer:
		return e.Str(key, safeString(v))
	default:
		return appendJSON(e, key, v)
	}
}

// appendFloat keeps the output valid JSON: NaN and infinities become strings.
func appendFloat(e *zerolog.Event, key string, f float64) *zerolog.Event {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return e.Str(key, fmt.Sprint(f))
	}
	return e.Float64(key, f)
}

func appendJSON(e *zerolog.Event, key string, val any) *zerolog.Event {
	if b, ok := marshalValue(val); ok {
		return e.RawJSON(key, b)
	}
	return e.Str(key, safeString(val))
}

// marshalValue reports false instead of failing or panicking.
func marshalValue(val any) (b []byte, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b, ok = nil, false
		}
	}()
	b, err := json.Marshal(val)
	if err != nil {
		return nil, false
	}
	return b, true
}

// safeString formats v with %v; fmt already recovers from panicking String
// and Error methods.
func safeString(v any) string {
	return fmt.Sprintf("%v", v)
}
