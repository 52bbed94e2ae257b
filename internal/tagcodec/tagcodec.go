// Package tagcodec implements §4.B: encoding a struct as an ordered list of
// (key, value) string pairs — the tag sets carried on sealed DMs and offer
// events — and decoding the inverse. Field order and wire key come from the
// struct's `json` tags, the same tags every other wire type in this module
// already carries for logging/JSON purposes.
//
// Encoding rules, applied per field in declared order:
//   - nil / zero pointer -> "null"
//   - an enum-shaped field (a named string or int type) -> its underlying value
//   - slice/array/map -> compact JSON with stable key order
//   - anything else -> its string representation
//
// Decoding is the inverse: a value starting with '{' or '[' is parsed as
// JSON, "null" leaves the field at its zero value, otherwise the raw string
// is parsed according to the field's kind.
package tagcodec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"
)

var timeType = reflect.TypeOf(time.Time{})

// Tag is a single (name, value) pair, mirroring a Nostr event tag.
type Tag struct {
	Key   string
	Value string
}

// Pairs renders tags as [][]string, the shape relays encode tags as.
func Pairs(tags []Tag) [][]string {
	out := make([][]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, []string{t.Key, t.Value})
	}
	return out
}

// FromPairs is the inverse of Pairs.
func FromPairs(pairs [][]string) []Tag {
	out := make([]Tag, 0, len(pairs))
	for _, p := range pairs {
		if len(p) < 2 {
			continue
		}
		out = append(out, Tag{Key: p[0], Value: p[1]})
	}
	return out
}

// Keys returns the set of wire keys present in tags, for the structural
// tag-keyset dispatch the DM rumor router performs (§4.C).
func Keys(tags []Tag) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		set[t.Key] = struct{}{}
	}
	return set
}

// Subset reports whether every key in want is present in have.
func Subset(want map[string]struct{}, have map[string]struct{}) bool {
	for k := range want {
		if _, ok := have[k]; !ok {
			return false
		}
	}
	return true
}

// Encode walks v's fields in declared order and produces the tag list.
func Encode(v any) ([]Tag, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, fmt.Errorf("tagcodec: encode nil pointer")
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("tagcodec: encode requires a struct, got %s", rv.Kind())
	}

	rt := rv.Type()
	tags := make([]Tag, 0, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		key, ok := wireKey(field)
		if !ok {
			continue
		}
		val, err := encodeValue(rv.Field(i))
		if err != nil {
			return nil, fmt.Errorf("tagcodec: encode field %s: %w", field.Name, err)
		}
		tags = append(tags, Tag{Key: key, Value: val})
	}
	return tags, nil
}

func wireKey(field reflect.StructField) (string, bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	if tag == "" {
		return field.Name, true
	}
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			return tag[:i], true
		}
	}
	return tag, true
}

func encodeValue(fv reflect.Value) (string, error) {
	if fv.Kind() == reflect.Ptr || fv.Kind() == reflect.Interface {
		if fv.IsNil() {
			return "null", nil
		}
		fv = fv.Elem()
	}

	switch fv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		if fv.Kind() == reflect.Slice && fv.IsNil() {
			return "null", nil
		}
		b, err := json.Marshal(fv.Interface())
		if err != nil {
			return "", err
		}
		return string(b), nil
	case reflect.Struct:
		// time.Time is not a nested wire message, just a scalar: stringify
		// it the way Python's tag mixin stringifies any non-container,
		// non-enum value rather than recursing into it as JSON.
		if fv.Type() == timeType {
			return fv.Interface().(time.Time).UTC().Format(time.RFC3339), nil
		}
		b, err := json.Marshal(fv.Interface())
		if err != nil {
			return "", err
		}
		return string(b), nil
	case reflect.String:
		return fv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(fv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(fv.Uint(), 10), nil
	case reflect.Bool:
		return strconv.FormatBool(fv.Bool()), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(fv.Float(), 'f', -1, 64), nil
	default:
		return fmt.Sprintf("%v", fv.Interface()), nil
	}
}

// Decode is the inverse of Encode: it sets v's fields (v must be a pointer
// to struct) from the tag list, matching tags by wire key.
func Decode(tags []Tag, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("tagcodec: decode requires a non-nil pointer")
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("tagcodec: decode requires a pointer to struct")
	}

	raw := make(map[string]string, len(tags))
	for _, t := range tags {
		raw[t.Key] = t.Value
	}

	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		key, ok := wireKey(field)
		if !ok {
			continue
		}
		value, present := raw[key]
		if !present || value == "null" {
			continue
		}
		if err := decodeValue(rv.Field(i), value); err != nil {
			return fmt.Errorf("tagcodec: decode field %s: %w", field.Name, err)
		}
	}
	return nil
}

func decodeValue(fv reflect.Value, raw string) error {
	if fv.Kind() == reflect.Struct && fv.Type() == timeType {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return err
		}
		fv.Set(reflect.ValueOf(t))
		return nil
	}
	if len(raw) > 0 && (raw[0] == '{' || raw[0] == '[') {
		ptr := reflect.New(fv.Type())
		if err := json.Unmarshal([]byte(raw), ptr.Interface()); err != nil {
			return err
		}
		fv.Set(ptr.Elem())
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return err
		}
		fv.SetUint(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	case reflect.Ptr:
		ptr := reflect.New(fv.Type().Elem())
		if err := decodeValue(ptr.Elem(), raw); err != nil {
			return err
		}
		fv.Set(ptr)
	default:
		return fmt.Errorf("unsupported kind %s", fv.Kind())
	}
	return nil
}

// RequiredKeys returns the wire keys of every exported field of the struct
// type T, used to precompute the expected tag-keyset for a message type once
// (§9 design note), rather than reflecting on every dispatch.
func RequiredKeys(v any) map[string]struct{} {
	rt := reflect.TypeOf(v)
	for rt.Kind() == reflect.Ptr {
		rt = rt.Elem()
	}
	set := make(map[string]struct{}, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		if key, ok := wireKey(field); ok {
			set[key] = struct{}{}
		}
	}
	return set
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
