package buildapi

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// fieldValue resolves a dotted path of JSON field names against msg. The
// boolean is false when an intermediate message is unset. An unknown field
// name panics: field paths are fixed at registration time.
func fieldValue(msg any, field string) (reflect.Value, bool) {
	v := reflect.ValueOf(msg)
	if field == "" {
		return v, v.IsValid()
	}
	for _, part := range strings.Split(field, ".") {
		for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, false
		}
		f, ok := structField(v, part)
		if !ok {
			panic(fmt.Sprintf("Invalid field: %s has no field %q", v.Type(), part))
		}
		v = f
	}
	return v, true
}

func structField(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		if jsonName(sf) == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

func jsonName(sf reflect.StructField) string {
	tag := sf.Tag.Get("json")
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return sf.Name
	}
	return name
}

// truthy mirrors "is this field set": zero values, nil pointers and empty
// lists are unset.
func truthy(v reflect.Value, ok bool) bool {
	if !ok || !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		return !v.IsNil()
	case reflect.Slice, reflect.Map, reflect.String:
		return v.Len() > 0
	default:
		return !v.IsZero()
	}
}

func elements(v reflect.Value, ok bool) []reflect.Value {
	if !ok || !v.IsValid() {
		return nil
	}
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil
	}
	out := make([]reflect.Value, v.Len())
	for i := range out {
		out[i] = v.Index(i)
	}
	return out
}

func valueEqual(v reflect.Value, ok bool, want any) bool {
	if !ok || !v.IsValid() {
		return want == nil
	}
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return want == nil
		}
		v = v.Elem()
	}
	w := reflect.ValueOf(want)
	switch {
	case isInt(v) && isInt(w):
		return v.Int() == w.Int()
	case v.Kind() == reflect.String && w.Kind() == reflect.String:
		return v.String() == w.String()
	case v.Kind() == reflect.Bool && w.Kind() == reflect.Bool:
		return v.Bool() == w.Bool()
	}
	return reflect.DeepEqual(v.Interface(), want)
}

func isInt(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

// repr formats values in error messages the way the CLI users of the Build
// API are used to: quoted strings, None for unset, bracketed lists.
func repr(v any) string {
	if rv, ok := v.(reflect.Value); ok {
		if !rv.IsValid() {
			return "None"
		}
		v = rv.Interface()
	}
	if v == nil {
		return "None"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return "'" + rv.String() + "'"
	case reflect.Bool:
		if rv.Bool() {
			return "True"
		}
		return "False"
	case reflect.Pointer:
		if rv.IsNil() {
			return "None"
		}
		return repr(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = repr(rv.Index(i).Interface())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case reflect.Map:
		keys := rv.MapKeys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = repr(k.Interface()) + ": " + repr(rv.MapIndex(k).Interface())
		}
		sort.Strings(parts)
		return "{" + strings.Join(parts, ", ") + "}"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	}
	return fmt.Sprintf("%v", v)
}
