package buildapi

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"

	"chromite/internal/services"
)

// ValidationError reports a request that failed validation.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func (e *ValidationError) Unwrap() error { return services.ErrValidation }

func invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// validator builds a Middleware that runs check before the wrapped handler
// whenever the call performs validation.
func validator(check func(req any) error) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req, resp any, cfg Config) (int, error) {
			if cfg.DoValidation() {
				if err := check(req); err != nil {
					return ReturnCodeInvalidInput, err
				}
			}
			return next(ctx, req, resp, cfg)
		}
	}
}

// Exists requires each field to name a path that exists.
func Exists(fields ...string) Middleware {
	return validator(func(req any) error {
		for _, field := range fields {
			v, ok := fieldValue(req, field)
			p := pathString(v, ok)
			if p == "" {
				return invalid("%s path does not exist: %s", field, p)
			}
			if _, err := os.Stat(p); err != nil {
				return invalid("%s path does not exist: %s", field, p)
			}
		}
		return nil
	})
}

func pathString(v reflect.Value, ok bool) string {
	if !ok || !v.IsValid() {
		return ""
	}
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	switch x := v.Interface().(type) {
	case string:
		return x
	case Path:
		return x.Path
	}
	return ""
}

// Eq requires field to equal want.
func Eq(field string, want any) Middleware {
	return validator(func(req any) error {
		v, ok := fieldValue(req, field)
		if !valueEqual(v, ok, want) {
			return invalid("%s (%s) must be equal to %s", field, repr(value(v, ok)), repr(want))
		}
		return nil
	})
}

// IsIn requires field to be one of values.
func IsIn[T any](field string, values []T) Middleware {
	return validator(func(req any) error {
		v, ok := fieldValue(req, field)
		for _, want := range values {
			if valueEqual(v, ok, want) {
				return nil
			}
		}
		return invalid("%s (%s) must be in %s", field, repr(value(v, ok)), repr(values))
	})
}

// EachIn requires subfield of every element of the repeated field to be one
// of values. An empty subfield checks the elements themselves. Unless
// optional, the field must not be empty.
func EachIn[T any](field, subfield string, values []T, optional bool) Middleware {
	return validator(func(req any) error {
		members := elements(fieldValue(req, field))
		if !optional && len(members) == 0 {
			return invalid("The %s field is empty.", field)
		}
		for _, member := range members {
			v, ok := member, true
			if subfield != "" {
				v, ok = fieldValue(member.Addr().Interface(), subfield)
			}
			found := false
			for _, want := range values {
				if valueEqual(v, ok, want) {
					found = true
					break
				}
			}
			if !found {
				return invalid("%s.[each].%s (%s) must be in %s is required.", field, subfield, repr(value(v, ok)), repr(values))
			}
		}
		return nil
	})
}

// Constraint checks a single value, returning a non-empty message when the
// value is invalid.
type Constraint struct {
	Description string
	Check       func(v any) string
}

// CheckConstraint applies c to every value of the repeated field and reports
// all failures together.
func CheckConstraint(field string, c Constraint) Middleware {
	return validator(func(req any) error {
		var failed []string
		for _, member := range elements(fieldValue(req, field)) {
			val := member.Interface()
			if msg := c.Check(val); msg != "" {
				failed = append(failed, fmt.Sprintf("  %v: %s\n", val, msg))
			}
		}
		if len(failed) == 0 {
			return nil
		}
		return invalid("%s.[all] one or more values failed check \"%s\"\n%s", field, c.Description, strings.Join(failed, ""))
	})
}

// Require requires every field to be set.
func Require(fields ...string) Middleware {
	return validator(func(req any) error {
		for _, field := range fields {
			if !truthy(fieldValue(req, field)) {
				return invalid("%s is required.", field)
			}
		}
		return nil
	})
}

// RequireAny requires at least one field to be set.
func RequireAny(fields ...string) Middleware {
	return validator(func(req any) error {
		for _, field := range fields {
			if truthy(fieldValue(req, field)) {
				return nil
			}
		}
		return invalid("At least one of the following must be set: %s", strings.Join(fields, ", "))
	})
}

// RequireEach requires subfields on every element of the repeated field.
// With allowEmpty unset, the field must also hold at least one element.
func RequireEach(field string, subfields []string, allowEmpty bool) Middleware {
	return validator(func(req any) error {
		members := elements(fieldValue(req, field))
		if !allowEmpty && len(members) == 0 {
			return invalid("The %s field is empty.", field)
		}
		for _, member := range members {
			for _, subfield := range subfields {
				if !truthy(fieldValue(member.Addr().Interface(), subfield)) {
					return invalid("%s is required.", field)
				}
			}
		}
		return nil
	})
}

// ValidationComplete ends validate-only calls once every validator before it
// has passed. It must be the innermost validator.
func ValidationComplete(next Handler) Handler {
	return func(ctx context.Context, req, resp any, cfg Config) (int, error) {
		if cfg.ValidateOnly() {
			return ReturnCodeValidInput, nil
		}
		return next(ctx, req, resp, cfg)
	}
}

func value(v reflect.Value, ok bool) any {
	if !ok || !v.IsValid() {
		return nil
	}
	return v
}
