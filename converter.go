package trellis

import (
	"fmt"
	"reflect"
	"strconv"
)

// TypeConverter converts literal configuration values to a target type.
// The resolver consults it only for literal values and container-element
// coercion, never for locating instances. Callers with richer conversion
// needs (durations, custom editors) plug their own via WithTypeConverter.
type TypeConverter interface {
	Convert(value any, target reflect.Type) (any, error)
}

// ConversionError indicates a literal value could not be coerced to the
// target type.
type ConversionError struct {
	Value  any
	Target reflect.Type
	Cause  error
}

func (e ConversionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cannot convert %v (%T) to %s: %v", e.Value, e.Value, formatType(e.Target), e.Cause)
	}
	return fmt.Sprintf("cannot convert %v (%T) to %s", e.Value, e.Value, formatType(e.Target))
}

func (e ConversionError) Unwrap() error {
	return e.Cause
}

// defaultConverter is the built-in TypeConverter. It handles assignable and
// reflect-convertible values plus string-to-scalar parsing.
type defaultConverter struct{}

func (defaultConverter) Convert(value any, target reflect.Type) (any, error) {
	if target == nil {
		return nil, ConversionError{Value: value, Target: nil}
	}

	if value == nil {
		return reflect.Zero(target).Interface(), nil
	}

	v := reflect.ValueOf(value)
	if v.Type() == target || v.Type().AssignableTo(target) {
		return value, nil
	}

	if s, ok := value.(string); ok {
		if converted, ok, err := convertString(s, target); ok {
			return converted, err
		}
	}

	if v.Type().ConvertibleTo(target) {
		// String-to-numeric falls through convertString above; the remaining
		// conversions (numeric widening, named types) are lossless enough.
		return v.Convert(target).Interface(), nil
	}

	return nil, ConversionError{Value: value, Target: target}
}

// convertString parses a string literal into a scalar kind. The first return
// is the converted value, the second reports whether the kind was handled.
func convertString(s string, target reflect.Type) (any, bool, error) {
	out := reflect.New(target).Elem()

	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, true, ConversionError{Value: s, Target: target, Cause: err}
		}
		out.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, true, ConversionError{Value: s, Target: target, Cause: err}
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, true, ConversionError{Value: s, Target: target, Cause: err}
		}
		out.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, true, ConversionError{Value: s, Target: target, Cause: err}
		}
		out.SetBool(b)
	default:
		return nil, false, nil
	}

	return out.Interface(), true, nil
}
