package entity

import (
	"fmt"
	"reflect"
	"time"

	"github.com/spf13/cast"
)

// Scalar builds the accessor of a primitive field from typed closures.
// Set coerces driver values (int64 for an int column, []byte for text...)
// to V before calling set.
func Scalar[E Entity, V any](get func(E) V, set func(E, V)) FieldAccess {
	return FieldAccess{
		Get: func(e Entity) interface{} {
			return get(e.(E))
		},
		Set: func(e Entity, value interface{}) error {
			v, err := Coerce[V](value)
			if err != nil {
				return err
			}
			set(e.(E), v)
			return nil
		},
	}
}

// Reference builds the accessor of a complex field pointing at another entity
func Reference[E Entity, R Entity](get func(E) R, set func(E, R)) FieldAccess {
	return FieldAccess{
		Get: func(e Entity) interface{} {
			ref := get(e.(E))
			if isNilEntity(ref) {
				return nil
			}
			return ref
		},
		Set: func(e Entity, value interface{}) error {
			var zero R
			if value == nil {
				set(e.(E), zero)
				return nil
			}
			ref, ok := value.(R)
			if !ok {
				return fmt.Errorf("cannot assign %T to reference of type %T", value, zero)
			}
			set(e.(E), ref)
			return nil
		},
	}
}

// Items builds the accessor of a list field backed by a Collection
func Items[E Entity, C Entity](name string, get func(E) *Collection[C]) ListAccess {
	collection := func(e Entity) *Collection[C] {
		c := get(e.(E))
		c.Bind(e.EntityBase(), name)
		return c
	}
	return ListAccess{
		Get: func(e Entity) []Entity {
			return collection(e).Entities()
		},
		Load: func(e Entity, items []Entity) error {
			typed := make([]C, 0, len(items))
			for _, item := range items {
				c, ok := item.(C)
				if !ok {
					return fmt.Errorf("cannot load %T into list %s", item, name)
				}
				typed = append(typed, c)
			}
			collection(e).Load(typed)
			return nil
		},
	}
}

// Coerce converts a driver or caller supplied value to V
func Coerce[V any](value interface{}) (V, error) {
	var zero V
	if value == nil {
		return zero, nil
	}
	if v, ok := value.(V); ok {
		return v, nil
	}

	var (
		out interface{}
		err error
	)
	switch any(zero).(type) {
	case int:
		out, err = cast.ToIntE(value)
	case int32:
		out, err = cast.ToInt32E(value)
	case int64:
		out, err = cast.ToInt64E(value)
	case float32:
		out, err = cast.ToFloat32E(value)
	case float64:
		out, err = cast.ToFloat64E(value)
	case string:
		out, err = cast.ToStringE(value)
	case bool:
		out, err = cast.ToBoolE(value)
	case time.Time:
		out, err = cast.ToTimeE(value)
	case []byte:
		switch b := value.(type) {
		case string:
			out = []byte(b)
		default:
			err = fmt.Errorf("unable to cast %#v of type %T to []byte", value, value)
		}
	default:
		out, err = convert(value, reflect.TypeOf(&zero).Elem())
	}
	if err != nil {
		return zero, err
	}
	return out.(V), nil
}

// convert handles named types (enums) and pointers to primitives
func convert(value interface{}, target reflect.Type) (interface{}, error) {
	rv := reflect.ValueOf(value)
	if target.Kind() == reflect.Ptr {
		elem, err := convert(value, target.Elem())
		if err != nil {
			return nil, err
		}
		ptr := reflect.New(target.Elem())
		ptr.Elem().Set(reflect.ValueOf(elem))
		return ptr.Interface(), nil
	}

	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := cast.ToInt64E(value)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(n).Convert(target).Interface(), nil
	case reflect.String:
		s, err := cast.ToStringE(value)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(s).Convert(target).Interface(), nil
	case reflect.Float32, reflect.Float64:
		f, err := cast.ToFloat64E(value)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(f).Convert(target).Interface(), nil
	case reflect.Bool:
		b, err := cast.ToBoolE(value)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(b).Convert(target).Interface(), nil
	}

	if rv.Type().ConvertibleTo(target) {
		return rv.Convert(target).Interface(), nil
	}
	if target == reflect.TypeOf(time.Time{}) {
		return cast.ToTimeE(value)
	}
	return nil, fmt.Errorf("unable to cast %#v of type %T to %s", value, value, target)
}

func isNilEntity(e interface{}) bool {
	if e == nil {
		return true
	}
	rv := reflect.ValueOf(e)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}
