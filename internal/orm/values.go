package orm

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"dbtour/internal/schema"
)

var (
	timeType    = reflect.TypeFor[time.Time]()
	bytesType   = reflect.TypeFor[[]byte]()
	scannerType = reflect.TypeFor[sql.Scanner]()
	valuerType  = reflect.TypeFor[driver.Valuer]()
)

// goType infers a column type from a field type.
func goType(t reflect.Type, size int) (schema.Type, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t {
	case timeType, reflect.TypeFor[sql.NullTime]():
		return schema.DateTime{}, nil
	case bytesType:
		return schema.LargeBinary{}, nil
	case reflect.TypeFor[sql.NullString]():
		return schema.String{Length: size}, nil
	case reflect.TypeFor[sql.NullInt64](), reflect.TypeFor[sql.NullInt32]():
		return schema.Integer{}, nil
	case reflect.TypeFor[sql.NullInt16]():
		return schema.SmallInteger{}, nil
	case reflect.TypeFor[sql.NullBool]():
		return schema.Boolean{}, nil
	case reflect.TypeFor[sql.NullFloat64]():
		return schema.Float{}, nil
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return schema.Integer{}, nil
	case reflect.Int8, reflect.Int16, reflect.Uint8, reflect.Uint16:
		return schema.SmallInteger{}, nil
	case reflect.String:
		return schema.String{Length: size}, nil
	case reflect.Bool:
		return schema.Boolean{}, nil
	case reflect.Float32, reflect.Float64:
		return schema.Float{}, nil
	}
	return nil, fmt.Errorf("no column type for %s, add an orm type", t)
}

// columnValue reads a field as a driver argument. Nil pointers are NULL.
func columnValue(v reflect.Value) any {
	if v.Type().Implements(valuerType) {
		if v.Kind() == reflect.Pointer && v.IsNil() {
			return nil
		}
		val, err := v.Interface().(driver.Valuer).Value()
		if err != nil {
			return nil
		}
		return val
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

func isZeroKey(v any) bool {
	return v == nil || reflect.ValueOf(v).IsZero()
}

// normalizeKey makes primary key values from fields and from drivers
// compare equal: every integer becomes int64 and []byte becomes string.
func normalizeKey(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Slice:
		if b, ok := v.([]byte); ok {
			return string(b)
		}
	}
	return v
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// assign stores a driver value into a field, converting between the
// representations drivers hand back and the field's Go type.
func assign(field reflect.Value, v any) error {
	if field.CanAddr() && field.Addr().Type().Implements(scannerType) {
		return field.Addr().Interface().(sql.Scanner).Scan(v)
	}
	if v == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	if field.Kind() == reflect.Pointer {
		ptr := reflect.New(field.Type().Elem())
		if err := assign(ptr.Elem(), v); err != nil {
			return err
		}
		field.Set(ptr)
		return nil
	}

	src := reflect.ValueOf(v)
	switch field.Kind() {
	case reflect.String:
		switch x := v.(type) {
		case string:
			field.SetString(x)
		case []byte:
			field.SetString(string(x))
		default:
			field.SetString(fmt.Sprint(x))
		}
		return nil
	case reflect.Bool:
		switch x := v.(type) {
		case bool:
			field.SetBool(x)
		case int64:
			field.SetBool(x != 0)
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return err
			}
			field.SetBool(b)
		default:
			return fmt.Errorf("can't store %T in a bool", v)
		}
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		if s, ok := v.(string); ok {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("can't store %q in %s: %w", s, field.Type(), err)
			}
			src = reflect.ValueOf(f)
		}
		if !src.Type().ConvertibleTo(field.Type()) {
			return fmt.Errorf("can't store %T in %s", v, field.Type())
		}
		field.Set(src.Convert(field.Type()))
		return nil
	}
	if field.Type() == timeType {
		if s, ok := v.(string); ok {
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					field.Set(reflect.ValueOf(t))
					return nil
				}
			}
			return fmt.Errorf("can't parse %q as a time", s)
		}
	}
	if src.Type().AssignableTo(field.Type()) {
		field.Set(src)
		return nil
	}
	if src.Type().ConvertibleTo(field.Type()) {
		field.Set(src.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("can't store %T in %s", v, field.Type())
}
