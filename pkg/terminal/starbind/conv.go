package starbind

import (
	"errors"
	"fmt"
	"reflect"

	"go.starlark.net/starlark"
)

// toStarlark converts a value returned by the debugger service. Structs
// and slices are wrapped, not copied: scripts read their fields with the
// Go names (state().CurrentLine.Line).
func (env *Env) toStarlark(v interface{}) starlark.Value {
	switch v := v.(type) {
	case nil:
		return starlark.None
	case starlark.Value:
		return v
	case error:
		return starlark.String(v.Error())
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return starlark.Bool(rv.Bool())
	case reflect.String:
		return starlark.String(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return starlark.MakeInt64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return starlark.MakeUint64(rv.Uint())
	case reflect.Ptr:
		if rv.IsNil() {
			return starlark.None
		}
		if rv.Elem().Kind() == reflect.Struct {
			return goStruct{rv.Elem(), env}
		}
	case reflect.Struct:
		return goStruct{rv, env}
	case reflect.Slice:
		return goSlice{rv, env}
	}
	return starlark.String(fmt.Sprintf("%v", v))
}

// goSlice exposes a Go slice as a starlark.Sequence.
type goSlice struct {
	v   reflect.Value
	env *Env
}

var (
	_ starlark.Indexable = goSlice{}
	_ starlark.Sequence  = goSlice{}
)

func (v goSlice) Freeze()               {}
func (v goSlice) Hash() (uint32, error) { return 0, fmt.Errorf("not hashable") }
func (v goSlice) String() string        { return fmt.Sprintf("%v", v.v.Interface()) }
func (v goSlice) Truth() starlark.Bool  { return v.v.Len() != 0 }
func (v goSlice) Type() string          { return v.v.Type().String() }
func (v goSlice) Len() int              { return v.v.Len() }

func (v goSlice) Index(i int) starlark.Value {
	if i < 0 || i >= v.v.Len() {
		return nil
	}
	return v.env.toStarlark(v.v.Index(i).Interface())
}

func (v goSlice) Iterate() starlark.Iterator {
	return &goSliceIterator{s: v}
}

type goSliceIterator struct {
	s   goSlice
	cur int
}

func (it *goSliceIterator) Done() {}

func (it *goSliceIterator) Next(p *starlark.Value) bool {
	if it.cur >= it.s.Len() {
		return false
	}
	*p = it.s.Index(it.cur)
	it.cur++
	return true
}

// goStruct exposes the exported fields of a Go struct as attributes.
type goStruct struct {
	v   reflect.Value
	env *Env
}

var _ starlark.HasAttrs = goStruct{}

func (v goStruct) Freeze()               {}
func (v goStruct) Hash() (uint32, error) { return 0, fmt.Errorf("not hashable") }
func (v goStruct) String() string        { return fmt.Sprintf("%+v", v.v.Interface()) }
func (v goStruct) Truth() starlark.Bool  { return true }
func (v goStruct) Type() string          { return v.v.Type().String() }

func (v goStruct) Attr(name string) (starlark.Value, error) {
	f, ok := v.v.Type().FieldByName(name)
	if !ok || !f.IsExported() {
		return starlark.None, fmt.Errorf("no field named %q in %s", name, v.Type())
	}
	return v.env.toStarlark(v.v.FieldByIndex(f.Index).Interface()), nil
}

func (v goStruct) AttrNames() []string {
	typ := v.v.Type()
	names := make([]string, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		if typ.Field(i).IsExported() {
			names = append(names, typ.Field(i).Name)
		}
	}
	return names
}

// fromStarlark stores val into the Go variable dst points to. Lists fill
// slices, dicts with string keys fill structs field by field. path names
// the argument in error messages.
func fromStarlark(val starlark.Value, dst interface{}, path string) error {
	return assign(val, reflect.ValueOf(dst), path)
}

func assign(val starlark.Value, dst reflect.Value, path string) (err error) {
	defer func() {
		if ierr := recover(); ierr != nil {
			err = fmt.Errorf("error setting argument %q to %s: %v", path, val, ierr)
		}
	}()

	if val == starlark.None {
		return nil
	}
	for dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		dst = dst.Elem()
	}

	mismatch := func(detail string) error {
		msg := fmt.Sprintf("error setting argument %q: can not convert %s to %s", path, val, dst.Type())
		if detail != "" {
			msg += ": " + detail
		}
		return errors.New(msg)
	}

	switch val := val.(type) {
	case starlark.Bool:
		if dst.Kind() != reflect.Bool {
			return mismatch("")
		}
		dst.SetBool(bool(val))
	case starlark.String:
		if dst.Kind() != reflect.String {
			return mismatch("")
		}
		dst.SetString(string(val))
	case starlark.Int:
		switch dst.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n, ok := val.Int64()
			if !ok || dst.OverflowInt(n) {
				return mismatch("out of range")
			}
			dst.SetInt(n)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			n, ok := val.Uint64()
			if !ok || dst.OverflowUint(n) {
				return mismatch("out of range")
			}
			dst.SetUint(n)
		default:
			return mismatch("")
		}
	case *starlark.List:
		if dst.Kind() != reflect.Slice {
			return mismatch("")
		}
		r := reflect.MakeSlice(dst.Type(), val.Len(), val.Len())
		for i := 0; i < val.Len(); i++ {
			if err := assign(val.Index(i), r.Index(i).Addr(), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		dst.Set(r)
	case *starlark.Dict:
		if dst.Kind() != reflect.Struct {
			return mismatch("")
		}
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return mismatch(fmt.Sprintf("non-string key %s", item[0]))
			}
			field := dst.FieldByName(string(key))
			if !field.IsValid() {
				return mismatch(fmt.Sprintf("unknown field %s", key))
			}
			if err := assign(item[1], field.Addr(), path+"."+string(key)); err != nil {
				return err
			}
		}
	case goStruct:
		if val.v.Type() != dst.Type() {
			return mismatch("")
		}
		dst.Set(val.v)
	default:
		return mismatch("")
	}
	return nil
}
