package config

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

// SplitQuotedFields is like strings.Fields but ignores spaces inside areas
// surrounded by the specified quote character.
// To specify a single quote use backslash to escape it: '\''
func SplitQuotedFields(in string, quote rune) []string {
	type stateEnum int
	const (
		inSpace stateEnum = iota
		inField
		inQuote
		inQuoteEscaped
	)
	state := inSpace
	r := []string{}
	var buf bytes.Buffer

	for _, ch := range in {
		switch state {
		case inSpace:
			if ch == quote {
				state = inQuote
			} else if !unicode.IsSpace(ch) {
				buf.WriteRune(ch)
				state = inField
			}

		case inField:
			if ch == quote {
				state = inQuote
			} else if unicode.IsSpace(ch) {
				r = append(r, buf.String())
				buf.Reset()
				state = inSpace
			} else {
				buf.WriteRune(ch)
			}

		case inQuote:
			if ch == quote {
				state = inField
			} else if ch == '\\' {
				state = inQuoteEscaped
			} else {
				buf.WriteRune(ch)
			}

		case inQuoteEscaped:
			buf.WriteRune(ch)
			state = inQuote
		}
	}

	if state != inSpace {
		r = append(r, buf.String())
	}

	return r
}

// ConfigureSetSimple parses rest and stores it into field, which must be a
// bool, int or string, or a pointer to one of them.
func ConfigureSetSimple(rest string, cfgname string, field reflect.Value) error {
	parse := func(typ reflect.Type) (reflect.Value, error) {
		switch typ.Kind() {
		case reflect.Int:
			n, err := strconv.Atoi(rest)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("argument to %q must be a number", cfgname)
			}
			if n < 0 {
				return reflect.Value{}, fmt.Errorf("argument to %q must be a number greater than zero", cfgname)
			}
			return reflect.ValueOf(&n), nil
		case reflect.Bool:
			if rest != "true" && rest != "false" {
				return reflect.Value{}, fmt.Errorf("argument to %q must be true or false", cfgname)
			}
			v := rest == "true"
			return reflect.ValueOf(&v), nil
		case reflect.String:
			if unquoted, err := strconv.Unquote(rest); err == nil {
				rest = unquoted
			}
			return reflect.ValueOf(&rest), nil
		}
		return reflect.Value{}, fmt.Errorf("unsupported type for configuration key %q", cfgname)
	}

	if field.Kind() == reflect.Ptr {
		val, err := parse(field.Type().Elem())
		if err != nil {
			return err
		}
		field.Set(val)
		return nil
	}
	val, err := parse(field.Type())
	if err != nil {
		return err
	}
	field.Set(val.Elem())
	return nil
}

// ConfigureList writes every field of the struct pointed to by conf that
// has a tag named tag, one per line.
func ConfigureList(w io.Writer, conf interface{}, tag string) {
	it := IterateConfiguration(conf, tag)
	for it.Next() {
		name, field := it.Field()
		if name == "" || name == "-" {
			continue
		}
		writeField(w, field, name)
	}
}

// ConfigureListByName returns the line ConfigureList would write for the
// field called name, or the empty string.
func ConfigureListByName(conf interface{}, name, tag string) string {
	if name == "" {
		return ""
	}
	it := IterateConfiguration(conf, tag)
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == name {
			var buf bytes.Buffer
			writeField(&buf, field, fieldName)
			return buf.String()
		}
	}
	return ""
}

// ConfigureFindFieldByName returns the field of conf called name.
func ConfigureFindFieldByName(conf interface{}, name, tag string) reflect.Value {
	it := IterateConfiguration(conf, tag)
	for it.Next() {
		fieldName, field := it.Field()
		if fieldName == name {
			return field
		}
	}
	return reflect.Value{}
}

func writeField(w io.Writer, field reflect.Value, name string) {
	switch field.Kind() {
	case reflect.Ptr:
		if field.IsNil() {
			fmt.Fprintf(w, "%s\t<not defined>\n", name)
		} else {
			fmt.Fprintf(w, "%s\t%v\n", name, field.Elem())
		}
	case reflect.String:
		fmt.Fprintf(w, "%s\t%q\n", name, field)
	default:
		fmt.Fprintf(w, "%s\t%v\n", name, field)
	}
}

// ConfigIterator walks the fields of a configuration struct.
type ConfigIterator struct {
	value reflect.Value
	typ   reflect.Type
	i     int
	tag   string
}

// IterateConfiguration returns an iterator over the fields of the struct
// pointed to by conf.
func IterateConfiguration(conf interface{}, tag string) *ConfigIterator {
	v := reflect.ValueOf(conf).Elem()
	return &ConfigIterator{value: v, typ: v.Type(), i: -1, tag: tag}
}

// Next advances to the next field.
func (it *ConfigIterator) Next() bool {
	it.i++
	return it.i < it.value.NumField()
}

// Field returns the tag name and the value of the current field.
func (it *ConfigIterator) Field() (string, reflect.Value) {
	name := it.typ.Field(it.i).Tag.Get(it.tag)
	if comma := strings.Index(name, ","); comma >= 0 {
		name = name[:comma]
	}
	return name, it.value.Field(it.i)
}
