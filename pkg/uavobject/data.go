package uavobject

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
)

// Data is the packed value of one object instance.
// Fields are laid out in declaration order, little-endian, without padding.
type Data struct {
	def *Definition
	buf []byte
}

// Definition returns the definition of the data.
func (d Data) Definition() *Definition {
	return d.def
}

// IsValid indicates the data is bound to a definition.
func (d Data) IsValid() bool {
	return d.def != nil
}

// Pack returns a copy of the packed bytes.
func (d Data) Pack() []byte {
	return append([]byte(nil), d.buf...)
}

// Unpack replaces the content with packed bytes.
func (d Data) Unpack(b []byte) error {
	if len(b) != len(d.buf) {
		return fmt.Errorf("%s: %d bytes, expect %d: %w", d.def.Name, len(b), len(d.buf), ErrSizeMismatch)
	}
	copy(d.buf, b)
	return nil
}

// Clone makes a deep copy.
func (d Data) Clone() Data {
	return Data{def: d.def, buf: d.Pack()}
}

// Equal compares definition and content.
func (d Data) Equal(o Data) bool {
	return d.def == o.def && bytes.Equal(d.buf, o.buf)
}

func (d Data) element(name string, index int) (*Field, []byte, error) {
	if d.def == nil {
		return nil, nil, ErrNoDefinition
	}
	f, ok := d.def.Field(name)
	if !ok {
		return nil, nil, fmt.Errorf("%s.%s: %w", d.def.Name, name, ErrUnknownField)
	}
	if index < 0 || index >= f.NumElements() {
		return nil, nil, fmt.Errorf("%s.%s[%d]: %w", d.def.Name, name, index, ErrIndexOutOfRange)
	}
	sz := f.Type.Size()
	off := f.offset + index*sz
	return f, d.buf[off : off+sz], nil
}

func getElement(f *Field, b []byte) interface{} {
	switch f.Type {
	case Int8:
		return int8(b[0])
	case Uint8:
		return b[0]
	case Int16:
		return int16(binary.LittleEndian.Uint16(b))
	case Uint16:
		return binary.LittleEndian.Uint16(b)
	case Int32:
		return int32(binary.LittleEndian.Uint32(b))
	case Uint32:
		return binary.LittleEndian.Uint32(b)
	case Float32:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case Enum:
		if int(b[0]) < len(f.Options) {
			return f.Options[b[0]]
		}
		return fmt.Sprintf("%d", b[0])
	}
	return nil
}

// Int reads an integer element (enums yield their index).
func (d Data) Int(name string, index int) (int64, error) {
	f, b, err := d.element(name, index)
	if err != nil {
		return 0, err
	}
	switch f.Type {
	case Int8:
		return int64(int8(b[0])), nil
	case Uint8, Enum:
		return int64(b[0]), nil
	case Int16:
		return int64(int16(binary.LittleEndian.Uint16(b))), nil
	case Uint16:
		return int64(binary.LittleEndian.Uint16(b)), nil
	case Int32:
		return int64(int32(binary.LittleEndian.Uint32(b))), nil
	case Uint32:
		return int64(binary.LittleEndian.Uint32(b)), nil
	}
	return 0, fmt.Errorf("%s.%s is %v: %w", d.def.Name, name, f.Type, ErrTypeMismatch)
}

// Uint reads an unsigned element.
func (d Data) Uint(name string, index int) (uint64, error) {
	v, err := d.Int(name, index)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("%s.%s[%d] is negative: %w", d.def.Name, name, index, ErrTypeMismatch)
	}
	return uint64(v), nil
}

// Float reads a numeric element as float64.
func (d Data) Float(name string, index int) (float64, error) {
	f, b, err := d.element(name, index)
	if err != nil {
		return 0, err
	}
	if f.Type == Float32 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	}
	v, err := d.Int(name, index)
	return float64(v), err
}

// Enum reads the symbol of an enum element.
func (d Data) Enum(name string, index int) (string, error) {
	f, b, err := d.element(name, index)
	if err != nil {
		return "", err
	}
	if f.Type != Enum {
		return "", fmt.Errorf("%s.%s is %v: %w", d.def.Name, name, f.Type, ErrTypeMismatch)
	}
	if int(b[0]) >= len(f.Options) {
		return "", fmt.Errorf("%s.%s = %d: %w", d.def.Name, name, b[0], ErrOutOfRange)
	}
	return f.Options[b[0]], nil
}

// Field returns the Go value of a field: a scalar for single element fields,
// otherwise a slice. Enums are returned as symbols.
func (d Data) Field(name string) (interface{}, error) {
	if d.def == nil {
		return nil, ErrNoDefinition
	}
	f, ok := d.def.Field(name)
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", d.def.Name, name, ErrUnknownField)
	}
	sz := f.Type.Size()
	if f.NumElements() == 1 {
		return getElement(f, d.buf[f.offset:f.offset+sz]), nil
	}
	var sv reflect.Value
	for i := 0; i < f.NumElements(); i++ {
		off := f.offset + i*sz
		v := reflect.ValueOf(getElement(f, d.buf[off:off+sz]))
		if i == 0 {
			sv = reflect.MakeSlice(reflect.SliceOf(v.Type()), 0, f.NumElements())
		}
		sv = reflect.Append(sv, v)
	}
	return sv.Interface(), nil
}

// Map returns all fields keyed by name.
func (d Data) Map() map[string]interface{} {
	m := make(map[string]interface{})
	if d.def == nil {
		return m
	}
	for n := range d.def.Fields {
		name := d.def.Fields[n].Name
		m[name], _ = d.Field(name)
	}
	return m
}

// Set writes one element. Numbers of any Go type are accepted and range checked;
// enum elements also accept their symbol.
func (d Data) Set(name string, index int, value interface{}) error {
	f, b, err := d.element(name, index)
	if err != nil {
		return err
	}
	if err = setElement(f, b, value); err != nil {
		return fmt.Errorf("%s.%s[%d]: %w", d.def.Name, name, index, err)
	}
	return nil
}

// SetField writes a whole field, a scalar or a slice matching the element count.
func (d Data) SetField(name string, value interface{}) error {
	if d.def == nil {
		return ErrNoDefinition
	}
	f, ok := d.def.Field(name)
	if !ok {
		return fmt.Errorf("%s.%s: %w", d.def.Name, name, ErrUnknownField)
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return d.Set(name, 0, value)
	}
	if rv.Len() != f.NumElements() {
		return fmt.Errorf("%s.%s: %d elements, expect %d: %w", d.def.Name, name, rv.Len(), f.NumElements(), ErrSizeMismatch)
	}
	for i := 0; i < rv.Len(); i++ {
		if err := d.Set(name, i, rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	return nil
}

// SetMap writes fields from a map, fields not present are untouched.
func (d Data) SetMap(m map[string]interface{}) error {
	for name, val := range m {
		if err := d.SetField(name, val); err != nil {
			return err
		}
	}
	return nil
}

func setElement(f *Field, b []byte, value interface{}) error {
	if f.Type == Enum {
		if sym, ok := value.(string); ok {
			n, found := f.OptionIndex(sym)
			if !found {
				return fmt.Errorf("enum symbol %q: %w", sym, ErrOutOfRange)
			}
			b[0] = byte(n)
			return nil
		}
		n, err := toInt(value)
		if err != nil {
			return err
		}
		if n < 0 || n >= int64(len(f.Options)) {
			return fmt.Errorf("enum index %d: %w", n, ErrOutOfRange)
		}
		b[0] = byte(n)
		return nil
	}
	if f.Type == Float32 {
		v, err := toFloat(value)
		if err != nil {
			return err
		}
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
		return nil
	}
	n, err := toInt(value)
	if err != nil {
		return err
	}
	var lo, hi int64
	switch f.Type {
	case Int8:
		lo, hi = math.MinInt8, math.MaxInt8
	case Uint8:
		lo, hi = 0, math.MaxUint8
	case Int16:
		lo, hi = math.MinInt16, math.MaxInt16
	case Uint16:
		lo, hi = 0, math.MaxUint16
	case Int32:
		lo, hi = math.MinInt32, math.MaxInt32
	case Uint32:
		lo, hi = 0, math.MaxUint32
	}
	if n < lo || n > hi {
		return fmt.Errorf("%d does not fit %v: %w", n, f.Type, ErrOutOfRange)
	}
	switch f.Type.Size() {
	case 1:
		b[0] = byte(n)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(n))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(n))
	}
	return nil
}

func toInt(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, ErrOutOfRange
		}
		return int64(v), nil
	case float32:
		return toInt(float64(v))
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("%v is not an integer: %w", v, ErrTypeMismatch)
		}
		if v < math.MinInt64 || v >= math.MaxInt64 {
			return 0, ErrOutOfRange
		}
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%T is not a number: %w", value, ErrTypeMismatch)
}

func toFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	n, err := toInt(value)
	return float64(n), err
}
