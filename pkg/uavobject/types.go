package uavobject

import (
	"fmt"
	"strings"
)

// FieldType is the primitive type of a field element.
type FieldType uint8

// Field types.
const (
	Int8 FieldType = iota
	Int16
	Int32
	Uint8
	Uint16
	Uint32
	Float32
	Enum
)

var fieldTypeNames = [...]string{
	Int8:    "int8",
	Int16:   "int16",
	Int32:   "int32",
	Uint8:   "uint8",
	Uint16:  "uint16",
	Uint32:  "uint32",
	Float32: "float32",
	Enum:    "enum",
}

// Size returns the number of bytes of a single element.
func (t FieldType) Size() int {
	switch t {
	case Int8, Uint8, Enum:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	}
	return 0
}

// IsValid indicates t is a known type.
func (t FieldType) IsValid() bool {
	return int(t) < len(fieldTypeNames)
}

// String implements fmt.Stringer.
func (t FieldType) String() string {
	if t.IsValid() {
		return fieldTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", t)
}

// ParseFieldType parses the name of a field type.
func ParseFieldType(name string) (FieldType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for n, s := range fieldTypeNames {
		if s == name {
			return FieldType(n), nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", name)
}

// Field describes one field of an object.
type Field struct {
	Name     string
	Type     FieldType
	Elements int
	Options  []string
	Units    string

	offset int
}

// NumElements returns the array length, at least 1.
func (f *Field) NumElements() int {
	if f.Elements < 1 {
		return 1
	}
	return f.Elements
}

// NumBytes returns the packed size of the field.
func (f *Field) NumBytes() int {
	return f.Type.Size() * f.NumElements()
}

// Offset returns the byte offset of the field in packed data.
func (f *Field) Offset() int {
	return f.offset
}

// OptionIndex finds the index of an enum symbol.
func (f *Field) OptionIndex(symbol string) (int, bool) {
	for n, opt := range f.Options {
		if opt == symbol {
			return n, true
		}
	}
	return 0, false
}

// Definition is the immutable description of an object.
type Definition struct {
	ID             uint32
	Name           string
	Description    string
	SingleInstance bool
	Settings       bool
	Fields         []Field
	// Metadata is the default metadata of the object.
	Metadata Metadata

	isMeta   bool
	numBytes int
	index    map[string]int
}

// IsMeta indicates the definition is a metaobject.
func (d *Definition) IsMeta() bool {
	return d.isMeta
}

// NumBytes returns the packed size of an instance.
func (d *Definition) NumBytes() int {
	return d.numBytes
}

// Field looks up a field by name.
func (d *Definition) Field(name string) (*Field, bool) {
	n, ok := d.index[name]
	if !ok {
		return nil, false
	}
	return &d.Fields[n], true
}

// NewData creates instance data filled with zero values.
func (d *Definition) NewData() Data {
	return Data{def: d, buf: make([]byte, d.numBytes)}
}

// prepare validates the definition and computes field offsets.
func (d *Definition) prepare() error {
	if d.Name == "" {
		return fmt.Errorf("object %08x: %w", d.ID, ErrInvalidDefinition)
	}
	if !d.isMeta && d.ID&1 != 0 {
		return fmt.Errorf("object %s: id %08x must be even: %w", d.Name, d.ID, ErrInvalidDefinition)
	}
	d.index = make(map[string]int, len(d.Fields))
	offset := 0
	for n := range d.Fields {
		f := &d.Fields[n]
		if f.Name == "" {
			return fmt.Errorf("object %s: field[%d] without name: %w", d.Name, n, ErrInvalidDefinition)
		}
		if _, exists := d.index[f.Name]; exists {
			return fmt.Errorf("object %s: duplicated field %s: %w", d.Name, f.Name, ErrInvalidDefinition)
		}
		if !f.Type.IsValid() {
			return fmt.Errorf("object %s: field %s: %v: %w", d.Name, f.Name, f.Type, ErrInvalidDefinition)
		}
		if f.Type == Enum && len(f.Options) == 0 {
			return fmt.Errorf("object %s: enum field %s without options: %w", d.Name, f.Name, ErrInvalidDefinition)
		}
		f.offset = offset
		offset += f.NumBytes()
		d.index[f.Name] = n
	}
	if offset > MaxNumBytes {
		return fmt.Errorf("object %s: %d bytes: %w", d.Name, offset, ErrTooLarge)
	}
	d.numBytes = offset
	d.Metadata = d.Metadata.Normalize()
	return nil
}

// MaxNumBytes is the largest packed instance the link can carry.
const MaxNumBytes = 255
