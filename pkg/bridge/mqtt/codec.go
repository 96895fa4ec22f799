package mqtt

import (
	"bytes"
	"fmt"

	"github.com/golang/protobuf/jsonpb"
	structpb "github.com/golang/protobuf/ptypes/struct"

	"github.com/robotalks/uavtalk.go/pkg/uavobject"
)

func elementValue(d uavobject.Data, f *uavobject.Field, index int) (*structpb.Value, error) {
	if f.Type == uavobject.Enum {
		sym, err := d.Enum(f.Name, index)
		if err != nil {
			return nil, err
		}
		return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: sym}}, nil
	}
	num, err := d.Float(f.Name, index)
	if err != nil {
		return nil, err
	}
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: num}}, nil
}

// EncodeStruct converts instance data to a Struct keyed by field names.
// Multi-element fields become lists.
func EncodeStruct(d uavobject.Data) (*structpb.Struct, error) {
	def := d.Definition()
	if def == nil {
		return nil, uavobject.ErrNoDefinition
	}
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(def.Fields))}
	for n := range def.Fields {
		f := &def.Fields[n]
		if f.NumElements() == 1 {
			val, err := elementValue(d, f, 0)
			if err != nil {
				return nil, err
			}
			s.Fields[f.Name] = val
			continue
		}
		list := &structpb.ListValue{Values: make([]*structpb.Value, f.NumElements())}
		for i := range list.Values {
			val, err := elementValue(d, f, i)
			if err != nil {
				return nil, err
			}
			list.Values[i] = val
		}
		s.Fields[f.Name] = &structpb.Value{Kind: &structpb.Value_ListValue{ListValue: list}}
	}
	return s, nil
}

func setElementValue(d uavobject.Data, name string, index int, val *structpb.Value) error {
	switch kind := val.GetKind().(type) {
	case *structpb.Value_NumberValue:
		return d.Set(name, index, kind.NumberValue)
	case *structpb.Value_StringValue:
		return d.Set(name, index, kind.StringValue)
	case *structpb.Value_BoolValue:
		return d.Set(name, index, kind.BoolValue)
	}
	return fmt.Errorf("%s[%d]: unsupported value %v: %w", name, index, val, uavobject.ErrTypeMismatch)
}

// DecodeStruct writes fields present in s into d.
func DecodeStruct(s *structpb.Struct, d uavobject.Data) error {
	def := d.Definition()
	if def == nil {
		return uavobject.ErrNoDefinition
	}
	for name, val := range s.GetFields() {
		f, ok := def.Field(name)
		if !ok {
			return fmt.Errorf("%s.%s: %w", def.Name, name, uavobject.ErrUnknownField)
		}
		list := val.GetListValue()
		if list == nil {
			if err := setElementValue(d, name, 0, val); err != nil {
				return err
			}
			continue
		}
		if len(list.Values) != f.NumElements() {
			return fmt.Errorf("%s.%s: %d elements, expect %d: %w",
				def.Name, name, len(list.Values), f.NumElements(), uavobject.ErrSizeMismatch)
		}
		for i, elm := range list.Values {
			if err := setElementValue(d, name, i, elm); err != nil {
				return err
			}
		}
	}
	return nil
}

var marshaler = jsonpb.Marshaler{OrigName: true}

// MarshalJSON encodes instance data as JSON object.
func MarshalJSON(d uavobject.Data) ([]byte, error) {
	s, err := EncodeStruct(d)
	if err != nil {
		return nil, err
	}
	str, err := marshaler.MarshalToString(s)
	if err != nil {
		return nil, err
	}
	return []byte(str), nil
}

// UnmarshalJSON decodes a JSON object into instance data.
func UnmarshalJSON(payload []byte, d uavobject.Data) error {
	var s structpb.Struct
	if err := jsonpb.Unmarshal(bytes.NewReader(payload), &s); err != nil {
		return err
	}
	return DecodeStruct(&s, d)
}
