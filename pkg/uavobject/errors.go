package uavobject

import "errors"

var (
	// ErrInvalidDefinition indicates a definition can't be registered.
	ErrInvalidDefinition = errors.New("invalid object definition")
	// ErrDuplicated indicates the object id or name is already registered.
	ErrDuplicated = errors.New("object already registered")
	// ErrTooLarge indicates the packed object exceeds the link payload limit.
	ErrTooLarge = errors.New("object too large")
	// ErrNoDefinition indicates the data is not bound to a definition.
	ErrNoDefinition = errors.New("data without definition")
	// ErrUnknownField indicates the field doesn't exist.
	ErrUnknownField = errors.New("unknown field")
	// ErrIndexOutOfRange indicates the element index is beyond the field.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrTypeMismatch indicates the value can't be converted to the field type.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrOutOfRange indicates the value doesn't fit the field type.
	ErrOutOfRange = errors.New("value out of range")
	// ErrSizeMismatch indicates packed bytes don't match the definition.
	ErrSizeMismatch = errors.New("size mismatch")
)
