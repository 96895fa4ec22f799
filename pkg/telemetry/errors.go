package telemetry

import (
	"errors"

	"github.com/robotalks/uavtalk.go/pkg/uavtalk"
)

var (
	// ErrUnknownObject indicates the object is not in the dictionary.
	ErrUnknownObject = uavtalk.ErrUnknownObject
	// ErrInvalidInstance indicates the instance id doesn't apply to the object.
	ErrInvalidInstance = uavtalk.ErrInvalidInstance
	// ErrTimeout indicates the awaited update didn't arrive in time.
	ErrTimeout = uavtalk.ErrTimeout
	// ErrNotMetaObject indicates metadata operations on a metaobject.
	ErrNotMetaObject = errors.New("metaobject has no metadata")
)
