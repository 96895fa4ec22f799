// Package uavobject defines the data model of telemetry objects.
package uavobject

// An object is a typed record identified by a 32-bit id. Its definition
// fixes the packed layout: fields in declaration order, little-endian,
// no padding, enums as a uint8 index. Multi-instance objects carry a
// 16-bit instance id on the wire.
//
// Every data object has a metaobject (id+1) holding its Metadata, which
// controls how and when the object is transmitted in each direction.
