// Package uavtalk implements the telemetry link protocol.
package uavtalk

// Frames are exchanged over a byte stream (e.g. a serial port):
//
//	sync(0x3C) type length(u16) objectID(u32) [instanceID(u16)] payload crc8
//
// All numbers are little-endian. Length counts the header and the payload,
// the CRC-8 (polynomial 0x07) covers every byte before it. The instance id
// is only present for multi-instance objects, so decoding needs the object
// definitions.
//
// OBJ_ACK is answered with ACK, OBJ_REQ with OBJ, or NACK when the object
// is unknown. The Engine pairs ACK/NACK/OBJ with outstanding transactions;
// retrying is left to the caller.
