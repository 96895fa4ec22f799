package uavtalk

import "github.com/sigurn/crc8"

// CRC-8, polynomial 0x07, initial value 0.
var crcTable = crc8.MakeTable(crc8.CRC8)

// Checksum computes the frame checksum over b.
func Checksum(b []byte) byte {
	return crc8.Checksum(b, crcTable)
}

func updateChecksum(crc byte, b ...byte) byte {
	return crc8.Update(crc, b, crcTable)
}
