package transport

import (
	"go.bug.st/serial"
)

// DefaultBaudRate is used when the serial URL doesn't specify one.
const DefaultBaudRate = 57600

// OpenSerial opens a serial port as a Transport, 8N1.
func OpenSerial(port string, baudRate int) (Transport, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SerialPorts lists serial ports of the system.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
