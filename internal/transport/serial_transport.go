package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// SerialTransport is the real-hardware Transport: a serial port opened with
// go.bug.st/serial, bound as the device end of the link.
type SerialTransport struct {
	port serial.Port
	*bufferedReadWriter
	portName string
}

// OpenSerial opens portName at baudRate, 8N1, matching the mode the
// original firmware's UART boots into after reset.
func OpenSerial(portName string, baudRate int) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: set read timeout: %w", err)
	}
	return &SerialTransport{
		port:                port,
		bufferedReadWriter:  newBufferedReadWriter(port),
		portName:            portName,
	}, nil
}

func (t *SerialTransport) SetBaudRate(baud int) error {
	mode := &serial.Mode{BaudRate: baud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	if err := t.port.SetMode(mode); err != nil {
		return fmt.Errorf("transport: set baud rate %d: %w", baud, err)
	}
	t.bufferedReadWriter = newBufferedReadWriter(t.port)
	return nil
}

func (t *SerialTransport) Close() error { return t.port.Close() }

func (t *SerialTransport) PortName() string { return t.portName }

// ListPorts enumerates available serial ports.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
