package serialmux

import (
	"io"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// SerialPortOpener opens the port at path. The command binaries use
// OpenSerialPort; tests substitute pipes.
type SerialPortOpener func(path string, opts PortOptions) (SerialPorter, error)
