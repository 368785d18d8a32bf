package serialmux

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
)

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort implements SerialPorter with scripted reads and captured
// writes.
type TestableSerialPort struct {
	mu       sync.Mutex
	readCond *sync.Cond

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer

	// WriteError is returned by the next Write call if set.
	WriteError error
	// CloseError is returned by Close if set.
	CloseError error

	closed bool
}

// NewTestableSerialPort returns a port whose reads block until data is added
// with AddReadData or the port is closed.
func NewTestableSerialPort() *TestableSerialPort {
	t := &TestableSerialPort{}
	t.readCond = sync.NewCond(&t.mu)
	return t
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.closed && t.readBuf.Len() == 0 {
		t.readCond.Wait()
	}
	if t.readBuf.Len() > 0 {
		return t.readBuf.Read(p)
	}
	return 0, io.EOF
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, errPortClosed
	}
	if err := t.WriteError; err != nil {
		t.WriteError = nil
		return 0, err
	}
	return t.writeBuf.Write(p)
}

// Close wakes any blocked reader, which then sees EOF.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// Closed reports whether Close was called.
func (t *TestableSerialPort) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// AddReadData queues data for subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readBuf.WriteString(data)
	t.readCond.Broadcast()
}

// Written returns everything written to the port so far.
func (t *TestableSerialPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeBuf.String()
}

// PipePort is a SerialPorter connected to a Device, standing in for a cable to
// a controller.
type PipePort struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *PipePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *PipePort) Write(b []byte) (int, error) { return p.w.Write(b) }

// Close ends the link. Pending reads on the port side see EOF.
func (p *PipePort) Close() error {
	p.r.CloseWithError(io.EOF)
	return p.w.Close()
}

// Device is the controller end of a PipePort.
type Device struct {
	w        *io.PipeWriter
	commands chan string
}

// NewPipePort returns a connected port and device.
func NewPipePort() (*PipePort, *Device) {
	toHost, fromDevice := io.Pipe()
	fromHost, toDevice := io.Pipe()

	d := &Device{w: fromDevice, commands: make(chan string, subscriberBuffer)}
	go func() {
		defer close(d.commands)
		scan := bufio.NewScanner(fromHost)
		for scan.Scan() {
			d.commands <- strings.TrimRight(scan.Text(), "\r")
		}
	}()
	return &PipePort{r: toHost, w: toDevice}, d
}

// Commands yields each line the host writes. It is closed when the port is.
func (d *Device) Commands() <-chan string { return d.commands }

// Send writes line to the host, blocking until the host reads it.
func (d *Device) Send(line string) error {
	_, err := io.WriteString(d.w, line+"\n")
	return err
}

// Close hangs up the device end.
func (d *Device) Close() error { return d.w.Close() }
