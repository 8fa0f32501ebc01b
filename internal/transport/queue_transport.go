package transport

import (
	"errors"
	"io"
	"sync"
)

// QueueRingSize is the channel's buffered byte capacity, matching the
// original firmware's UART RX ring buffer sizing: large enough to absorb a
// full write block plus slack for in-flight command/response framing
// overhead (wire.MaxWriteBlock + 0x400).
const QueueRingSize = 0x4000 + 0x400

// QueueTransport is the Go stand-in for the original firmware's interrupt-fed
// ring buffer: a goroutine continuously drains the underlying
// io.Reader into a bounded channel, so a slow consumer (the command loop,
// blocked mid-decompress or mid-program) doesn't stall the link the way a
// synchronous blocking Read would on a single-threaded ISR-driven UART.
// Reads from QueueTransport pull from that channel instead of the raw
// stream.
type QueueTransport struct {
	io.Writer
	io.Closer
	setBaud func(int) error

	queue    chan byte
	readErr  error
	readOnce sync.Once
	done     chan struct{}
}

// NewQueueTransport starts the drain goroutine over r, forwards writes to
// w, and uses setBaud (may be nil) to implement SetBaudRate.
func NewQueueTransport(r io.Reader, w io.Writer, closer io.Closer, setBaud func(int) error) *QueueTransport {
	t := &QueueTransport{
		Writer:  w,
		Closer:  closer,
		setBaud: setBaud,
		queue:   make(chan byte, QueueRingSize),
		done:    make(chan struct{}),
	}
	go t.drain(r)
	return t
}

func (t *QueueTransport) drain(r io.Reader) {
	buf := make([]byte, 512)
	for {
		n, err := r.Read(buf)
		for i := 0; i < n; i++ {
			select {
			case t.queue <- buf[i]:
			case <-t.done:
				return
			}
		}
		if err != nil {
			t.readOnce.Do(func() { t.readErr = err })
			close(t.queue)
			return
		}
	}
}

// ReadByte pulls the next byte off the queue, blocking until one arrives or
// the underlying reader terminates.
func (t *QueueTransport) ReadByte() (byte, error) {
	b, ok := <-t.queue
	if !ok {
		if t.readErr != nil {
			return 0, t.readErr
		}
		return 0, io.EOF
	}
	return b, nil
}

// Read drains up to len(p) buffered bytes without blocking past the first.
func (t *QueueTransport) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, err := t.ReadByte()
	if err != nil {
		return 0, err
	}
	p[0] = b
	n := 1
	for n < len(p) {
		select {
		case b, ok := <-t.queue:
			if !ok {
				return n, nil
			}
			p[n] = b
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

func (t *QueueTransport) SetBaudRate(baud int) error {
	if t.setBaud == nil {
		return errors.New("transport: underlying link does not support baud rate changes")
	}
	return t.setBaud(baud)
}

func (t *QueueTransport) Close() error {
	close(t.done)
	if t.Closer != nil {
		return t.Closer.Close()
	}
	return nil
}
