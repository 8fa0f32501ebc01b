package transport

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeTransport_ReadWrite(t *testing.T) {
	r := bytes.NewReader([]byte{1, 2, 3})
	var out bytes.Buffer
	tr := NewPipeTransport(r, &out)

	n, err := tr.Write([]byte{9, 9})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{9, 9}, out.Bytes())

	b, err := tr.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(1), b)

	require.NoError(t, tr.SetBaudRate(115200))
	require.NoError(t, tr.Close())
}

func TestQueueTransport_ReadByteBlocksUntilData(t *testing.T) {
	pr, pw := io.Pipe()
	var out bytes.Buffer
	qt := NewQueueTransport(pr, &out, pr, nil)
	defer qt.Close()

	done := make(chan byte, 1)
	go func() {
		b, err := qt.ReadByte()
		require.NoError(t, err)
		done <- b
	}()

	time.Sleep(10 * time.Millisecond)
	_, err := pw.Write([]byte{0x42})
	require.NoError(t, err)

	select {
	case b := <-done:
		assert.Equal(t, byte(0x42), b)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued byte")
	}
}

func TestQueueTransport_ReadDrainsMultipleBuffered(t *testing.T) {
	pr, pw := io.Pipe()
	var out bytes.Buffer
	qt := NewQueueTransport(pr, &out, pr, nil)
	defer qt.Close()

	go pw.Write([]byte{1, 2, 3, 4})

	buf := make([]byte, 8)
	var total int
	deadline := time.Now().Add(time.Second)
	for total < 4 && time.Now().Before(deadline) {
		n, err := qt.Read(buf[total:])
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, []byte{1, 2, 3, 4}, buf[:4])
}

func TestQueueTransport_EOFPropagates(t *testing.T) {
	pr, pw := io.Pipe()
	var out bytes.Buffer
	qt := NewQueueTransport(pr, &out, pr, nil)

	pw.Close()

	deadline := time.Now().Add(time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		_, lastErr = qt.ReadByte()
		if lastErr != nil {
			break
		}
	}
	assert.Error(t, lastErr)
}

func TestQueueTransport_SetBaudRate_Unsupported(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	var out bytes.Buffer
	qt := NewQueueTransport(pr, &out, pr, nil)
	defer qt.Close()

	err := qt.SetBaudRate(9600)
	assert.Error(t, err)
}

func TestQueueTransport_SetBaudRate_Supported(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	var out bytes.Buffer
	var gotBaud int
	qt := NewQueueTransport(pr, &out, pr, func(b int) error {
		gotBaud = b
		return nil
	})
	defer qt.Close()

	require.NoError(t, qt.SetBaudRate(230400))
	assert.Equal(t, 230400, gotBaud)
}
