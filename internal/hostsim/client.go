// Package hostsim is a host-side driver for the flasher-stub protocol,
// adapted from the flashing tool's own command-sending logic so the stub
// can be exercised end-to-end (sync, upload, verify, read back) without a
// real chip attached. internal/stub/engine_test.go drives the protocol at
// the frame level; this package drives it the way an actual flashing tool
// would, and backs both integration tests and the bench CLI command.
package hostsim

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"time"

	"github.com/bigbag/flasher-stub/internal/slip"
	"github.com/bigbag/flasher-stub/internal/transport"
	"github.com/bigbag/flasher-stub/internal/wire"
)

// Client drives the protocol from the host side of a transport.Transport.
type Client struct {
	t        transport.Transport
	decoder  *slip.Decoder
	buf      []byte
	progress func(current, total int)
}

// SetProgressCallback registers fn to be called after each Data block is
// acknowledged during FlashImage/FlashImageCompressed, so a caller can
// drive a progress bar.
func (c *Client) SetProgressCallback(fn func(current, total int)) {
	c.progress = fn
}

func (c *Client) reportProgress(current, total int) {
	if c.progress != nil {
		c.progress(current, total)
	}
}

// NewClient wraps t. t is typically a transport.PipeTransport in tests,
// or a transport.SerialTransport/QueueTransport talking to real firmware.
func NewClient(t transport.Transport) *Client {
	return &Client{t: t, decoder: slip.NewDecoder(t), buf: make([]byte, 1<<20)}
}

func (c *Client) send(code wire.Code, checksum uint32, body []byte) error {
	_, err := c.t.Write(slip.Encode(wire.EncodeRequest(code, checksum, body)))
	return err
}

// sendRaw writes a SLIP frame whose payload isn't a normal request envelope
// (the ReadFlash flow-control ACK).
func (c *Client) sendRaw(payload []byte) error {
	_, err := c.t.Write(slip.Encode(payload))
	return err
}

// response is a decoded reply.
type response struct {
	Code   wire.Code
	Value  uint32
	Status byte
	Err    wire.Error
	Body   []byte
}

func (r response) IsSuccess() bool { return r.Status == 0 }

func (c *Client) readResponse() (response, error) {
	frame, err := c.decoder.ReadFrame(c.buf)
	if err != nil {
		return response{}, err
	}
	if len(frame) < wire.ResponseHeaderSize {
		return response{}, fmt.Errorf("hostsim: short response frame (%d bytes)", len(frame))
	}
	code := wire.Code(frame[1])
	r := response{
		Code:  code,
		Value: leUint32(frame[4:8]),
	}
	// SpiFlashMd5 and GetSecurityInfo carry their status/error bytes after
	// the body instead of before it on success (see Code.HasTrailingStatus);
	// on failure they fall back to the ordinary Fail() response with no
	// body, which uses the normal layout like everything else.
	if code.HasTrailingStatus() && len(frame) > wire.ResponseHeaderSize {
		body := frame[8 : len(frame)-2]
		r.Status = frame[len(frame)-2]
		r.Err = wire.Error(frame[len(frame)-1])
		r.Body = append([]byte(nil), body...)
	} else {
		r.Status = frame[8]
		r.Err = wire.Error(frame[9])
		r.Body = append([]byte(nil), frame[10:]...)
	}
	return r, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// readFrame reads one raw (non-response) SLIP frame, for ReadFlash's data
// chunks and the trailing MD5 digest.
func (c *Client) readFrame() ([]byte, error) {
	frame, err := c.decoder.ReadFrame(c.buf)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), frame...), nil
}

// do sends a request and waits for its single-frame response, failing on a
// non-zero status.
func (c *Client) do(code wire.Code, checksum uint32, body []byte) (response, error) {
	if err := c.send(code, checksum, body); err != nil {
		return response{}, err
	}
	resp, err := c.readResponse()
	if err != nil {
		return response{}, err
	}
	if !resp.IsSuccess() {
		return resp, fmt.Errorf("hostsim: command %s failed: %s", code, resp.Err)
	}
	return resp, nil
}

// Sync sends the SYNC handshake, draining the stub's 7-response burst.
// Retries a handful of times, since the first bytes after attach may be noise.
func (c *Client) Sync() error {
	var lastErr error
	for attempt := 0; attempt < 10; attempt++ {
		if err := c.send(wire.CodeSync, 0, make([]byte, 0x24)); err != nil {
			lastErr = err
			continue
		}
		resp, err := c.readResponse()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Code == wire.CodeSync && resp.IsSuccess() {
			for i := 0; i < 6; i++ {
				if _, err := c.readResponse(); err != nil {
					break
				}
			}
			return nil
		}
	}
	return fmt.Errorf("hostsim: sync failed: %w", lastErr)
}

// ReadGreeting reads the stub's initial "OHAI" handshake frame (and the
// re-greeting sent after ChangeBaudrate).
func (c *Client) ReadGreeting() error {
	frame, err := c.readFrame()
	if err != nil {
		return err
	}
	if !bytes.Equal(frame, wire.Greeting) {
		return fmt.Errorf("hostsim: unexpected greeting %q", frame)
	}
	return nil
}

func (c *Client) ReadReg(addr uint32) (uint32, error) {
	resp, err := c.do(wire.CodeReadReg, 0, wire.EncodeReadRegParams(addr))
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

func (c *Client) WriteReg(p wire.WriteRegParams) error {
	_, err := c.do(wire.CodeWriteReg, 0, wire.EncodeWriteRegParams(p))
	return err
}

func (c *Client) SPIAttach(config uint32) error {
	_, err := c.do(wire.CodeSpiAttach, 0, wire.EncodeSpiAttachParams(config))
	return err
}

func (c *Client) SPISetParams(p wire.SpiSetParamsParams) error {
	_, err := c.do(wire.CodeSpiSetParams, 0, wire.EncodeSpiSetParamsParams(p))
	return err
}

func (c *Client) EraseRegion(addr, size uint32) error {
	_, err := c.do(wire.CodeEraseRegion, 0, wire.EncodeEraseRegionParams(wire.EraseRegionParams{Addr: addr, Size: size}))
	return err
}

func (c *Client) EraseFlash() error {
	_, err := c.do(wire.CodeEraseFlash, 0, nil)
	return err
}

// FlashImage uploads data uncompressed at address via FlashBegin/FlashData/
// FlashEnd, chunked at wire.MaxWriteBlock.
func (c *Client) FlashImage(data []byte, address uint32, runUserCode bool) error {
	numBlocks := (len(data) + wire.MaxWriteBlock - 1) / wire.MaxWriteBlock
	if numBlocks == 0 {
		numBlocks = 1
	}
	begin := wire.EncodeBeginParams(wire.BeginParams{
		TotalSize: uint32(len(data)),
		NumBlocks: uint32(numBlocks),
		BlockSize: wire.MaxWriteBlock,
		Offset:    address,
	})
	if _, err := c.do(wire.CodeFlashBegin, 0, begin); err != nil {
		return fmt.Errorf("flash begin: %w", err)
	}

	for seq := 0; seq < numBlocks; seq++ {
		start := seq * wire.MaxWriteBlock
		end := start + wire.MaxWriteBlock
		if end > len(data) {
			end = len(data)
		}
		chunk := data[start:end]
		body := wire.EncodeDataBody(uint32(seq), chunk)
		if _, err := c.do(wire.CodeFlashData, wire.Checksum(chunk), body); err != nil {
			return fmt.Errorf("flash data block %d: %w", seq, err)
		}
		c.reportProgress(seq+1, numBlocks)
	}

	if _, err := c.do(wire.CodeFlashEnd, 0, wire.EncodeEndParams(runUserCode)); err != nil {
		return fmt.Errorf("flash end: %w", err)
	}
	return nil
}

// FlashImageCompressed zlib-compresses data, then uploads it via
// FlashDeflBegin/FlashDeflData/FlashDeflEnd.
func (c *Client) FlashImageCompressed(data []byte, address uint32, runUserCode bool) error {
	var compressed bytes.Buffer
	w, err := zlib.NewWriterLevel(&compressed, zlib.BestSpeed)
	if err != nil {
		return fmt.Errorf("hostsim: zlib writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("hostsim: compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("hostsim: finalize compression: %w", err)
	}

	payload := compressed.Bytes()
	const blockSize = wire.MaxWriteBlock
	numBlocks := (len(payload) + blockSize - 1) / blockSize
	if numBlocks == 0 {
		numBlocks = 1
	}
	begin := wire.EncodeBeginParams(wire.BeginParams{
		TotalSize: uint32(len(data)),
		NumBlocks: uint32(numBlocks),
		BlockSize: blockSize,
		Offset:    address,
	})
	if _, err := c.do(wire.CodeFlashDeflBegin, 0, begin); err != nil {
		return fmt.Errorf("flash defl begin: %w", err)
	}

	for seq := 0; seq < numBlocks; seq++ {
		start := seq * blockSize
		end := start + blockSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[start:end]
		body := wire.EncodeDataBody(uint32(seq), chunk)
		if _, err := c.do(wire.CodeFlashDeflData, wire.Checksum(chunk), body); err != nil {
			return fmt.Errorf("flash defl data block %d: %w", seq, err)
		}
		c.reportProgress(seq+1, numBlocks)
	}

	if _, err := c.do(wire.CodeFlashDeflEnd, 0, wire.EncodeEndParams(runUserCode)); err != nil {
		return fmt.Errorf("flash defl end: %w", err)
	}
	return nil
}

// WriteRAM uploads data to a RAM load address via MemBegin/MemData/MemEnd.
func (c *Client) WriteRAM(data []byte, loadAddr, entryPoint uint32, run bool) error {
	const blockSize = wire.MaxWriteBlock
	numBlocks := (len(data) + blockSize - 1) / blockSize
	if numBlocks == 0 {
		numBlocks = 1
	}
	begin := wire.EncodeBeginParams(wire.BeginParams{
		TotalSize: uint32(len(data)),
		NumBlocks: uint32(numBlocks),
		BlockSize: blockSize,
		Offset:    loadAddr,
	})
	if _, err := c.do(wire.CodeMemBegin, 0, begin); err != nil {
		return fmt.Errorf("mem begin: %w", err)
	}
	for seq := 0; seq < numBlocks; seq++ {
		start := seq * blockSize
		end := start + blockSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[start:end]
		body := wire.EncodeDataBody(uint32(seq), chunk)
		if _, err := c.do(wire.CodeMemData, wire.Checksum(chunk), body); err != nil {
			return fmt.Errorf("mem data block %d: %w", seq, err)
		}
	}
	_, err := c.do(wire.CodeMemEnd, 0, wire.EncodeMemEndParams(run, entryPoint))
	return err
}

// SPIFlashMD5 requests the stub's MD5 of a flash region.
func (c *Client) SPIFlashMD5(addr, size uint32) ([16]byte, error) {
	resp, err := c.do(wire.CodeSpiFlashMd5, 0, wire.EncodeSpiFlashMD5Params(wire.SpiFlashMD5Params{Addr: addr, Size: size}))
	if err != nil {
		return [16]byte{}, err
	}
	var digest [16]byte
	if len(resp.Body) < 16 {
		return digest, fmt.Errorf("hostsim: short md5 response (%d bytes)", len(resp.Body))
	}
	copy(digest[:], resp.Body)
	return digest, nil
}

// GetSecurityInfo requests the stub's fixed-size security info blob.
func (c *Client) GetSecurityInfo() ([20]byte, error) {
	resp, err := c.do(wire.CodeGetSecurityInfo, 0, nil)
	var info [20]byte
	if err != nil {
		return info, err
	}
	if len(resp.Body) < len(info) {
		return info, fmt.Errorf("hostsim: short security-info response (%d bytes)", len(resp.Body))
	}
	copy(info[:], resp.Body)
	return info, nil
}

// ChangeBaudrate requests the stub switch rates, reprograms the local
// transport, and waits for the stub's re-greeting.
func (c *Client) ChangeBaudrate(oldBaud, newBaud uint32) error {
	if _, err := c.do(wire.CodeChangeBaudrate, 0, wire.EncodeChangeBaudrateParams(wire.ChangeBaudrateParams{
		NewBaud: newBaud, OldBaud: oldBaud,
	})); err != nil {
		return err
	}
	if err := c.t.SetBaudRate(int(newBaud)); err != nil {
		return fmt.Errorf("hostsim: local baud change: %w", err)
	}
	return c.ReadGreeting()
}

// ReadFlash performs an ACK-windowed read of size bytes starting at addr,
// acknowledging every packetSize bytes received up to maxInFlight packets
// ahead of the last ACK, and returns the read data alongside the stub's
// trailing MD5 digest for end-to-end verification.
func (c *Client) ReadFlash(addr, size, packetSize, maxInFlight uint32) ([]byte, [16]byte, error) {
	var digest [16]byte
	if _, err := c.do(wire.CodeReadFlash, 0, wire.EncodeReadFlashParams(wire.ReadFlashParams{
		Addr: addr, Size: size, PacketSize: packetSize, MaxInFlight: maxInFlight,
	})); err != nil {
		return nil, digest, err
	}

	data := make([]byte, 0, size)
	for uint32(len(data)) < size {
		chunk, err := c.readFrame()
		if err != nil {
			return nil, digest, err
		}
		data = append(data, chunk...)
		if err := c.sendRaw(wire.EncodeReadFlashAck(uint32(len(data)))); err != nil {
			return nil, digest, err
		}
	}

	digestFrame, err := c.readFrame()
	if err != nil {
		return data, digest, err
	}
	if len(digestFrame) != 16 {
		return data, digest, fmt.Errorf("hostsim: unexpected digest frame length %d", len(digestFrame))
	}
	copy(digest[:], digestFrame)
	return data, digest, nil
}

// RunUserCode requests an immediate soft reset with no upload context. The
// stub answers with an ordinary response once its reset call returns; after
// reading it, the caller gets a moment to let the reset take effect before
// issuing anything else.
func (c *Client) RunUserCode() error {
	if _, err := c.do(wire.CodeRunUserCode, 0, nil); err != nil {
		return err
	}
	waitSettled()
	return nil
}

func waitSettled() { time.Sleep(10 * time.Millisecond) }
