package stub

import (
	"crypto/md5"

	"github.com/bigbag/flasher-stub/internal/hal"
	"github.com/bigbag/flasher-stub/internal/wire"
)

func (e *Engine) processBegin(code wire.Code, body []byte) error {
	p, err := wire.DecodeBeginParams(body)
	if err != nil {
		return wire.ErrBadDataLen
	}

	e.eraseAddr = p.Offset & wire.SectorMask
	e.writeAddr = p.Offset
	e.endAddr = p.Offset + p.TotalSize
	e.remainingCompressed = int(p.NumBlocks) * int(p.BlockSize)
	e.remaining = p.TotalSize
	e.lastError = nil

	switch code {
	case wire.CodeFlashBegin, wire.CodeFlashDeflBegin:
		if p.BlockSize > wire.MaxWriteBlock {
			return wire.ErrBadBlocksize
		}
		e.inFlashMode = true
		if code == wire.CodeFlashDeflBegin {
			e.decompressor = e.target.NewDecompressor()
		}
		if err := e.target.UnlockFlash(); err != nil {
			return wire.ErrFailedSpiUnlock
		}
	default: // MemBegin: no flash-mode transition, no unlock
	}

	return nil
}

// processData implements the common Data preamble (§4.5.4): validate
// in_flash_mode / size / checksum before any side effect, report a latched
// async error from the *previous* Data command if one is pending, send the
// ACK, then run the command-specific side effect which may itself latch a
// new deferred error for the *next* ACK to report.
func (e *Engine) processData(req wire.Request) error {
	hdr, payload, err := wire.DecodeDataHeader(req.Body)
	if err != nil {
		return e.sendResponse(wire.Fail(req.Code, wire.ErrBadDataLen))
	}

	if req.Code.IsFlashDataVariant() && !e.inFlashMode {
		return e.sendResponse(wire.Fail(req.Code, wire.ErrNotInFlashMode))
	}
	if hdr.Size != uint32(len(payload)) {
		return e.sendResponse(wire.Fail(req.Code, wire.ErrBadDataLen))
	}
	checksum := wire.Checksum(payload)
	if checksum != req.Checksum {
		return e.sendResponse(wire.Fail(req.Code, wire.ErrBadDataChecksum))
	}

	deferred := e.lastError
	e.lastError = nil
	if deferred != nil {
		if err := e.sendResponse(wire.Fail(req.Code, *deferred)); err != nil {
			return err
		}
	} else {
		if err := e.sendResponse(wire.OK(req.Code, 0, nil)); err != nil {
			return err
		}
	}

	switch req.Code {
	case wire.CodeFlashData:
		e.flashWrite(payload, e.target.ProgramFlash)
	case wire.CodeFlashEncrypted:
		e.target.WriteEncryptedEnable()
		e.flashWrite(payload, e.target.WriteEncrypted)
		e.target.WriteEncryptedDisable()
	case wire.CodeFlashDeflData:
		e.flashDeflData(payload)
	case wire.CodeMemData:
		// write_ram's own validation errors arrive after the ACK for this
		// packet was already sent (the preamble only validates envelope
		// size/checksum, not remaining/alignment) — latched the same way a
		// deferred flash-program failure is, so exactly one response frame
		// goes out per request.
		if werr, ok := e.writeRAM(payload); !ok {
			e.lastError = errPtr(werr)
		}
	}
	return nil
}

func errPtr(e wire.Error) *wire.Error { return &e }

// writeRAM reports ok=false with the specific error when data can't be
// written; the zero wire.Error value is never a valid error code so it's
// safe as the "no error" sentinel here.
func (e *Engine) writeRAM(data []byte) (wire.Error, bool) {
	if uint32(len(data)) > e.remaining {
		return wire.ErrTooMuchData, false
	}
	if len(data)%4 != 0 {
		return wire.ErrBadDataLen, false
	}
	// The original writes words directly into device RAM at write_addr via
	// volatile stores; there is no equivalent address space to target on a
	// host process, so advancing the bookkeeping is the full effect here.
	e.writeAddr += uint32(len(data))
	e.remaining -= uint32(len(data))
	return 0, true
}

// flashWrite implements the shared flash(...) primitive (§4.5.4): interleave
// sector/block erase ahead of the write cursor, then program in up-to-one-
// sector chunks via write. A failure from write is latched into lastError
// rather than aborting — the caller continues draining the chunk so a
// single bad sector doesn't desync the session's address bookkeeping.
func (e *Engine) flashWrite(data []byte, write func(addr uint32, data []byte) error) {
	remaining := e.remaining
	if uint32(len(data)) < remaining {
		remaining = uint32(len(data))
	}

	for e.eraseAddr < e.writeAddr+remaining {
		if e.endAddr >= e.eraseAddr+wire.BlockSize && e.eraseAddr%wire.BlockSize == 0 {
			if err := e.target.EraseBlock(e.eraseAddr); err != nil {
				e.lastError = errPtr(toWireErr(err, wire.ErrFailedSpiOp))
			}
			e.eraseAddr += wire.BlockSize
		} else {
			if err := e.target.EraseSector(e.eraseAddr); err != nil {
				e.lastError = errPtr(toWireErr(err, wire.ErrFailedSpiOp))
			}
			e.eraseAddr += wire.SectorSize
		}
	}

	address := e.writeAddr
	var written uint32
	for remaining > 0 {
		toWrite := uint32(wire.SectorSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if err := write(address, data[written:written+toWrite]); err != nil {
			e.lastError = errPtr(toWireErr(err, wire.ErrFailedSpiOp))
		}
		remaining -= toWrite
		written += toWrite
		address += toWrite
	}

	e.writeAddr += written
	if written > e.remaining {
		e.remaining = 0
	} else {
		e.remaining -= written
	}
}

// flashDeflData implements §4.5.4's FlashDeflData path: feed compressed
// bytes into the decompressor, flushing the decompressed buffer to flash via
// flashWrite whenever it fills or the stream reports Done, then latch a
// deferred error describing any size mismatch between what was produced and
// what the session still expects.
func (e *Engine) flashDeflData(data []byte) {
	if e.decompressor == nil {
		e.lastError = errPtr(wire.ErrInflate)
		return
	}

	e.decompressor.Feed(data)
	e.remainingCompressed -= len(data)

	out := make([]byte, decompressOutBufSize)
	status := hal.StatusNeedsMoreInput

	for e.remaining > 0 {
		n, s, err := e.decompressor.Drain(out)
		status = s
		if err != nil || s == hal.StatusFailed {
			e.lastError = errPtr(wire.ErrInflate)
			return
		}
		if n > 0 {
			e.flashWrite(out[:n], e.target.ProgramFlash)
		}
		if s == hal.StatusNeedsMoreInput || s == hal.StatusDone {
			break
		}
	}

	switch {
	case status == hal.StatusFailed:
		e.lastError = errPtr(wire.ErrInflate)
	case status == hal.StatusDone && e.remaining > 0:
		e.lastError = errPtr(wire.ErrNotEnoughData)
	case status != hal.StatusDone && e.remaining == 0:
		e.lastError = errPtr(wire.ErrTooMuchData)
	}
}

func (e *Engine) processEnd(req wire.Request) (bool, error) {
	if req.Code == wire.CodeMemEnd {
		p, err := wire.DecodeMemEndParams(req.Body)
		if err != nil {
			return false, wire.ErrBadDataLen
		}
		if e.remaining != 0 {
			return false, wire.ErrNotEnoughData
		}
		if p.RunUserCode {
			if err := e.sendResponse(wire.OK(req.Code, 0, nil)); err != nil {
				return true, err
			}
			e.target.DelayMicros(10000)
			e.target.SoftReset()
			return true, nil
		}
		return false, nil
	}

	p, err := wire.DecodeEndParams(req.Body)
	if err != nil {
		return false, wire.ErrBadDataLen
	}
	if !e.inFlashMode {
		return false, wire.ErrNotInFlashMode
	}
	if e.remaining > 0 {
		return false, wire.ErrNotEnoughData
	}
	e.inFlashMode = false

	if p.RunUserCode {
		if err := e.sendResponse(wire.OK(req.Code, 0, nil)); err != nil {
			return true, err
		}
		e.target.DelayMicros(10000)
		e.target.SoftReset()
		return true, nil
	}
	return false, nil
}

func (e *Engine) processChangeBaudrate(req wire.Request) error {
	p, err := wire.DecodeChangeBaudrateParams(req.Body)
	if err != nil {
		return e.sendResponse(wire.Fail(req.Code, wire.ErrBadDataLen))
	}

	if err := e.sendResponse(wire.OK(req.Code, 0, nil)); err != nil {
		return err
	}
	e.target.DelayMicros(10000)

	if err := e.target.ChangeBaudrate(p.OldBaud, p.NewBaud); err != nil {
		return err
	}
	if err := e.transport.SetBaudRate(int(p.NewBaud)); err != nil {
		e.log.WithError(err).Warn("transport did not accept new baud rate")
	}
	return e.SendGreeting()
}

func (e *Engine) processReadFlash(req wire.Request) error {
	p, err := wire.DecodeReadFlashParams(req.Body)
	if err != nil {
		return e.sendResponse(wire.Fail(req.Code, wire.ErrBadDataLen))
	}
	if err := e.sendResponse(wire.OK(req.Code, 0, nil)); err != nil {
		return err
	}

	digest, err := e.streamReadFlash(p)
	if err != nil {
		// The original protocol has no framed way to abort a read-flash
		// transfer mid-stream; a read failure here can only stop sending
		// data. The host will time out waiting for the digest.
		e.log.WithError(err).Error("read-flash aborted")
		return err
	}
	return e.writeFrame(digest[:])
}

func (e *Engine) streamReadFlash(p wire.ReadFlashParams) ([16]byte, error) {
	h := md5.New()
	buf := make([]byte, p.PacketSize)
	windowBytes := p.MaxInFlight * p.PacketSize

	address := p.Addr
	remaining := p.Size
	var sent, acked uint32

	for acked < p.Size {
		for remaining > 0 && sent < acked+windowBytes {
			n := p.PacketSize
			if remaining < n {
				n = remaining
			}
			if err := e.target.ReadFlash(address, buf[:n]); err != nil {
				return [16]byte{}, toWireErr(err, wire.ErrReadFailed)
			}
			if err := e.writeFrame(buf[:n]); err != nil {
				return [16]byte{}, err
			}
			h.Write(buf[:n])
			address += n
			remaining -= n
			sent += n
		}

		ackBuf := make([]byte, 4)
		frame, err := e.decoder.ReadFrame(ackBuf)
		if err != nil {
			return [16]byte{}, err
		}
		n, err := wire.DecodeReadFlashAck(frame)
		if err != nil {
			return [16]byte{}, err
		}
		acked = n
	}

	var digest [16]byte
	copy(digest[:], h.Sum(nil))
	return digest, nil
}
