// Package stub implements the protocol engine: command dispatch, the
// Begin/Data/End upload state machine, MD5 streaming, windowed flash reads,
// and baud changeover. This is the core the rest of the repo exists to
// serve — everything else (transport, wire codec, HAL) is a collaborator
// it drives.
package stub

import (
	"crypto/md5"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/bigbag/flasher-stub/internal/hal"
	"github.com/bigbag/flasher-stub/internal/slip"
	"github.com/bigbag/flasher-stub/internal/transport"
	"github.com/bigbag/flasher-stub/internal/wire"
)

// maxFrameSize bounds a single request frame, matching the transport's RX
// queue sizing (wire.MaxWriteBlock plus header/envelope slack).
const maxFrameSize = wire.MaxWriteBlock + 0x400

// decompressOutBufSize is the static output buffer streaming DEFLATE
// writes are flushed from, matching the original firmware's 32 KiB buffer.
const decompressOutBufSize = 0x8000

// Engine holds the upload session state and dispatches decoded requests
// against a Target. One Engine serves exactly one command loop.
type Engine struct {
	transport transport.Transport
	target    hal.Target
	decoder   *slip.Decoder
	log       logrus.FieldLogger

	writeAddr           uint32
	eraseAddr           uint32
	endAddr             uint32
	remaining           uint32
	remainingCompressed int
	decompressor        hal.Decompressor
	inFlashMode         bool
	lastError           *wire.Error
}

// New builds an Engine serving t with target backend tgt. log may be nil,
// in which case a disabled logger is used.
func New(t transport.Transport, tgt hal.Target, log logrus.FieldLogger) *Engine {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Engine{
		transport: t,
		target:    tgt,
		decoder:   slip.NewDecoder(t),
		log:       log,
	}
}

// SendGreeting emits the "OHAI" handshake frame, the stub's first SLIP
// packet, re-sent after a successful baud change.
func (e *Engine) SendGreeting() error {
	return e.writeFrame(wire.Greeting)
}

// Run drives the command loop until the transport returns an error (EOF on
// disconnect, or a framing/allocation failure from the decoder).
func (e *Engine) Run() error {
	buf := make([]byte, maxFrameSize)
	for {
		frame, err := e.decoder.ReadFrame(buf)
		if err != nil {
			return err
		}
		if err := e.handleFrame(frame); err != nil {
			return err
		}
	}
}

func (e *Engine) handleFrame(frame []byte) error {
	req, err := wire.DecodeRequest(frame)
	if err != nil {
		e.log.WithError(err).Warn("malformed request frame")
		// The code byte isn't reliably decodable here — a short frame can
		// fail before byte 1 is even readable — so every decode failure
		// gets a generic, code-0 failure response rather than none at all.
		// Every request still produces exactly one response frame.
		return e.sendResponse(wire.Fail(wire.Code(0), wire.ErrInvalidCommand))
	}

	e.log.WithField("code", req.Code.String()).Debug("dispatching command")

	sent, err := e.dispatch(req)
	if sent {
		return nil
	}
	if err != nil {
		var werr wire.Error
		if errors.As(err, &werr) {
			return e.sendResponse(wire.Fail(req.Code, werr))
		}
		e.log.WithError(err).Error("internal error handling command")
		return e.sendResponse(wire.Fail(req.Code, wire.ErrInvalidCommand))
	}
	return e.sendResponse(wire.OK(req.Code, 0, nil))
}

// dispatch executes one decoded request. The returned bool reports whether
// the handler already emitted the response itself (Sync, ReadReg, Data
// commands, MD5, ReadFlash, ChangeBaudrate, GetSecurityInfo) — handleFrame must not
// send a second one in that case.
func (e *Engine) dispatch(req wire.Request) (bool, error) {
	switch req.Code {
	case wire.CodeSync:
		resp := wire.OK(req.Code, 0, nil)
		for i := 0; i < 7; i++ {
			if err := e.sendResponse(resp); err != nil {
				return true, err
			}
		}
		return true, nil

	case wire.CodeReadReg:
		p, err := wire.DecodeReadRegParams(req.Body)
		if err != nil {
			return false, wire.ErrBadDataLen
		}
		v, err := e.target.ReadRegister(p.Addr)
		if err != nil {
			return false, wire.ErrFailedSpiOp
		}
		return true, e.sendResponse(wire.OK(req.Code, v, nil))

	case wire.CodeWriteReg:
		p, err := wire.DecodeWriteRegParams(req.Body)
		if err != nil {
			return false, wire.ErrBadDataLen
		}
		if err := e.target.WriteRegister(p.Addr, p.Value, p.Mask, p.DelayUs); err != nil {
			return false, wire.ErrFailedSpiOp
		}
		return false, nil

	case wire.CodeFlashBegin, wire.CodeMemBegin, wire.CodeFlashDeflBegin:
		return false, e.processBegin(req.Code, req.Body)

	case wire.CodeFlashData, wire.CodeFlashDeflData, wire.CodeFlashEncrypted, wire.CodeMemData:
		return true, e.processData(req)

	case wire.CodeFlashEnd, wire.CodeMemEnd, wire.CodeFlashDeflEnd:
		return e.processEnd(req)

	case wire.CodeSpiFlashMd5:
		return true, e.processMD5(req)

	case wire.CodeSpiSetParams:
		p, err := wire.DecodeSpiSetParamsParams(req.Body)
		if err != nil {
			return false, wire.ErrBadDataLen
		}
		if err := e.target.SPISetParams(hal.SpiParams{
			ID:         p.ID,
			TotalSize:  p.TotalSize,
			BlockSize:  p.BlockSize,
			SectorSize: p.SectorSize,
			PageSize:   p.PageSize,
			StatusMask: p.StatusMask,
		}); err != nil {
			return false, wire.ErrFailedSpiOp
		}
		return false, nil

	case wire.CodeSpiAttach:
		p, err := wire.DecodeSpiAttachParams(req.Body)
		if err != nil {
			return false, wire.ErrBadDataLen
		}
		return false, e.target.SPIAttach(p.Config)

	case wire.CodeChangeBaudrate:
		return true, e.processChangeBaudrate(req)

	case wire.CodeEraseFlash:
		if err := e.target.EraseFlash(); err != nil {
			return false, toWireErr(err, wire.ErrFailedSpiOp)
		}
		return false, nil

	case wire.CodeEraseRegion:
		p, err := wire.DecodeEraseRegionParams(req.Body)
		if err != nil {
			return false, wire.ErrBadDataLen
		}
		if err := e.target.EraseRegion(p.Addr, p.Size); err != nil {
			return false, toWireErr(err, wire.ErrGenericEraseFailed)
		}
		return false, nil

	case wire.CodeReadFlash:
		return true, e.processReadFlash(req)

	case wire.CodeGetSecurityInfo:
		return true, e.processSecurityInfo(req)

	case wire.CodeRunUserCode:
		e.target.SoftReset()
		return false, nil

	default:
		return false, wire.ErrInvalidCommand
	}
}

func toWireErr(err error, fallback wire.Error) wire.Error {
	switch err {
	case hal.ErrUnalignedAddress:
		return wire.ErrUnalignedAddress
	case hal.ErrUnalignedSize:
		return wire.ErrUnalignedSize
	case hal.ErrRegionUnlockFailed:
		return wire.ErrRegionUnlockFailed
	case hal.ErrSectorEraseFailed:
		return wire.ErrSectorEraseFailed
	case hal.ErrFailedSpiOp:
		return wire.ErrFailedSpiOp
	case hal.ErrFailedSpiUnlock:
		return wire.ErrFailedSpiUnlock
	case hal.ErrReadFailed:
		return wire.ErrReadFailed
	default:
		return fallback
	}
}

func (e *Engine) sendResponse(resp wire.Response) error {
	return e.writeFrame(resp.Encode())
}

func (e *Engine) writeFrame(body []byte) error {
	_, err := e.transport.Write(slip.Encode(body))
	return err
}

// writeSplit sends one SLIP frame as head, then data, then tail (MD5,
// GetSecurityInfo), each escaped independently and written as a separate
// call to the transport inside a single pair of delimiters — mirroring the
// firmware's send_response_with_data, which emits the header, the inline
// payload, and the trailing status/error bytes as three distinct writes
// rather than one contiguous buffer.
func (e *Engine) writeSplit(head, data, tail []byte) error {
	if _, err := e.transport.Write([]byte{slip.End}); err != nil {
		return err
	}
	if _, err := e.transport.Write(slip.EncodeRaw(head)); err != nil {
		return err
	}
	if _, err := e.transport.Write(slip.EncodeRaw(data)); err != nil {
		return err
	}
	if _, err := e.transport.Write(slip.EncodeRaw(tail)); err != nil {
		return err
	}
	_, err := e.transport.Write([]byte{slip.End})
	return err
}

func (e *Engine) md5Region(addr, size uint32) ([16]byte, error) {
	h := md5.New()
	buf := make([]byte, wire.SectorSize)
	for size > 0 {
		n := uint32(wire.SectorSize)
		if size < n {
			n = size
		}
		if err := e.target.ReadFlash(addr, buf[:n]); err != nil {
			return [16]byte{}, toWireErr(err, wire.ErrReadFailed)
		}
		h.Write(buf[:n])
		size -= n
		addr += n
	}
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

func (e *Engine) processMD5(req wire.Request) error {
	p, err := wire.DecodeSpiFlashMD5Params(req.Body)
	if err != nil {
		return e.sendResponse(wire.Fail(req.Code, wire.ErrBadDataLen))
	}
	digest, md5err := e.md5Region(p.Addr, p.Size)
	if md5err != nil {
		var werr wire.Error
		if errors.As(md5err, &werr) {
			return e.sendResponse(wire.Fail(req.Code, werr))
		}
		return e.sendResponse(wire.Fail(req.Code, wire.ErrReadFailed))
	}
	resp := wire.OK(req.Code, 0, digest[:])
	return e.writeSplit(resp.EncodeHead(), digest[:], resp.EncodeTail())
}

func (e *Engine) processSecurityInfo(req wire.Request) error {
	info, err := e.target.SecurityInfo()
	if err != nil {
		return e.sendResponse(wire.Fail(req.Code, wire.ErrInvalidCommand))
	}
	resp := wire.OK(req.Code, 0, info[:])
	return e.writeSplit(resp.EncodeHead(), info[:], resp.EncodeTail())
}
