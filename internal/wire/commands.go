// Package wire implements the flasher stub's binary command/response
// envelope: fixed little-endian layouts decoded and encoded field-by-field
// (no unsafe reinterpret casts), opcodes, and error codes.
package wire

import "fmt"

// Code is a command opcode, shared by requests (direction 0) and the
// response that echoes it back (direction 1).
type Code byte

const (
	CodeFlashBegin      Code = 0x02
	CodeFlashData       Code = 0x03
	CodeFlashEnd        Code = 0x04
	CodeMemBegin        Code = 0x05
	CodeMemEnd          Code = 0x06
	CodeMemData         Code = 0x07
	CodeSync            Code = 0x08
	CodeWriteReg        Code = 0x09
	CodeReadReg         Code = 0x0A
	CodeSpiSetParams    Code = 0x0B
	CodeSpiAttach       Code = 0x0D
	CodeChangeBaudrate  Code = 0x0F
	CodeFlashDeflBegin  Code = 0x10
	CodeFlashDeflData   Code = 0x11
	CodeFlashDeflEnd    Code = 0x12
	CodeSpiFlashMd5     Code = 0x13
	CodeGetSecurityInfo Code = 0x14
	CodeEraseFlash      Code = 0xD0
	CodeEraseRegion     Code = 0xD1
	CodeReadFlash       Code = 0xD2
	CodeRunUserCode     Code = 0xD3
	CodeFlashEncrypted  Code = 0xD4
)

func (c Code) String() string {
	switch c {
	case CodeFlashBegin:
		return "FlashBegin"
	case CodeFlashData:
		return "FlashData"
	case CodeFlashEnd:
		return "FlashEnd"
	case CodeMemBegin:
		return "MemBegin"
	case CodeMemEnd:
		return "MemEnd"
	case CodeMemData:
		return "MemData"
	case CodeSync:
		return "Sync"
	case CodeWriteReg:
		return "WriteReg"
	case CodeReadReg:
		return "ReadReg"
	case CodeSpiSetParams:
		return "SpiSetParams"
	case CodeSpiAttach:
		return "SpiAttach"
	case CodeChangeBaudrate:
		return "ChangeBaudrate"
	case CodeFlashDeflBegin:
		return "FlashDeflBegin"
	case CodeFlashDeflData:
		return "FlashDeflData"
	case CodeFlashDeflEnd:
		return "FlashDeflEnd"
	case CodeSpiFlashMd5:
		return "SpiFlashMd5"
	case CodeGetSecurityInfo:
		return "GetSecurityInfo"
	case CodeEraseFlash:
		return "EraseFlash"
	case CodeEraseRegion:
		return "EraseRegion"
	case CodeReadFlash:
		return "ReadFlash"
	case CodeRunUserCode:
		return "RunUserCode"
	case CodeFlashEncrypted:
		return "FlashEncryptedData"
	default:
		return fmt.Sprintf("Code(0x%02X)", byte(c))
	}
}

// IsFlashDataVariant reports whether code is one of the three Data commands
// that require in_flash_mode (raw, deflate, or encrypted flash writes).
func (c Code) IsFlashDataVariant() bool {
	switch c {
	case CodeFlashData, CodeFlashDeflData, CodeFlashEncrypted:
		return true
	default:
		return false
	}
}

// HasTrailingStatus reports whether code's successful response carries its
// status/error bytes after the body instead of before it — true only for
// SpiFlashMd5 and GetSecurityInfo, which mirror the original firmware's
// send_response_with_data (header, then inline payload, then status
// trailer) rather than the ordinary send_response layout every other
// command uses.
func (c Code) HasTrailingStatus() bool {
	switch c {
	case CodeSpiFlashMd5, CodeGetSecurityInfo:
		return true
	default:
		return false
	}
}

// Error is a response error code.
type Error byte

const (
	ErrBadDataLen         Error = 0xC0
	ErrBadDataChecksum    Error = 0xC1
	ErrBadBlocksize       Error = 0xC2
	ErrInvalidCommand     Error = 0xC3
	ErrFailedSpiOp        Error = 0xC4
	ErrFailedSpiUnlock    Error = 0xC5
	ErrNotInFlashMode     Error = 0xC6
	ErrInflate            Error = 0xC7
	ErrNotEnoughData      Error = 0xC8
	ErrTooMuchData        Error = 0xC9
	ErrCmdNotImplemented  Error = 0xFF
	ErrUnalignedAddress   Error = 0x32 // erase-region sub-code
	ErrUnalignedSize      Error = 0x33 // erase-region sub-code
	ErrRegionUnlockFailed Error = 0x34 // erase-region sub-code
	ErrSectorEraseFailed  Error = 0x35 // erase-region sub-code
	ErrReadFailed         Error = 0x63
	ErrGenericEraseFailed Error = 0x36
)

func (e Error) String() string {
	switch e {
	case ErrBadDataLen:
		return "bad data length"
	case ErrBadDataChecksum:
		return "bad data checksum"
	case ErrBadBlocksize:
		return "bad block size"
	case ErrInvalidCommand:
		return "invalid command"
	case ErrFailedSpiOp:
		return "failed SPI operation"
	case ErrFailedSpiUnlock:
		return "failed SPI unlock"
	case ErrNotInFlashMode:
		return "not in flash mode"
	case ErrInflate:
		return "inflate error"
	case ErrNotEnoughData:
		return "not enough data"
	case ErrTooMuchData:
		return "too much data"
	case ErrCmdNotImplemented:
		return "command not implemented"
	case ErrUnalignedAddress:
		return "unaligned erase address"
	case ErrUnalignedSize:
		return "unaligned erase size"
	case ErrRegionUnlockFailed:
		return "region unlock failed"
	case ErrSectorEraseFailed:
		return "sector erase failed"
	case ErrReadFailed:
		return "flash read failed"
	case ErrGenericEraseFailed:
		return "erase failed"
	default:
		return fmt.Sprintf("error(0x%02X)", byte(e))
	}
}

func (e Error) Error() string { return e.String() }

// Flash/erase geometry constants.
const (
	SectorSize    = 4096
	SectorMask    = ^uint32(SectorSize - 1)
	BlockSize     = 65536
	MaxWriteBlock = 0x4000
)

// Greeting is the handshake frame sent after init and after a baud change.
var Greeting = []byte("OHAI")
