package wire

import "encoding/binary"

// EncodeRequest serializes a complete request frame: the 8-byte header
// (direction=0) followed by body. checksum is 0 for every command except
// the Data variants, which pass wire.Checksum(payload).
func EncodeRequest(code Code, checksum uint32, body []byte) []byte {
	buf := make([]byte, RequestHeaderSize, RequestHeaderSize+len(body))
	buf[0] = 0x00
	buf[1] = byte(code)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(body)))
	binary.LittleEndian.PutUint32(buf[4:8], checksum)
	return append(buf, body...)
}

// EncodeBeginParams serializes a Begin body (FlashBegin/MemBegin/FlashDeflBegin).
func EncodeBeginParams(p BeginParams) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], p.TotalSize)
	binary.LittleEndian.PutUint32(buf[4:8], p.NumBlocks)
	binary.LittleEndian.PutUint32(buf[8:12], p.BlockSize)
	binary.LittleEndian.PutUint32(buf[12:16], p.Offset)
	return buf
}

// EncodeDataBody serializes a full Data command body: the 16-byte header
// (size, sequence, two reserved words) followed by the payload chunk.
func EncodeDataBody(seq uint32, payload []byte) []byte {
	buf := make([]byte, 16, 16+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[4:8], seq)
	return append(buf, payload...)
}

// EncodeEndParams serializes a FlashEnd/FlashDeflEnd body.
func EncodeEndParams(runUserCode bool) []byte {
	buf := make([]byte, 4)
	if !runUserCode {
		binary.LittleEndian.PutUint32(buf, 1)
	}
	return buf
}

// EncodeMemEndParams serializes a MemEnd body.
func EncodeMemEndParams(runUserCode bool, entryPoint uint32) []byte {
	buf := make([]byte, 8)
	if !runUserCode {
		binary.LittleEndian.PutUint32(buf[0:4], 1)
	}
	binary.LittleEndian.PutUint32(buf[4:8], entryPoint)
	return buf
}

// EncodeWriteRegParams serializes a WriteReg body.
func EncodeWriteRegParams(p WriteRegParams) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], p.Addr)
	binary.LittleEndian.PutUint32(buf[4:8], p.Value)
	binary.LittleEndian.PutUint32(buf[8:12], p.Mask)
	binary.LittleEndian.PutUint32(buf[12:16], p.DelayUs)
	return buf
}

// EncodeReadRegParams serializes a ReadReg body.
func EncodeReadRegParams(addr uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, addr)
	return buf
}

// EncodeSpiSetParamsParams serializes an SpiSetParams body.
func EncodeSpiSetParamsParams(p SpiSetParamsParams) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint32(buf[0:4], p.ID)
	binary.LittleEndian.PutUint32(buf[4:8], p.TotalSize)
	binary.LittleEndian.PutUint32(buf[8:12], p.BlockSize)
	binary.LittleEndian.PutUint32(buf[12:16], p.SectorSize)
	binary.LittleEndian.PutUint32(buf[16:20], p.PageSize)
	binary.LittleEndian.PutUint32(buf[20:24], p.StatusMask)
	return buf
}

// EncodeSpiAttachParams serializes an SpiAttach body.
func EncodeSpiAttachParams(config uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, config)
	return buf
}

// EncodeChangeBaudrateParams serializes a ChangeBaudrate body.
func EncodeChangeBaudrateParams(p ChangeBaudrateParams) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], p.NewBaud)
	binary.LittleEndian.PutUint32(buf[4:8], p.OldBaud)
	return buf
}

// EncodeSpiFlashMD5Params serializes an SpiFlashMd5 body.
func EncodeSpiFlashMD5Params(p SpiFlashMD5Params) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], p.Addr)
	binary.LittleEndian.PutUint32(buf[4:8], p.Size)
	return buf
}

// EncodeEraseRegionParams serializes an EraseRegion body.
func EncodeEraseRegionParams(p EraseRegionParams) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], p.Addr)
	binary.LittleEndian.PutUint32(buf[4:8], p.Size)
	return buf
}

// EncodeReadFlashParams serializes a ReadFlash body.
func EncodeReadFlashParams(p ReadFlashParams) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], p.Addr)
	binary.LittleEndian.PutUint32(buf[4:8], p.Size)
	binary.LittleEndian.PutUint32(buf[8:12], p.PacketSize)
	binary.LittleEndian.PutUint32(buf[12:16], p.MaxInFlight)
	return buf
}
