package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	assert.Equal(t, uint32(ChecksumSeed), Checksum(nil))
	assert.Equal(t, uint32(ChecksumSeed^0xAB), Checksum([]byte{0xAB}))
}

func TestDecodeRequest(t *testing.T) {
	frame := []byte{0x00, byte(CodeSync), 0x02, 0x00, 0x11, 0x22, 0x33, 0x44, 0xAA, 0xBB}
	req, err := DecodeRequest(frame)
	require.NoError(t, err)
	assert.Equal(t, CodeSync, req.Code)
	assert.Equal(t, uint16(2), req.Size)
	assert.Equal(t, uint32(0x44332211), req.Checksum)
	assert.Equal(t, []byte{0xAA, 0xBB}, req.Body)
}

func TestDecodeRequest_ShortFrame(t *testing.T) {
	_, err := DecodeRequest([]byte{0x00, 0x08})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestDecodeRequest_BadDirection(t *testing.T) {
	frame := []byte{0x01, byte(CodeSync), 0x00, 0x00, 0, 0, 0, 0}
	_, err := DecodeRequest(frame)
	assert.ErrorIs(t, err, ErrBadDirection)
}

func TestDecodeRequest_SizeMismatch(t *testing.T) {
	frame := []byte{0x00, byte(CodeSync), 0x05, 0x00, 0, 0, 0, 0, 0x01}
	_, err := DecodeRequest(frame)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestResponseEncode_OK(t *testing.T) {
	r := OK(CodeReadReg, 0xDEADBEEF, nil)
	buf := r.Encode()
	require.Len(t, buf, ResponseHeaderSize)
	assert.Equal(t, byte(0x01), buf[0])
	assert.Equal(t, byte(CodeReadReg), buf[1])
	assert.Equal(t, []byte{0x00, 0x00}, buf[2:4])
	assert.Equal(t, []byte{0xEF, 0xBE, 0xAD, 0xDE}, buf[4:8])
	assert.Equal(t, byte(0), buf[8])
	assert.Equal(t, byte(0), buf[9])
}

func TestResponseEncode_Fail(t *testing.T) {
	r := Fail(CodeFlashData, ErrBadDataChecksum)
	buf := r.Encode()
	assert.Equal(t, byte(1), buf[8])
	assert.Equal(t, byte(ErrBadDataChecksum), buf[9])
}

func TestResponseEncodeHead_BodyLength(t *testing.T) {
	r := OK(CodeSpiFlashMd5, 0, make([]byte, 16))
	head := r.EncodeHead()
	require.Len(t, head, ResponseHeaderSize-2)
	assert.Equal(t, uint16(16), uint16(head[2])|uint16(head[3])<<8)
}

func TestResponseEncodeTail(t *testing.T) {
	r := Fail(CodeSpiFlashMd5, ErrReadFailed)
	tail := r.EncodeTail()
	require.Len(t, tail, 2)
	assert.Equal(t, byte(1), tail[0])
	assert.Equal(t, byte(ErrReadFailed), tail[1])
}

func TestResponseEncode_HeadTailBodyConcatenation(t *testing.T) {
	r := OK(CodeReadReg, 0, []byte{0xAA, 0xBB})
	full := r.Encode()
	var ordinary []byte
	ordinary = append(ordinary, r.EncodeHead()...)
	ordinary = append(ordinary, r.EncodeTail()...)
	ordinary = append(ordinary, r.Body...)
	assert.Equal(t, full, ordinary)

	// writeSplit's order (head, body, tail) differs from Encode's
	// (head, tail, body) — this is the MD5/SecurityInfo layout.
	var split []byte
	split = append(split, r.EncodeHead()...)
	split = append(split, r.Body...)
	split = append(split, r.EncodeTail()...)
	assert.NotEqual(t, full, split)
}

func TestDecodeBeginParams(t *testing.T) {
	body := []byte{
		0x00, 0x10, 0x00, 0x00, // total_size = 0x1000
		0x04, 0x00, 0x00, 0x00, // num_blocks
		0x00, 0x04, 0x00, 0x00, // block_size
		0x00, 0x00, 0x10, 0x00, // offset
	}
	p, err := DecodeBeginParams(body)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1000), p.TotalSize)
	assert.Equal(t, uint32(4), p.NumBlocks)
	assert.Equal(t, uint32(0x400), p.BlockSize)
	assert.Equal(t, uint32(0x100000), p.Offset)
	assert.False(t, p.SupportsErase)
}

func TestDecodeBeginParams_WithErase(t *testing.T) {
	body := make([]byte, 20)
	body[16] = 0x01
	p, err := DecodeBeginParams(body)
	require.NoError(t, err)
	assert.True(t, p.SupportsErase)
}

func TestDecodeBeginParams_BadLength(t *testing.T) {
	_, err := DecodeBeginParams([]byte{0x01})
	assert.Error(t, err)
}

func TestDecodeDataHeader(t *testing.T) {
	body := []byte{
		0x00, 0x01, 0x00, 0x00, // size=256
		0x02, 0x00, 0x00, 0x00, // sequence=2
		0, 0, 0, 0,
		0, 0, 0, 0,
		0xAA, 0xBB,
	}
	h, payload, err := DecodeDataHeader(body)
	require.NoError(t, err)
	assert.Equal(t, uint32(256), h.Size)
	assert.Equal(t, uint32(2), h.Sequence)
	assert.Equal(t, []byte{0xAA, 0xBB}, payload)
}

func TestDecodeEndParams(t *testing.T) {
	p, err := DecodeEndParams([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	assert.True(t, p.RunUserCode)

	p, err = DecodeEndParams([]byte{1, 0, 0, 0})
	require.NoError(t, err)
	assert.False(t, p.RunUserCode)
}

func TestDecodeWriteRegParams(t *testing.T) {
	body := []byte{
		0x00, 0x00, 0x00, 0x60, // addr
		0x01, 0x00, 0x00, 0x00, // value
		0xFF, 0xFF, 0xFF, 0xFF, // mask
		0x00, 0x00, 0x00, 0x00, // delay_us
	}
	p, err := DecodeWriteRegParams(body)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x60000000), p.Addr)
	assert.Equal(t, uint32(1), p.Value)
	assert.Equal(t, uint32(0xFFFFFFFF), p.Mask)
}

func TestDecodeReadRegParams(t *testing.T) {
	p, err := DecodeReadRegParams([]byte{0x04, 0x00, 0x00, 0x60})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x60000004), p.Addr)
}

func TestDecodeSpiFlashMD5Params(t *testing.T) {
	p, err := DecodeSpiFlashMD5Params([]byte{0, 0, 0, 0, 0, 0x10, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, uint32(0), p.Addr)
	assert.Equal(t, uint32(0x1000), p.Size)
}

func TestDecodeEraseRegionParams(t *testing.T) {
	p, err := DecodeEraseRegionParams([]byte{0, 0x10, 0, 0, 0, 0x10, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1000), p.Addr)
	assert.Equal(t, uint32(0x1000), p.Size)
}

func TestReadFlashAckRoundTrip(t *testing.T) {
	buf := EncodeReadFlashAck(0x1234)
	n, err := DecodeReadFlashAck(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1234), n)
}

func TestDecodeReadFlashAck_BadLength(t *testing.T) {
	_, err := DecodeReadFlashAck([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCodeIsFlashDataVariant(t *testing.T) {
	assert.True(t, CodeFlashData.IsFlashDataVariant())
	assert.True(t, CodeFlashDeflData.IsFlashDataVariant())
	assert.True(t, CodeFlashEncrypted.IsFlashDataVariant())
	assert.False(t, CodeMemData.IsFlashDataVariant())
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "bad data checksum", ErrBadDataChecksum.String())
	assert.Equal(t, "bad data checksum", ErrBadDataChecksum.Error())
}
