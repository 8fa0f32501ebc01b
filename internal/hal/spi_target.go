package hal

import (
	"encoding/binary"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// JEDEC command bytes for standard SPI-NOR flash, grounded the same way a
// real ESP32 ROM drives its attached flash part — write-enable, page
// program, sector/block/chip erase, read.
const (
	spiCmdWriteEnable  = 0x06
	spiCmdPageProgram  = 0x02
	spiCmdErase4KB     = 0x20
	spiCmdErase64KB    = 0xD8
	spiCmdEraseChip    = 0xC7
	spiCmdRead         = 0x03
	spiCmdReadStatus   = 0x05
	statusRegisterBusy = 0x01
	flashPageSize      = 256
)

// SPITarget drives a real SPI-NOR flash chip over a periph.io SPI
// connection with a GPIO chip-select, and a memory-mapped register window
// for ReadReg/WriteReg/baud-divisor access. This is the Target used by
// `cmd/flasher-stub serve --backend=spi` when actual hardware is attached;
// hal.Sim remains the default.
type SPITarget struct {
	conn spi.Conn
	cs   gpio.PinIO
	regs *mmapRegisters

	params  SpiParams
	encMode bool
}

// NewSPITarget wires a flash connection, its chip-select pin, and a
// register window into a Target. regs may be nil, in which case
// ReadRegister/WriteRegister report an error (no hardware register access
// available) while flash operations still work.
func NewSPITarget(conn spi.Conn, cs gpio.PinIO, regs *mmapRegisters) *SPITarget {
	return &SPITarget{
		conn: conn,
		cs:   cs,
		regs: regs,
		params: SpiParams{
			TotalSize:  DefaultFlashSize,
			BlockSize:  DefaultBlockSize,
			SectorSize: DefaultSectorSize,
			PageSize:   flashPageSize,
			StatusMask: DefaultStatusMask,
		},
	}
}

func (t *SPITarget) tx(buf []byte) error {
	if err := t.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer t.cs.Out(gpio.High)
	return t.conn.Tx(buf, buf)
}

func (t *SPITarget) writeEnable() error {
	return t.tx([]byte{spiCmdWriteEnable})
}

func (t *SPITarget) busyWait() error {
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		buf := []byte{spiCmdReadStatus, 0}
		if err := t.tx(buf); err != nil {
			return err
		}
		if buf[1]&statusRegisterBusy == 0 {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
	return ErrFailedSpiOp
}

func (t *SPITarget) ReadRegister(addr uint32) (uint32, error) {
	if t.regs == nil {
		return 0, fmt.Errorf("hal: no register window bound")
	}
	return t.regs.read(addr)
}

func (t *SPITarget) WriteRegister(addr, value, mask, delayUs uint32) error {
	if t.regs == nil {
		return fmt.Errorf("hal: no register window bound")
	}
	old, err := t.regs.read(addr)
	if err != nil {
		return err
	}
	if err := t.regs.write(addr, (old&^mask)|(value&mask)); err != nil {
		return err
	}
	if delayUs != 0 {
		t.DelayMicros(delayUs)
	}
	return nil
}

func (t *SPITarget) SPIAttach(config uint32) error { return nil }

func (t *SPITarget) SPISetParams(p SpiParams) error {
	t.params = p
	return nil
}

func (t *SPITarget) UnlockFlash() error {
	return t.writeEnable()
}

func (t *SPITarget) eraseCmd(cmd byte, addr uint32) error {
	if err := t.writeEnable(); err != nil {
		return err
	}
	buf := make([]byte, 4)
	buf[0] = cmd
	binary.BigEndian.PutUint16(buf[1:3], uint16(addr>>8))
	buf[3] = byte(addr)
	if err := t.tx(buf); err != nil {
		return err
	}
	return t.busyWait()
}

func (t *SPITarget) EraseSector(addr uint32) error {
	return t.eraseCmd(spiCmdErase4KB, addr)
}

func (t *SPITarget) EraseBlock(addr uint32) error {
	return t.eraseCmd(spiCmdErase64KB, addr)
}

func (t *SPITarget) EraseRegion(addr, size uint32) error {
	if addr%DefaultSectorSize != 0 {
		return ErrUnalignedAddress
	}
	if size%DefaultSectorSize != 0 {
		return ErrUnalignedSize
	}
	if err := t.writeEnable(); err != nil {
		return ErrRegionUnlockFailed
	}
	for a := addr; a < addr+size; a += DefaultSectorSize {
		if err := t.EraseSector(a); err != nil {
			return ErrSectorEraseFailed
		}
	}
	return nil
}

func (t *SPITarget) EraseFlash() error {
	if err := t.writeEnable(); err != nil {
		return ErrFailedSpiOp
	}
	if err := t.tx([]byte{spiCmdEraseChip}); err != nil {
		return ErrFailedSpiOp
	}
	return t.busyWait()
}

func (t *SPITarget) programPage(addr uint32, data []byte) error {
	if err := t.writeEnable(); err != nil {
		return err
	}
	buf := make([]byte, 4+len(data))
	buf[0] = spiCmdPageProgram
	binary.BigEndian.PutUint16(buf[1:3], uint16(addr>>8))
	buf[3] = byte(addr)
	copy(buf[4:], data)
	if err := t.tx(buf); err != nil {
		return err
	}
	return t.busyWait()
}

func (t *SPITarget) ProgramFlash(addr uint32, data []byte) error {
	for off := 0; off < len(data); {
		pageOff := (addr + uint32(off)) % flashPageSize
		n := flashPageSize - int(pageOff)
		if n > len(data)-off {
			n = len(data) - off
		}
		if err := t.programPage(addr+uint32(off), data[off:off+n]); err != nil {
			return ErrFailedSpiOp
		}
		off += n
	}
	return nil
}

func (t *SPITarget) WriteEncryptedEnable()  { t.encMode = true }
func (t *SPITarget) WriteEncryptedDisable() { t.encMode = false }

func (t *SPITarget) WriteEncrypted(addr uint32, data []byte) error {
	if !t.encMode {
		return ErrFailedSpiOp
	}
	// Real flash-encryption requires the chip's inline AES engine, which
	// sits behind ROM calls with no SPI-bus equivalent; a real backend
	// without that engine can only reject encrypted writes.
	return ErrFailedSpiOp
}

func (t *SPITarget) ReadFlash(addr uint32, buf []byte) error {
	cmd := make([]byte, 4+len(buf))
	cmd[0] = spiCmdRead
	binary.BigEndian.PutUint16(cmd[1:3], uint16(addr>>8))
	cmd[3] = byte(addr)
	if err := t.tx(cmd); err != nil {
		return ErrReadFailed
	}
	copy(buf, cmd[4:])
	return nil
}

func (t *SPITarget) ChangeBaudrate(oldBaud, newBaud uint32) error {
	// Baud is owned by the serial transport on a real host link, not this
	// SPI-attached flash chip; nothing to do here.
	return nil
}

func (t *SPITarget) DelayMicros(us uint32) {
	time.Sleep(time.Duration(us) * time.Microsecond)
}

func (t *SPITarget) SoftReset() {}

func (t *SPITarget) SecurityInfo() ([SecurityInfoBytes]byte, error) {
	var buf [SecurityInfoBytes]byte
	return buf, fmt.Errorf("hal: security info requires ROM support not available over plain SPI-NOR")
}

func (t *SPITarget) NewDecompressor() Decompressor {
	return newZlibDecompressor()
}
