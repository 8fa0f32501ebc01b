//go:build linux

package hal

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// mmapRegisters maps a window of /dev/mem starting at base, sized
// windowSize, to back ReadRegister/WriteRegister on SPITarget against real
// memory-mapped peripheral registers (the Go analog of the original
// firmware's read_volatile/write_volatile over the UART/SPI/GPIO register
// blocks, generalized to whatever window the host chip exposes).
type mmapRegisters struct {
	mu   sync.Mutex
	base uint32
	mem  []byte
}

// OpenRegisterWindow mmaps [base, base+size) out of /dev/mem. Requires
// CAP_SYS_RAWIO / root.
func OpenRegisterWindow(base, size uint32) (*mmapRegisters, error) {
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("hal: open /dev/mem: %w", err)
	}
	defer f.Close()

	mem, err := unix.Mmap(int(f.Fd()), int64(base), int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("hal: mmap register window: %w", err)
	}
	return &mmapRegisters{base: base, mem: mem}, nil
}

func (r *mmapRegisters) offset(addr uint32) (uint32, error) {
	if addr < r.base || int(addr-r.base)+4 > len(r.mem) {
		return 0, fmt.Errorf("hal: register address 0x%x outside mapped window", addr)
	}
	return addr - r.base, nil
}

func (r *mmapRegisters) read(addr uint32) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	off, err := r.offset(addr)
	if err != nil {
		return 0, err
	}
	return uint32(r.mem[off]) | uint32(r.mem[off+1])<<8 | uint32(r.mem[off+2])<<16 | uint32(r.mem[off+3])<<24, nil
}

func (r *mmapRegisters) write(addr, value uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	off, err := r.offset(addr)
	if err != nil {
		return err
	}
	r.mem[off] = byte(value)
	r.mem[off+1] = byte(value >> 8)
	r.mem[off+2] = byte(value >> 16)
	r.mem[off+3] = byte(value >> 24)
	return nil
}

func (r *mmapRegisters) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return unix.Munmap(r.mem)
}
