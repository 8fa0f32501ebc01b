//go:build !linux

package hal

import "fmt"

// mmapRegisters has no implementation outside Linux; real-hardware register
// access is a Linux-only feature, split from mmap_linux.go by build tag.
type mmapRegisters struct{}

func OpenRegisterWindow(base, size uint32) (*mmapRegisters, error) {
	return nil, fmt.Errorf("hal: register window mapping is only supported on linux")
}

func (r *mmapRegisters) read(addr uint32) (uint32, error) {
	return 0, fmt.Errorf("hal: register window mapping is only supported on linux")
}

func (r *mmapRegisters) write(addr, value uint32) error {
	return fmt.Errorf("hal: register window mapping is only supported on linux")
}

func (r *mmapRegisters) Close() error { return nil }
