package sysiface

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// AnonMapper implements MemoryMapper over anonymous private mappings. A
// real hypervisor maps a device's physical register page; this simulation
// backs each "device" with its own anonymous page so the rest of the
// module can be exercised without a physical AIA controller, the same way
// the teacher backs its guest memory and TAP device fds through raw
// mmap/ioctl calls instead of a real KVM-mapped page.
type AnonMapper struct {
	mu     sync.Mutex
	mapped map[uintptr][]byte
}

// NewAnonMapper returns a ready-to-use AnonMapper.
func NewAnonMapper() *AnonMapper {
	return &AnonMapper{mapped: make(map[uintptr][]byte)}
}

// MapDevice returns size bytes of zeroed, page-backed memory standing in
// for a device's register file at physAddr. physAddr is recorded only for
// diagnostics; the returned slice is the only handle the caller needs.
func (m *AnonMapper) MapDevice(physAddr uint64, size uint32) ([]byte, error) {
	if size == 0 {
		return nil, fmt.Errorf("sysiface: MapDevice(0x%x): zero size", physAddr)
	}
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("sysiface: mmap device at 0x%x: %w", physAddr, err)
	}
	m.mu.Lock()
	m.mapped[uintptr(physAddr)] = mem
	m.mu.Unlock()
	return mem, nil
}

// UnmapDevice releases memory previously returned by MapDevice.
func (m *AnonMapper) UnmapDevice(mem []byte) error {
	if mem == nil {
		return nil
	}
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("sysiface: munmap device: %w", err)
	}
	return nil
}
