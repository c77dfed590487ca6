package sysiface

import (
	"fmt"
	"log"
	"sync"
)

type region struct {
	base, end uint64 // [base, end)
	handler   RegionHandler
}

// TrapBus routes a trapped MMIO access to whichever emulated region owns
// the faulting address, the same way the teacher's IOBus routes a
// trapped I/O-port access to whichever PioDevice owns the port, except
// keyed by a 64-bit physical address range instead of a 16-bit port.
type TrapBus struct {
	mu      sync.RWMutex
	regions []region
	Debug   bool
}

// NewTrapBus returns an empty bus.
func NewTrapBus() *TrapBus {
	return &TrapBus{}
}

// AddEmulatedRegion implements EmulatedRegionRegistrar.
func (b *TrapBus) AddEmulatedRegion(base uint64, size uint32, handler RegionHandler) error {
	if size == 0 {
		return fmt.Errorf("sysiface: AddEmulatedRegion(0x%x): zero size", base)
	}
	end := base + uint64(size)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.regions {
		if base < r.end && end > r.base {
			log.Printf("sysiface: region [0x%x,0x%x) overlaps existing region [0x%x,0x%x); the earlier region keeps the overlap", base, end, r.base, r.end)
		}
	}
	b.regions = append(b.regions, region{base, end, handler})
	return nil
}

// Dispatch routes addr to the owning region's handler. ok is false if no
// registered region covers addr.
func (b *TrapBus) Dispatch(addr uint64, write bool, val uint32) (result uint32, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range b.regions {
		if addr >= r.base && addr < r.end {
			if b.Debug {
				log.Printf("sysiface: trap addr=0x%x write=%v val=0x%x -> region base=0x%x", addr, write, val, r.base)
			}
			return r.handler(uint32(addr-r.base), write, val), true
		}
	}
	return 0, false
}
