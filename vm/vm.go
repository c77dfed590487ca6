// Package vm is a minimal virtual-machine/vCPU scaffold used to exercise
// pctrl/irqc/vctrl end-to-end. VM/vCPU lifecycle is out of scope for the
// interrupt-virtualization core; this package provides only the sliver of
// it (vhart-to-phart pinning, register access, delivered-vector tracking)
// the core's collaborator interfaces require.
package vm

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// VCPU is one virtual hart belonging to a VM.
type VCPU struct {
	ID    uint32
	vm    *VM
	mu    sync.Mutex
	regs  [32]uint64
	phart uint32
	pinned bool

	delivered []uint32 // vectors delivered to this vCPU, for test assertions
}

// VM is a minimal static-partitioning guest: a fixed set of vCPUs, each
// pinned to one physical hart for the VM's lifetime (the assumption a
// static-partitioning hypervisor's LINE algorithm relies on).
type VM struct {
	ID      uint32
	Debug   bool
	mu      sync.RWMutex
	vcpus   map[uint32]*VCPU
}

// New returns a VM with numVCPUs vCPUs, numbered 0..numVCPUs-1.
func New(id uint32, numVCPUs uint32) *VM {
	v := &VM{ID: id, vcpus: make(map[uint32]*VCPU, numVCPUs)}
	for i := uint32(0); i < numVCPUs; i++ {
		v.vcpus[i] = &VCPU{ID: i, vm: v}
	}
	return v
}

// Pin assigns vCPU vhartID to physical hart phartID for the remainder of
// the VM's lifetime.
func (v *VM) Pin(vhartID, phartID uint32) error {
	v.mu.RLock()
	vc, ok := v.vcpus[vhartID]
	v.mu.RUnlock()
	if !ok {
		return fmt.Errorf("vm: Pin: no vcpu %d", vhartID)
	}
	vc.mu.Lock()
	vc.phart = phartID
	vc.pinned = true
	vc.mu.Unlock()
	if v.Debug {
		log.Printf("vm %d: vcpu %d pinned to phart %d", v.ID, vhartID, phartID)
	}
	return nil
}

// TranslateToPhart implements sysiface.VCPUTranslator.
func (v *VM) TranslateToPhart(vmID, vhartID uint32) (uint32, bool) {
	if vmID != v.ID {
		return 0, false
	}
	v.mu.RLock()
	vc, ok := v.vcpus[vhartID]
	v.mu.RUnlock()
	if !ok {
		return 0, false
	}
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.phart, vc.pinned
}

// ReadReg implements sysiface.VCPURegAccessor.
func (v *VM) ReadReg(vhartID uint32, reg int) uint64 {
	v.mu.RLock()
	vc, ok := v.vcpus[vhartID]
	v.mu.RUnlock()
	if !ok || reg < 0 || reg >= len(vc.regs) {
		return 0
	}
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.regs[reg]
}

// WriteReg implements sysiface.VCPURegAccessor.
func (v *VM) WriteReg(vhartID uint32, reg int, val uint64) {
	v.mu.RLock()
	vc, ok := v.vcpus[vhartID]
	v.mu.RUnlock()
	if !ok || reg < 0 || reg >= len(vc.regs) {
		return
	}
	vc.mu.Lock()
	vc.regs[reg] = val
	vc.mu.Unlock()
}

// Deliver implements sysiface.InterruptDispatcher: it finds the vCPU
// pinned to phartID and records the claimed identity, since actually
// resuming a vCPU at its interrupt vector is outside this module's scope.
// Every identity is reported as routed to the guest (handledByHypervisor
// false); this harness has no hypervisor-internal interrupt ids of its
// own to service.
func (v *VM) Deliver(ctx context.Context, phartID uint32, id uint32) (bool, error) {
	v.mu.RLock()
	var vc *VCPU
	for _, candidate := range v.vcpus {
		candidate.mu.Lock()
		pinned := candidate.pinned && candidate.phart == phartID
		candidate.mu.Unlock()
		if pinned {
			vc = candidate
			break
		}
	}
	v.mu.RUnlock()
	if vc == nil {
		return false, fmt.Errorf("vm: Deliver: no vcpu pinned to phart %d", phartID)
	}
	vc.mu.Lock()
	vc.delivered = append(vc.delivered, id)
	vc.mu.Unlock()
	if v.Debug {
		log.Printf("vm %d: delivered identity %d to vcpu pinned on phart %d", v.ID, id, phartID)
	}
	return false, nil
}

// Delivered returns the vectors delivered to vhartID so far, in order.
func (v *VM) Delivered(vhartID uint32) []uint32 {
	v.mu.RLock()
	vc, ok := v.vcpus[vhartID]
	v.mu.RUnlock()
	if !ok {
		return nil
	}
	vc.mu.Lock()
	defer vc.mu.Unlock()
	out := make([]uint32, len(vc.delivered))
	copy(out, vc.delivered)
	return out
}
