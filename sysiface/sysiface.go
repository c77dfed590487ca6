// Package sysiface defines the external collaborators the interrupt
// virtualization core consumes (memory mapping, cross-hart messaging,
// synchronization primitives, CSR access, firmware IPI) and provides a
// default, self-contained implementation of each so the core is testable
// without a real RISC-V host.
package sysiface

import "context"

// MemoryMapper maps a device's register page into the process so it can be
// read/written as ordinary memory. On real hardware this is the
// hypervisor's own MMU setup; here it stands in for map_device.
type MemoryMapper interface {
	MapDevice(physAddr uint64, size uint32) ([]byte, error)
	UnmapDevice(mem []byte) error
}

// RegionHandler services a trapped access to an emulated MMIO region. off
// is the byte offset from the region's base. write reports whether this is
// a store; val is the store value (ignored on a load). The returned value
// is the load result (ignored on a store).
type RegionHandler func(off uint32, write bool, val uint32) uint32

// EmulatedRegionRegistrar registers a software-emulated MMIO region so
// traps into it are routed to handler instead of being backed by real
// memory. Corresponds to add_emulated_region.
type EmulatedRegionRegistrar interface {
	AddEmulatedRegion(base uint64, size uint32, handler RegionHandler) error
}

// VCPUTranslator resolves a virtual hart id to the physical hart it is
// currently pinned to, or ok=false if unassigned.
type VCPUTranslator interface {
	TranslateToPhart(vmID, vhartID uint32) (phartID uint32, ok bool)
}

// Messenger delivers a line-update message to a physical hart, to be
// processed the next time that hart is scheduled. Corresponds to
// cpu_send_msg.
type Messenger interface {
	Send(phartID uint32, msg Message)
}

// Message is a cross-hart line-update notification. It carries just enough
// to let the receiving hart recompute its own top pending interrupt
// without interrogating the whole shadow state.
type Message struct {
	VMID   uint32
	VHartID uint32
}

// Spinlock is a busy-wait mutual exclusion primitive, named to match the
// spin_lock/spin_unlock collaborator in the original design. Go's
// goroutines are preemptible, so CASSpinlock is a thin wrapper kept mainly
// so call sites read the way the ported C does; production code should
// prefer sync.Mutex directly (see vctrl.Shadow).
type Spinlock interface {
	Lock()
	Unlock()
}

// Barrier blocks every caller until Count callers have arrived, then
// releases them all. Used during global init so the master hart's
// allocation is visible before any hart proceeds.
type Barrier interface {
	Wait()
}

// Fencer issues the memory fence required after the master hart maps the
// controller's MMIO pages and before any hart's first read or write to
// them, corresponding to fence_sync/fence_sync_write.
type Fencer interface {
	FenceSync()
}

// NoopFencer is the default Fencer: Go's memory model already establishes
// the needed happens-before via the mutex acquired on every register
// access, so there is no hardware barrier instruction to emit here. It
// exists so call sites keep the explicit fence-then-touch shape the
// original's master-hart init follows, rather than dropping the step
// silently.
type NoopFencer struct{}

func (NoopFencer) FenceSync() {}

// CSRPort abstracts reading and writing a privileged control-and-status
// register. Go cannot emit RISC-V CSR instructions directly, so MSI-EXT
// talks to its interrupt file through this port instead of inlining
// assembly.
type CSRPort interface {
	ReadCSR(name string) uint64
	WriteCSR(name string, val uint64)
}

// FirmwareIPI sends an inter-processor interrupt through the platform
// firmware (SBI) IPI call. Distinct from Messenger: Messenger delivers a
// typed line-update message this module understands, FirmwareIPI is the
// narrow mechanism that wakes up the remote hart to go look.
type FirmwareIPI interface {
	SendIPI(phartID uint32)
}

// InterruptDispatcher delivers a claimed interrupt identity to the upper
// layer, corresponding to interrupts_handle(id) -> {handled_by_hyp,
// passed_to_guest}. phartID is the physical hart that claimed id.
// handledByHypervisor reports whether the hypervisor fully serviced the
// interrupt itself, as opposed to routing it into a guest's shadow state.
type InterruptDispatcher interface {
	Deliver(ctx context.Context, phartID uint32, id uint32) (handledByHypervisor bool, err error)
}

// VCPURegAccessor reads and writes a vCPU's general-purpose registers,
// used by the MMIO-trap decode path to extract store values / place load
// results when the trapping instruction's operand is register-indirect.
type VCPURegAccessor interface {
	ReadReg(vhartID uint32, reg int) uint64
	WriteReg(vhartID uint32, reg int, val uint64)
}
