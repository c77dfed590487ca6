package msiext

import (
	"fmt"
	"sync"

	"riscv-irqc/sysiface"
)

// Fabric owns every physical hart's interrupt File and the process-wide
// event-id reservation bitmap, and resolves a send_msi addressed write to
// the target hart's File the way a real IMSIC fabric resolves it to a
// physical address.
type Fabric struct {
	mu    sync.Mutex
	files map[uint32]*File

	// reservedLock guards reserved: the MSI reservation bitmap is a short,
	// process-global critical section per spec's concurrency model, the
	// one place in this module where a real spin lock (rather than
	// sync.Mutex) matches the source material's granularity.
	reservedLock sysiface.CASSpinlock
	reserved     []uint32 // bitmap over 1..MaxEventID

	bindings map[bindKey]uint32
}

type bindKey struct {
	vmID, vhartID, vid uint32
}

// NewFabric returns an empty fabric.
func NewFabric() *Fabric {
	words := (MaxEventID + 32) / 32
	return &Fabric{
		files:    make(map[uint32]*File),
		reserved: make([]uint32, words),
		bindings: make(map[bindKey]uint32),
	}
}

// AddFile registers hartID's interrupt file with the fabric.
func (fb *Fabric) AddFile(hartID uint32, f *File) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.files[hartID] = f
}

// File returns hartID's registered interrupt file, or nil if none is
// registered.
func (fb *Fabric) File(hartID uint32) *File {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.files[hartID]
}

// SendMSI delivers event id to hartID's interrupt file, as if a device had
// written an MSI to that hart's IMSIC page.
func (fb *Fabric) SendMSI(hartID uint32, id uint32) error {
	fb.mu.Lock()
	f := fb.files[hartID]
	fb.mu.Unlock()
	if f == nil {
		return fmt.Errorf("msiext: SendMSI: no interrupt file registered for hart %d", hartID)
	}
	return f.InjectPending(id)
}

// ReserveMSI finds and reserves the lowest free event id, mirroring the
// original's imsic_find_available_msi followed by imsic_reserve_msi.
func (fb *Fabric) ReserveMSI() (uint32, error) {
	fb.reservedLock.Lock()
	defer fb.reservedLock.Unlock()
	for id := uint32(1); id <= MaxEventID; id++ {
		w, b := wordBit(id)
		if fb.reserved[w]&(1<<b) == 0 {
			fb.reserved[w] |= 1 << b
			return id, nil
		}
	}
	return 0, ErrMSIExhausted
}

// ReserveMSIID reserves a caller-chosen event id, failing if it is already
// taken.
func (fb *Fabric) ReserveMSIID(id uint32) error {
	if id == 0 || id > MaxEventID {
		return fmt.Errorf("msiext: ReserveMSIID: id %d out of range", id)
	}
	fb.reservedLock.Lock()
	defer fb.reservedLock.Unlock()
	w, b := wordBit(id)
	if fb.reserved[w]&(1<<b) != 0 {
		return fmt.Errorf("msiext: ReserveMSIID: id %d already reserved", id)
	}
	fb.reserved[w] |= 1 << b
	return nil
}

// ReleaseMSI frees a previously reserved event id.
func (fb *Fabric) ReleaseMSI(id uint32) {
	fb.reservedLock.Lock()
	defer fb.reservedLock.Unlock()
	w, b := wordBit(id)
	fb.reserved[w] &^= 1 << b
}

// Bind records which host event id a guest's (vmID, vhartID, vid) triple
// resolves to, so a later Resolve can find it again without re-deriving
// it from the target register.
func (fb *Fabric) Bind(vmID, vhartID, vid, hostEventID uint32) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.bindings[bindKey{vmID, vhartID, vid}] = hostEventID
}

// Resolve returns the host event id bound to (vmID, vhartID, vid), or
// ok=false if unbound.
func (fb *Fabric) Resolve(vmID, vhartID, vid uint32) (hostEventID uint32, ok bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	id, ok := fb.bindings[bindKey{vmID, vhartID, vid}]
	return id, ok
}

// Unbind erases a binding previously recorded with Bind, the mirror step
// irqc.Config's disable path performs when undoing an MSI-mode binding.
func (fb *Fabric) Unbind(vmID, vhartID, vid uint32) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	delete(fb.bindings, bindKey{vmID, vhartID, vid})
}

// ErrMSIExhausted is returned by ReserveMSI when no free event id remains.
// Fatal per the configuration-time MSI binding policy: a controller that
// cannot bind every configured source to a host event id cannot proceed.
var ErrMSIExhausted = fmt.Errorf("msiext: no free event id")
