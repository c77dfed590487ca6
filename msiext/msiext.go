// Package msiext implements the message-signalled interrupt extension: one
// interrupt file per physical hart, modeled on the AIA IMSIC.
package msiext

import (
	"fmt"
	"sync"

	"riscv-irqc/sysiface"
)

// MaxEventID is the largest MSI event identity an interrupt file can hold
// (APLIC_TARGET_EEID_MASK is 11 bits, ids 1..2047; 0 is reserved meaning
// "no interrupt").
const MaxEventID = 0x7FF

const (
	csrEIDelivery = "eidelivery"
	csrEIThreshold = "eithreshold"
	csrEIE         = "eie" // base name; per-word CSRs are eieN
	csrEIP         = "eip" // base name; per-word CSRs are eipN
	csrTopEI       = "topei"
)

// File is one hart's MSI interrupt file.
type File struct {
	csr    sysiface.CSRPort
	hartID uint32

	mu      sync.Mutex
	pending []uint32 // bitmap, word per 32 ids
	enabled []uint32
}

// NewFile returns a File backed by csr, sized to hold ids 0..MaxEventID.
func NewFile(hartID uint32, csr sysiface.CSRPort) *File {
	words := (MaxEventID + 32) / 32
	return &File{
		csr:     csr,
		hartID:  hartID,
		pending: make([]uint32, words),
		enabled: make([]uint32, words),
	}
}

// Init performs the CSR setup sequence the original imsic_init issues:
// enable delivery and clear the threshold so every enabled id delivers.
func (f *File) Init() {
	f.csr.WriteCSR(csrEIDelivery, 1)
	f.csr.WriteCSR(csrEIThreshold, 0)
}

func wordBit(id uint32) (word, bit uint32) { return id / 32, id % 32 }

// SetEnabled enables or disables delivery of event id.
func (f *File) SetEnabled(id uint32, enabled bool) error {
	if id == 0 || id > MaxEventID {
		return fmt.Errorf("msiext: SetEnabled: id %d out of range", id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w, b := wordBit(id)
	if enabled {
		f.enabled[w] |= 1 << b
	} else {
		f.enabled[w] &^= 1 << b
	}
	return nil
}

// Pending reports whether event id is currently pending.
func (f *File) Pending(id uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, b := wordBit(id)
	return f.pending[w]&(1<<b) != 0
}

// ClearPending clears event id's pending bit without claiming it.
func (f *File) ClearPending(id uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, b := wordBit(id)
	f.pending[w] &^= 1 << b
}

// InjectPending marks id pending directly. Fabric.SendMSI delivers through
// it once it has resolved the target hart's File; tests also call it.
func (f *File) InjectPending(id uint32) error {
	if id == 0 || id > MaxEventID {
		return fmt.Errorf("msiext: InjectPending: id %d out of range", id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w, b := wordBit(id)
	f.pending[w] |= 1 << b
	return nil
}

// Claim reads topei: it returns the highest-priority pending-and-enabled
// event id (ids are prioritized by number, lowest first, per AIA), or 0 if
// none, and clears that id's pending bit as a side effect.
func (f *File) Claim() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := uint32(1); id <= MaxEventID; id++ {
		w, b := wordBit(id)
		if f.pending[w]&(1<<b) != 0 && f.enabled[w]&(1<<b) != 0 {
			f.pending[w] &^= 1 << b
			f.csr.WriteCSR(csrTopEI, uint64(id))
			return id
		}
	}
	f.csr.WriteCSR(csrTopEI, 0)
	return 0
}
