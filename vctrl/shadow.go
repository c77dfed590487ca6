// Package vctrl implements the virtual interrupt controller: the per-VM
// shadow state a guest's MMIO accesses are emulated against, and (in
// line.go) the cross-physical-hart line-update dispatch that keeps every
// vhart's view of its own top pending interrupt coherent.
package vctrl

import (
	"fmt"
	"sync"

	"riscv-irqc/platform"
)

// Shadow is one VM's virtual interrupt controller state. A single mutex
// guards the whole struct: the register classes are small and the
// original hardware likewise serializes domain-block access, so there is
// no benefit to finer-grained locking here (see SPEC_FULL.md §3 on why
// this is sync.Mutex rather than a busy-wait spinlock).
type Shadow struct {
	mu  sync.Mutex
	cfg *platform.Config

	domainCfg uint32
	sourceCfg []uint32 // index 1..SourceCount

	hwBound []bool // index 1..SourceCount: true if forwarded to a physical identity
	hwID    []uint32

	pending []uint32 // bitmap
	enabled []uint32 // bitmap
	target  []uint32 // index 1..SourceCount, raw register encoding

	idelivery  []bool   // index by vhart
	iforce     []bool   // index by vhart
	ithreshold []uint32 // index by vhart
	topiCache  []uint32 // index by vhart, cached topi/claimi value

	vhartToPhart []uint32 // index by vhart; physical hart currently hosting it
	vhartPinned  []bool

	Debug bool
}

// NewShadow allocates a Shadow sized for cfg. Arrays are 1-indexed by
// source identity (index 0 unused, matching the hardware's "identity 0
// means no interrupt" convention) so source ids can index directly
// without an off-by-one subtraction at every call site.
func NewShadow(cfg *platform.Config) (*Shadow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := cfg.SourceCount + 1
	s := &Shadow{
		cfg:          cfg,
		sourceCfg:    make([]uint32, n),
		hwBound:      make([]bool, n),
		hwID:         make([]uint32, n),
		target:       make([]uint32, n),
		pending:      make([]uint32, cfg.BitmapWords()),
		enabled:      make([]uint32, cfg.BitmapWords()),
		idelivery:    make([]bool, cfg.PhartCount),
		iforce:       make([]bool, cfg.PhartCount),
		ithreshold:   make([]uint32, cfg.PhartCount),
		topiCache:    make([]uint32, cfg.PhartCount),
		vhartToPhart: make([]uint32, cfg.PhartCount),
		vhartPinned:  make([]bool, cfg.PhartCount),
	}
	return s, nil
}

func (s *Shadow) checkID(id uint32) error {
	if id == 0 || id > s.cfg.SourceCount {
		return fmt.Errorf("vctrl: identity %d out of range", id)
	}
	return nil
}

func (s *Shadow) checkHart(h uint32) error {
	if h >= s.cfg.PhartCount {
		return fmt.Errorf("vctrl: vhart %d out of range", h)
	}
	return nil
}

// PinVHart records that vhartID is currently scheduled on phartID, so LINE
// knows which physical hart to notify when that vhart's top interrupt
// changes.
func (s *Shadow) PinVHart(vhartID, phartID uint32) error {
	if err := s.checkHart(vhartID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vhartToPhart[vhartID] = phartID
	s.vhartPinned[vhartID] = true
	return nil
}

// PhartOf returns the physical hart vhartID is pinned to, or ok=false if
// unpinned.
func (s *Shadow) PhartOf(vhartID uint32) (phartID uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vhartID >= uint32(len(s.vhartPinned)) || !s.vhartPinned[vhartID] {
		return 0, false
	}
	return s.vhartToPhart[vhartID], true
}

// BindHW forwards virtual identity id to physical identity hwID: guest
// writes to id's sourcecfg, enable, pending and target state are then
// mirrored to the physical controller (see hwmirror.go) so real hardware
// interrupts keep arriving at the guest.
func (s *Shadow) BindHW(id, hwID uint32) error {
	if err := s.checkID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hwBound[id] = true
	s.hwID[id] = hwID
	return nil
}

// HWBound reports whether virtual identity id forwards to a physical
// identity, and if so, which one.
func (s *Shadow) HWBound(id uint32) (hwID uint32, bound bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == 0 || id >= uint32(len(s.hwBound)) {
		return 0, false
	}
	return s.hwID[id], s.hwBound[id]
}
