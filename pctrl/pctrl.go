// Package pctrl implements the physical interrupt controller register
// bank: the global domain block plus one in-hart-context delivery block
// per physical hart, modeled on the AIA APLIC register file.
package pctrl

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"

	"riscv-irqc/platform"
	"riscv-irqc/sysiface"
)

// ErrMisaligned is returned when a register access is not 4-byte aligned;
// the physical register file only supports word-sized accesses.
type ErrMisaligned struct{ Offset uint32 }

func (e *ErrMisaligned) Error() string {
	return fmt.Sprintf("pctrl: misaligned register access at offset 0x%x", e.Offset)
}

// Bank is the physical register bank for one interrupt domain.
type Bank struct {
	cfg    *platform.Config
	mapper sysiface.MemoryMapper

	mu     sync.Mutex
	global []byte   // domain block, size platform.HartBlockOffset
	harts  [][]byte // one IDC block per physical hart, size HartBlockStride

	Debug bool
}

// New maps the domain block and every physical hart's IDC block through
// mapper and returns a ready Bank. Mirrors the teacher's
// NewVirtualMachine: validate, then map, then initialize register
// contents to their power-on default.
//
// New plays the master hart's role from interrupts_arch_init: it does the
// allocation and mapping, then issues a memory fence via fence (nil is
// tolerated and treated as sysiface.NoopFencer{}) before any register is
// touched. If bar is non-nil, New calls bar.Wait() once mapping is done, so
// any followers already parked on the same barrier are released only after
// the mapping (and fence) are visible; nil skips the rendezvous entirely
// for callers with no followers to synchronize.
func New(cfg *platform.Config, mapper sysiface.MemoryMapper, bar sysiface.Barrier, fence sysiface.Fencer) (*Bank, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	global, err := mapper.MapDevice(cfg.PhysBase, platform.HartBlockOffset)
	if err != nil {
		return nil, fmt.Errorf("pctrl: map domain block: %w", err)
	}
	b := &Bank{cfg: cfg, mapper: mapper, global: global}
	b.harts = make([][]byte, cfg.PhartCount)
	for h := uint32(0); h < cfg.PhartCount; h++ {
		mem, err := mapper.MapDevice(cfg.PhysBase+uint64(platform.HartBlockOffset)+uint64(h)*platform.HartBlockStride, platform.HartBlockStride)
		if err != nil {
			return nil, fmt.Errorf("pctrl: map idc block for hart %d: %w", h, err)
		}
		b.harts[h] = mem
	}
	if fence == nil {
		fence = sysiface.NoopFencer{}
	}
	fence.FenceSync()
	if bar != nil {
		bar.Wait()
	}
	return b, nil
}

// Init performs one-time domain setup: clears the domain block and leaves
// the domain disabled (IE=0) and in direct delivery mode, matching the
// APLIC power-on default the original init() relies on.
func (b *Bank) Init() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.global {
		b.global[i] = 0
	}
	if b.Debug {
		log.Printf("pctrl: domain block initialized, %d sources, %d harts", b.cfg.SourceCount, b.cfg.PhartCount)
	}
}

// CPUInit performs per-hart IDC setup for physical hart h: enables
// delivery and resets the threshold so every enabled priority is
// delivered.
func (b *Bank) CPUInit(h uint32) error {
	if h >= b.cfg.PhartCount {
		return fmt.Errorf("pctrl: CPUInit: hart %d out of range", h)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.harts[h] {
		b.harts[h][i] = 0
	}
	b.writeIDC(h, platform.OffIDCIDelivery, 1)
	return nil
}

func (b *Bank) readWord(off uint32) uint32 {
	if off%4 != 0 {
		panic(&ErrMisaligned{off})
	}
	if b.cfg.IsReserved(off) {
		return 0
	}
	return binary.LittleEndian.Uint32(b.global[off : off+4])
}

func (b *Bank) writeWord(off uint32, val uint32) {
	if off%4 != 0 {
		panic(&ErrMisaligned{off})
	}
	if b.cfg.IsReserved(off) {
		return
	}
	binary.LittleEndian.PutUint32(b.global[off:off+4], val)
}

func (b *Bank) readIDC(h uint32, off uint32) uint32 {
	return binary.LittleEndian.Uint32(b.harts[h][off : off+4])
}

func (b *Bank) writeIDC(h uint32, off uint32, val uint32) {
	binary.LittleEndian.PutUint32(b.harts[h][off:off+4], val)
}

// DomainEnabled reports the domain's global interrupt-enable bit.
func (b *Bank) DomainEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readWord(platform.OffDomainCfg)&platform.DomainCfgIE != 0
}

// SetDomainEnabled sets or clears the domain's global interrupt-enable bit.
func (b *Bank) SetDomainEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.readWord(platform.OffDomainCfg)
	if enabled {
		v |= platform.DomainCfgIE
	} else {
		v &^= platform.DomainCfgIE
	}
	b.writeWord(platform.OffDomainCfg, v)
}

func (b *Bank) sourceCfgOff(id uint32) uint32 {
	return platform.OffSourceCfg + (id-1)*4
}

// SetSourceCfg configures identity id's delivery mode. The delegate bit is
// never set by this controller (there is no sub-domain delegation in this
// design), matching the spec's single-level model.
func (b *Bank) SetSourceCfg(id uint32, mode platform.SourceMode) error {
	if id == 0 || id > b.cfg.SourceCount {
		return fmt.Errorf("pctrl: SetSourceCfg: identity %d out of range", id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeWord(b.sourceCfgOff(id), uint32(platform.SanitizeSourceMode(mode))&platform.SrcCfgSMMask)
	return nil
}

// SourceCfg returns identity id's configured delivery mode.
func (b *Bank) SourceCfg(id uint32) platform.SourceMode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return platform.SourceMode(b.readWord(b.sourceCfgOff(id)) & platform.SrcCfgSMMask)
}

func bitmapWordOff(base uint32, id uint32) (wordOff uint32, bit uint32) {
	return base + (id/32)*4, id % 32
}

// SetPending marks identity id pending.
func (b *Bank) SetPending(id uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	off, bit := bitmapWordOff(platform.OffSetIP, id)
	b.writeWord(off, b.readWord(off)|(1<<bit))
}

// ClearPending clears identity id's pending bit, the effect of a write to
// in_clrip.
func (b *Bank) ClearPending(id uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	off, bit := bitmapWordOff(platform.OffSetIP, id)
	b.writeWord(off, b.readWord(off)&^(1<<bit))
}

// IsPending reports whether identity id is currently pending.
func (b *Bank) IsPending(id uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	off, bit := bitmapWordOff(platform.OffSetIP, id)
	return b.readWord(off)&(1<<bit) != 0
}

// SetEnabled enables or disables identity id's delivery.
func (b *Bank) SetEnabled(id uint32, enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	off, bit := bitmapWordOff(platform.OffSetIE, id)
	if enabled {
		b.writeWord(off, b.readWord(off)|(1<<bit))
	} else {
		b.writeWord(off, b.readWord(off)&^(1<<bit))
	}
}

// IsEnabled reports whether identity id's delivery is enabled.
func (b *Bank) IsEnabled(id uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	off, bit := bitmapWordOff(platform.OffSetIE, id)
	return b.readWord(off)&(1<<bit) != 0
}

func (b *Bank) targetOff(id uint32) uint32 {
	return platform.OffTarget + (id-1)*4
}

// SetTargetDirect routes identity id to hartIdx at priority prio in direct
// delivery mode.
func (b *Bank) SetTargetDirect(id uint32, hartIdx uint32, prio uint32) error {
	if id == 0 || id > b.cfg.SourceCount {
		return fmt.Errorf("pctrl: SetTargetDirect: identity %d out of range", id)
	}
	if prio < platform.MinPrio || prio > platform.MaxPrio {
		return fmt.Errorf("pctrl: SetTargetDirect: priority %d out of range", prio)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	v := (hartIdx&platform.TargetHartIdxMask)<<platform.TargetHartIdxShift | (prio & platform.TargetIPrioMask)
	b.writeWord(b.targetOff(id), v)
	return nil
}

// SetTargetMSI routes identity id to hartIdx's MSI guest file guestIdx
// with event id eeid in MSI delivery mode.
func (b *Bank) SetTargetMSI(id uint32, hartIdx uint32, guestIdx uint32, eeid uint32) error {
	if id == 0 || id > b.cfg.SourceCount {
		return fmt.Errorf("pctrl: SetTargetMSI: identity %d out of range", id)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	v := (hartIdx&platform.TargetHartIdxMask)<<platform.TargetHartIdxShift |
		(guestIdx&platform.TargetGuestIdxMask)<<platform.TargetGuestIdxShift |
		(eeid & platform.TargetEEIDMask)
	b.writeWord(b.targetOff(id), v)
	return nil
}

// Target returns identity id's raw target register value.
func (b *Bank) Target(id uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readWord(b.targetOff(id))
}

// SetIDelivery enables or disables interrupt delivery to hart h's idc.
func (b *Bank) SetIDelivery(h uint32, enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := uint32(0)
	if enabled {
		v = 1
	}
	b.writeIDC(h, platform.OffIDCIDelivery, v)
}

// SetIThreshold sets hart h's priority threshold: sources whose priority
// number is at or above this value (i.e. lower urgency) are not delivered.
// A threshold of 0 disables the filter.
func (b *Bank) SetIThreshold(h uint32, threshold uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writeIDC(h, platform.OffIDCIThreshold, threshold&platform.TargetIPrioMask)
}

// Force sets or clears hart h's iforce bit directly on the physical bank
// (a test/debug hook mirroring vctrl.Shadow.SetIForce on the virtual side).
func (b *Bank) Force(h uint32, forced bool) error {
	if h >= b.cfg.PhartCount {
		return fmt.Errorf("pctrl: Force: hart %d out of range", h)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	v := uint32(0)
	if forced {
		v = 1
	}
	b.writeIDC(h, platform.OffIDCIForce, v)
	return nil
}

// TopI returns hart h's current highest-priority pending-and-enabled
// identity and its priority packed as (id<<16 | prio), or 0 if none.
func (b *Bank) TopI(h uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.computeTopI(h)
}

// computeTopI scans every identity targeted at hart h and returns the one
// with the lowest priority number (highest urgency) that is both pending
// and enabled, below threshold. Caller must hold b.mu.
func (b *Bank) computeTopI(h uint32) uint32 {
	threshold := b.readIDC(h, platform.OffIDCIThreshold)
	bestID := uint32(0)
	bestPrio := uint32(platform.MaxPrio + 1)
	for id := uint32(1); id <= b.cfg.SourceCount; id++ {
		target := b.readWord(b.targetOff(id))
		hartIdx := (target >> platform.TargetHartIdxShift) & platform.TargetHartIdxMask
		if hartIdx != h {
			continue
		}
		prio := target & platform.TargetIPrioMask
		if threshold != 0 && prio >= threshold {
			continue
		}
		pendOff, pendBit := bitmapWordOff(platform.OffSetIP, id)
		enOff, enBit := bitmapWordOff(platform.OffSetIE, id)
		pending := b.readWord(pendOff)&(1<<pendBit) != 0
		enabled := b.readWord(enOff)&(1<<enBit) != 0
		if pending && enabled && prio < bestPrio {
			bestID, bestPrio = id, prio
		}
	}
	if bestID == 0 {
		return 0
	}
	return bestID<<16 | bestPrio
}

// Claim reads hart h's claimi register: it returns the top pending
// identity and its priority packed as (id<<16 | prio), or 0 if spurious,
// and, as a side effect, clears that
// identity's pending bit, the same claim-with-side-effect pattern the
// teacher's 8259 emulation uses in GetInterruptVector.
func (b *Bank) Claim(h uint32) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	topi := b.computeTopI(h)
	id := topi >> 16
	if id == 0 {
		return 0
	}
	off, bit := bitmapWordOff(platform.OffSetIP, id)
	b.writeWord(off, b.readWord(off)&^(1<<bit))
	b.writeIDC(h, platform.OffIDCClaimI, topi)
	return topi
}
