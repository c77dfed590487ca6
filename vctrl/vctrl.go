package vctrl

import (
	"fmt"

	"riscv-irqc/pctrl"
	"riscv-irqc/platform"
	"riscv-irqc/sysiface"
)

// Init constructs a Shadow and its Controller for vmID, and registers the
// domain block and every vhart's IDC block as emulated MMIO regions on
// registrar. callerPhart is the physical hart the registered handlers
// report as the caller of every trapped access (and so the hart from which
// their line updates are dispatched). pc is the
// physical controller backing this VM's hardware-passthrough sources, or
// nil if this VM has none. csr is the CSR port used to assert/clear this
// VM's guest-visible hvip-equivalent bit, or nil to skip that step.
func Init(vmID uint32, cfg *platform.Config, base uint64, translate sysiface.VCPUTranslator, msg sysiface.Messenger, registrar sysiface.EmulatedRegionRegistrar, callerPhart uint32, pc *pctrl.Bank, csr sysiface.CSRPort) (*Controller, error) {
	shadow, err := NewShadow(cfg)
	if err != nil {
		return nil, err
	}
	c := NewController(vmID, shadow, translate, msg, pc, csr)

	if err := registrar.AddEmulatedRegion(base, platform.HartBlockOffset, c.DomainHandler(callerPhart)); err != nil {
		return nil, fmt.Errorf("vctrl: register domain block: %w", err)
	}
	for h := uint32(0); h < cfg.PhartCount; h++ {
		addr := base + uint64(platform.HartBlockOffset) + uint64(h)*platform.HartBlockStride
		if err := registrar.AddEmulatedRegion(addr, platform.HartBlockStride, c.IDCHandler(h, callerPhart)); err != nil {
			return nil, fmt.Errorf("vctrl: register idc block for vhart %d: %w", h, err)
		}
	}
	return c, nil
}

// Shadow exposes the underlying per-VM state for callers (e.g. the sim
// harness) that need to pin vharts or bind hardware sources directly.
func (c *Controller) Shadow() *Shadow { return c.shadow }
