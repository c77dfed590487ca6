// Package irqc is the physical-controller facade: it dispatches to either
// pctrl (wired/direct delivery) or msiext (message-signalled delivery)
// behind one tagged-variant Controller, so callers never branch on
// platform build mode themselves.
package irqc

import (
	"context"
	"fmt"
	"log"

	"riscv-irqc/msiext"
	"riscv-irqc/pctrl"
	"riscv-irqc/platform"
	"riscv-irqc/sysiface"
)

// Controller is the single entry point callers use regardless of which
// physical substrate backs interrupt delivery. pc is always present:
// aplic_set_enbl/aplic_set_target are called on every irqc_config,
// MSI mode or not, since the domain's delivery-mode bit lives in the same
// register file MSI-EXT's per-hart files sit alongside.
type Controller struct {
	mode platform.ControllerMode
	cfg  *platform.Config

	pc  *pctrl.Bank    // always present
	msi *msiext.Fabric // set when mode == ModeMSI

	idHart map[uint32]uint32 // wired identity -> host hart it was bound on, MSI mode only

	fw         sysiface.FirmwareIPI
	dispatcher sysiface.InterruptDispatcher
	Debug      bool
}

// New constructs a Controller for cfg.Mode. pc is required in every mode;
// msi is additionally required when cfg.Mode == ModeMSI. dispatcher may be
// nil, in which case Handle still drains the claim loop but delivers
// nothing upward (useful for tests that only exercise the physical side).
func New(cfg *platform.Config, pc *pctrl.Bank, msi *msiext.Fabric, fw sysiface.FirmwareIPI, dispatcher sysiface.InterruptDispatcher) (*Controller, error) {
	if pc == nil {
		return nil, fmt.Errorf("irqc: mode %s requires a pctrl.Bank", cfg.Mode)
	}
	if cfg.Mode == platform.ModeMSI && msi == nil {
		return nil, fmt.Errorf("irqc: mode %s requires a msiext.Fabric", cfg.Mode)
	}
	return &Controller{
		mode:       cfg.Mode,
		cfg:        cfg,
		pc:         pc,
		msi:        msi,
		idHart:     make(map[uint32]uint32),
		fw:         fw,
		dispatcher: dispatcher,
	}, nil
}

// Init performs global, one-time controller setup.
func (c *Controller) Init() {
	c.pc.Init()
	if c.Debug {
		log.Printf("irqc: initialized in %s mode", c.mode)
	}
}

// CPUInit performs per-physical-hart setup.
func (c *Controller) CPUInit(h uint32) error {
	if err := c.pc.CPUInit(h); err != nil {
		return err
	}
	// MSI interrupt files are not touched here: a File is set up by its
	// own Init, which neither CPUInit nor Fabric.AddFile calls.
	return nil
}

// SendIPI raises an inter-processor interrupt identified by ipiID on
// physical hart targetHart. In wired/legacy mode this is a supervisor-
// software-interrupt via platform firmware; in MSI mode ipiID must be at
// or above platform.MSIIDBase and is translated to a send_msi with event
// id (ipiID - MSIIDBase).
func (c *Controller) SendIPI(targetHart uint32, ipiID uint32) error {
	switch c.mode {
	case platform.ModeWired, platform.ModeLegacy:
		if c.fw != nil {
			c.fw.SendIPI(targetHart)
		}
		return nil
	case platform.ModeMSI:
		if ipiID < platform.MSIIDBase {
			return fmt.Errorf("irqc: SendIPI: ipi id %d below MSIIDBase in MSI mode", ipiID)
		}
		return c.msi.SendMSI(targetHart, ipiID-platform.MSIIDBase)
	}
	return fmt.Errorf("irqc: SendIPI: unreachable mode %d", c.mode)
}

// Config enables or disables identity id's delivery to currentHart, the
// physical hart making the call (spec's design notes: pass the
// current-hart capability explicitly rather than reaching for a global
// cpu() getter). On enable: source mode is set to edge-rising, enabled in
// PCTRL, and targeted at currentHart with priority
// cfg.HypervisorReservedPriority (MinPrio if unset); in MSI mode an MSI
// event is additionally reserved, bound, enabled in currentHart's
// interrupt file, and installed as id's PCTRL target with guest=0. On
// disable, the enable path is undone in the opposite order: the MSI event
// (if any) is disabled, released and unbound, id is disabled in PCTRL and
// its source mode is set back to inactive. id's PCTRL target register is
// not reset and keeps the value the enable path wrote.
func (c *Controller) Config(id uint32, currentHart uint32, enable bool) error {
	if !enable {
		return c.disable(id, currentHart)
	}
	if err := c.pc.SetSourceCfg(id, platform.ModeEdgeRising); err != nil {
		return err
	}
	c.pc.SetEnabled(id, true)
	prio := c.cfg.HypervisorReservedPriority
	if prio == 0 {
		prio = platform.MinPrio
	}
	if err := c.pc.SetTargetDirect(id, currentHart, prio); err != nil {
		return err
	}
	if c.mode != platform.ModeMSI {
		return nil
	}
	f := c.hartFile(currentHart)
	if f == nil {
		return fmt.Errorf("irqc: Config(%d): no interrupt file registered for hart %d", id, currentHart)
	}
	eeid, err := c.msi.ReserveMSI()
	if err != nil {
		return fmt.Errorf("irqc: Config(%d): %w", id, err)
	}
	c.msi.Bind(0, currentHart, id, eeid)
	if err := f.SetEnabled(eeid, true); err != nil {
		c.msi.ReleaseMSI(eeid)
		c.msi.Unbind(0, currentHart, id)
		return err
	}
	if err := c.pc.SetTargetMSI(id, currentHart, 0, eeid); err != nil {
		f.SetEnabled(eeid, false)
		c.msi.ReleaseMSI(eeid)
		c.msi.Unbind(0, currentHart, id)
		return err
	}
	c.idHart[id] = currentHart
	return nil
}

// disable undoes Config's enable path in the opposite order.
func (c *Controller) disable(id uint32, currentHart uint32) error {
	if c.mode == platform.ModeMSI {
		if hartIdx, tracked := c.idHart[id]; tracked {
			if eeid, ok := c.msi.Resolve(0, hartIdx, id); ok {
				if f := c.hartFile(hartIdx); f != nil {
					f.SetEnabled(eeid, false)
				}
				c.msi.ReleaseMSI(eeid)
				c.msi.Unbind(0, hartIdx, id)
			}
			delete(c.idHart, id)
		}
	}
	c.pc.SetEnabled(id, false)
	return c.pc.SetSourceCfg(id, platform.ModeInactive)
}

// claimOne claims the highest-priority pending-and-enabled identity ready
// on physical hart h, returning 0 if none. In MSI mode the returned
// identity is layered at MSIIDBase + event id, so a dispatcher sees one
// coherent id space regardless of substrate.
func (c *Controller) claimOne(h uint32) uint32 {
	switch c.mode {
	case platform.ModeWired, platform.ModeLegacy:
		return c.pc.Claim(h) >> 16
	case platform.ModeMSI:
		f := c.hartFile(h)
		if f == nil {
			return 0
		}
		eeid := f.Claim()
		if eeid == 0 {
			return 0
		}
		return platform.MSIIDBase + eeid
	}
	return 0
}

// reacknowledge re-confirms claimOne's implicit acknowledge for an
// identity the dispatcher reports as fully handled by the hypervisor, so a
// re-injection racing with delivery cannot leave it half-claimed.
func (c *Controller) reacknowledge(h uint32, id uint32) {
	switch c.mode {
	case platform.ModeWired, platform.ModeLegacy:
		c.pc.ClearPending(id)
	case platform.ModeMSI:
		eeid := id
		if eeid >= platform.MSIIDBase {
			eeid -= platform.MSIIDBase
		}
		if f := c.hartFile(h); f != nil {
			f.ClearPending(eeid)
		}
	}
}

// Handle services a physical interrupt trap on hart h: it loops claiming
// identities from the active substrate until claim returns 0, calling the
// upper dispatcher for each and re-acknowledging any the dispatcher
// reports as handled by the hypervisor.
func (c *Controller) Handle(ctx context.Context, h uint32) error {
	for {
		id := c.claimOne(h)
		if id == 0 {
			return nil
		}
		if c.dispatcher == nil {
			continue
		}
		handledByHyp, err := c.dispatcher.Deliver(ctx, h, id)
		if err != nil {
			return fmt.Errorf("irqc: Handle: dispatch identity %d: %w", id, err)
		}
		if handledByHyp {
			c.reacknowledge(h, id)
		}
	}
}

// Pending reports whether identity id is currently pending on the active
// substrate.
func (c *Controller) Pending(id uint32) bool {
	switch c.mode {
	case platform.ModeWired, platform.ModeLegacy:
		return c.pc.IsPending(id)
	case platform.ModeMSI:
		hartIdx, ok := c.idHart[id]
		if !ok {
			return false
		}
		eeid, ok := c.msi.Resolve(0, hartIdx, id)
		if !ok {
			return false
		}
		f := c.hartFile(hartIdx)
		if f == nil {
			return false
		}
		return f.Pending(eeid)
	}
	return false
}

// ClearPending clears identity id's pending state on the active substrate.
func (c *Controller) ClearPending(id uint32) {
	switch c.mode {
	case platform.ModeWired, platform.ModeLegacy:
		c.pc.ClearPending(id)
	case platform.ModeMSI:
		hartIdx, ok := c.idHart[id]
		if !ok {
			return
		}
		eeid, ok := c.msi.Resolve(0, hartIdx, id)
		if !ok {
			return
		}
		if f := c.hartFile(hartIdx); f != nil {
			f.ClearPending(eeid)
		}
	}
}

// BindVMHW binds a hardware-backed wired source directly to a vhart's
// physical target, skipping guest MMIO emulation for that one identity
// (used when a source is passed through to a VM rather than virtualized).
func (c *Controller) BindVMHW(id uint32, hartIdx uint32, prio uint32) error {
	return c.pc.SetTargetDirect(id, hartIdx, prio)
}

func (c *Controller) hartFile(h uint32) *msiext.File {
	if c.msi == nil {
		return nil
	}
	return c.msi.File(h)
}
