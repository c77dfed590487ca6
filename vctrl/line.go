package vctrl

import (
	"fmt"
	"log"

	"riscv-irqc/pctrl"
	"riscv-irqc/sysiface"
)

// Controller ties a Shadow to the collaborators LINE needs: a way to find
// which physical hart currently hosts a vhart, and a way to notify that
// hart when its vhart's top pending interrupt changes. pc is optional
// (nil for a VM with no hardware-passthrough sources at all); when set,
// a hardware-bound source's sourcecfg/enable/target/pending state is
// mirrored to it whenever the guest's write changes that state, so the
// physical controller keeps delivering to whichever host hart actually
// backs the source. csr is optional; when set, recompute asserts or clears
// a guest-visible hvip-equivalent bit on the physical hart currently
// hosting the recomputed vhart (LINE step 2e).
type Controller struct {
	shadow    *Shadow
	translate sysiface.VCPUTranslator
	msg       sysiface.Messenger
	pc        *pctrl.Bank
	csr       sysiface.CSRPort
	vmID      uint32
	Debug     bool
}

// NewController wires shadow to its cross-hart collaborators and returns
// a ready Controller. Call RegisterWithBus afterward if msg is a
// *sysiface.Bus, so remote harts' line-update messages reach this VM. pc
// and csr may be nil.
func NewController(vmID uint32, shadow *Shadow, translate sysiface.VCPUTranslator, msg sysiface.Messenger, pc *pctrl.Bank, csr sysiface.CSRPort) *Controller {
	return &Controller{shadow: shadow, translate: translate, msg: msg, pc: pc, csr: csr, vmID: vmID}
}

// UpdateSingleHart recomputes vhart vhartID's cached top pending interrupt.
// If the vhart is currently pinned to a physical hart other than
// callerPhart, the update is instead dispatched as a cross-hart message so
// it runs on the hart that actually owns that vhart's register state, the
// same pattern vaplic_update_hart_line uses to avoid touching another
// core's cache from the wrong core.
func (c *Controller) UpdateSingleHart(vhartID uint32, callerPhart uint32) error {
	if err := c.shadow.checkHart(vhartID); err != nil {
		return err
	}
	phart, ok := c.shadow.PhartOf(vhartID)
	if !ok || phart == callerPhart {
		c.recompute(vhartID)
		return nil
	}
	if c.Debug {
		log.Printf("vctrl: vhart %d runs on phart %d, dispatching line update from phart %d", vhartID, phart, callerPhart)
	}
	c.msg.Send(phart, sysiface.Message{VMID: c.vmID, VHartID: vhartID})
	return nil
}

// recompute does the actual cache refresh; always safe to call from the
// hart that owns vhartID (or in tests, synchronously). The final hvip-
// equivalent assert/clear happens while still holding shadow.mu, per
// spec's note that the per-VM lock also guards this step so a vhart's
// line state strictly reflects the most recently committed shadow state.
func (c *Controller) recompute(vhartID uint32) {
	c.shadow.mu.Lock()
	defer c.shadow.mu.Unlock()
	topi, deliver := c.shadow.computeDeliver(vhartID)
	c.shadow.topiCache[vhartID] = topi
	c.assertLine(vhartID, deliver)
}

// assertLine sets or clears the hvip-equivalent CSR bit for whichever
// physical hart currently hosts vhartID. No-op if csr is unset or the
// vhart is not currently pinned (nothing to assert a line on).
// Caller must hold shadow.mu.
func (c *Controller) assertLine(vhartID uint32, deliver bool) {
	if c.csr == nil {
		return
	}
	if vhartID >= uint32(len(c.shadow.vhartPinned)) || !c.shadow.vhartPinned[vhartID] {
		return
	}
	phart := c.shadow.vhartToPhart[vhartID]
	name := fmt.Sprintf("hvip:vm%d:phart%d", c.vmID, phart)
	if deliver {
		c.csr.WriteCSR(name, 1)
	} else {
		c.csr.WriteCSR(name, 0)
	}
}

// UpdateAllHarts recomputes every vhart's cache, used after a domain-wide
// change (e.g. the domain being (re)enabled) whose effect cannot be
// attributed to a single identity.
func (c *Controller) UpdateAllHarts(callerPhart uint32) {
	for h := uint32(0); h < c.shadow.cfg.PhartCount; h++ {
		c.UpdateSingleHart(h, callerPhart)
	}
}

// Inject raises identity id: marks it pending (subject to the active/
// sourcecfg check in setPendingLocked) and propagates the change to
// whichever vhart currently targets it. If id is hardware-bound, the
// physical controller's own claim/forward path is expected to have
// already happened; Inject only updates virtual state here.
func (c *Controller) Inject(id uint32, callerPhart uint32) error {
	if err := c.shadow.checkID(id); err != nil {
		return err
	}
	c.shadow.mu.Lock()
	c.shadow.setPendingLocked(id)
	raw := c.shadow.target[id]
	c.shadow.mu.Unlock()

	h := targetHart(raw)
	return c.UpdateSingleHart(h, callerPhart)
}

// RegisterWithBus installs this controller's IPI handler on bus for
// physical hart phartID, so a line-update Message addressed to this VM's vharts
// triggers a local recompute on arrival. Mirrors virqc_init registering
// vaplic_ipi_handler as the CPU_MSG_HANDLER for the AIA IPI id.
func (c *Controller) RegisterWithBus(bus *sysiface.Bus, phartID uint32) {
	bus.Register(phartID, func(msg sysiface.Message) {
		if msg.VMID != c.vmID {
			return
		}
		c.recompute(msg.VHartID)
	})
}
