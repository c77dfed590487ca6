package vctrl

import "riscv-irqc/platform"

// reconcileSourceCfg mirrors a hardware-bound source's sourcecfg state to
// the physical controller after a guest write changes it, so a
// passthrough source's real delivery mode always matches what the guest
// configured on its virtual shadow (spec §4.4's hw-passthrough rule).
// No-op if id is not hardware-bound or this VM has no physical controller.
func (c *Controller) reconcileSourceCfg(id uint32) {
	hwID, bound := c.shadow.HWBound(id)
	if !bound || c.pc == nil {
		return
	}
	raw, err := c.shadow.SourceCfg(id)
	if err != nil {
		return
	}
	c.pc.SetSourceCfg(hwID, platform.SourceMode(raw))
}

// reconcileEnabled mirrors a hardware-bound source's enable bit.
func (c *Controller) reconcileEnabled(id uint32) {
	hwID, bound := c.shadow.HWBound(id)
	if !bound || c.pc == nil {
		return
	}
	enabled, err := c.shadow.Enabled(id)
	if err != nil {
		return
	}
	c.pc.SetEnabled(hwID, enabled)
}

// reconcilePending mirrors a hardware-bound source's pending bit.
func (c *Controller) reconcilePending(id uint32) {
	hwID, bound := c.shadow.HWBound(id)
	if !bound || c.pc == nil {
		return
	}
	pending, err := c.shadow.Pending(id)
	if err != nil {
		return
	}
	if pending {
		c.pc.SetPending(hwID)
	} else {
		c.pc.ClearPending(hwID)
	}
}

// reconcileTarget mirrors a hardware-bound source's target register: the
// virtual target's vhart is translated to whichever physical hart
// currently hosts it, falling back to the vhart index itself if it is not
// currently pinned.
func (c *Controller) reconcileTarget(id uint32) {
	hwID, bound := c.shadow.HWBound(id)
	if !bound || c.pc == nil {
		return
	}
	raw, err := c.shadow.Target(id)
	if err != nil {
		return
	}
	vhartID := targetHart(raw)
	prio := targetPrio(raw)
	if prio == 0 {
		prio = platform.MinPrio
	}
	phartID := vhartID
	if p, ok := c.translate.TranslateToPhart(c.vmID, vhartID); ok {
		phartID = p
	}
	c.pc.SetTargetDirect(hwID, phartID, prio)
}
