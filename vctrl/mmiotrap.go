package vctrl

import (
	"log"

	"riscv-irqc/platform"
	"riscv-irqc/sysiface"
)

// DomainHandler builds the sysiface.RegionHandler for this VM's domain
// block (offsets 0..HartBlockOffset), decoding a trapped guest access the
// way vaplic_domain_emul_handler switches on the faulting offset.
func (c *Controller) DomainHandler(callerPhart uint32) sysiface.RegionHandler {
	return func(off uint32, write bool, val uint32) uint32 {
		if off%4 != 0 {
			if c.Debug {
				log.Printf("vctrl: misaligned domain access at 0x%x, ignored", off)
			}
			return 0
		}
		if c.shadow.cfg.IsReserved(off) {
			return 0
		}
		switch {
		case off == platform.OffDomainCfg:
			return c.handleDomainCfg(write, val, callerPhart)
		case off >= platform.OffSourceCfg && off < platform.OffSourceCfg+c.shadow.cfg.SourceCount*4:
			id := (off-platform.OffSourceCfg)/4 + 1
			return c.handleSourceCfg(id, write, val, callerPhart)
		case off == platform.OffSetIPNum:
			if write {
				c.Inject(val, callerPhart)
				c.reconcilePending(val)
			}
			return 0
		case off == platform.OffClrIPNum:
			if write {
				c.shadow.ClearPendingBit(val)
				c.reconcilePending(val)
				c.UpdateSingleHart(targetHart(c.rawTarget(val)), callerPhart)
			}
			return 0
		case off >= platform.OffSetIP && off < platform.OffSetIP+uint32(c.shadow.cfg.BitmapWords())*4:
			return c.handleBulkBitmap(off-platform.OffSetIP, write, val, true, callerPhart)
		case off >= platform.OffInClrIP && off < platform.OffInClrIP+uint32(c.shadow.cfg.BitmapWords())*4:
			return c.handleBulkBitmap(off-platform.OffInClrIP, write, val, false, callerPhart)
		case off == platform.OffSetIENum:
			if write {
				c.shadow.SetEnabled(val, true)
				c.reconcileEnabled(val)
			}
			return 0
		case off == platform.OffClrIENum:
			if write {
				c.shadow.SetEnabled(val, false)
				c.reconcileEnabled(val)
			}
			return 0
		case off >= platform.OffSetIE && off < platform.OffSetIE+uint32(c.shadow.cfg.BitmapWords())*4:
			return c.handleBulkEnable(off-platform.OffSetIE, write, val, true)
		case off >= platform.OffClrIE && off < platform.OffClrIE+uint32(c.shadow.cfg.BitmapWords())*4:
			return c.handleBulkEnable(off-platform.OffClrIE, write, val, false)
		case off >= platform.OffTarget && off < platform.OffTarget+c.shadow.cfg.SourceCount*4:
			id := (off-platform.OffTarget)/4 + 1
			return c.handleTarget(id, write, val, callerPhart)
		default:
			// genmsi / setipnum_le / setipnum_be: reserved-zero, see
			// SPEC_FULL.md §4.6.
			return 0
		}
	}
}

func (c *Controller) rawTarget(id uint32) uint32 {
	raw, _ := c.shadow.Target(id)
	return raw
}

func (c *Controller) handleDomainCfg(write bool, val uint32, callerPhart uint32) uint32 {
	if write {
		c.shadow.SetDomainCfg(val)
		c.UpdateAllHarts(callerPhart)
		return 0
	}
	return c.shadow.DomainCfg() | platform.DomainCfgRO
}

func (c *Controller) handleSourceCfg(id uint32, write bool, val uint32, callerPhart uint32) uint32 {
	if write {
		oldRaw := c.rawTarget(id)
		c.shadow.SetSourceCfg(id, val)
		c.reconcileSourceCfg(id)
		c.reconcileEnabled(id)
		c.reconcileTarget(id)
		c.reconcilePending(id)
		// A mode change to inactive wipes target[id] to 0, which can move
		// the source off its previous target hart; recompute both the old
		// and current target hart the way handleTarget does.
		c.UpdateSingleHart(targetHart(oldRaw), callerPhart)
		c.UpdateSingleHart(targetHart(c.rawTarget(id)), callerPhart)
		return 0
	}
	v, _ := c.shadow.SourceCfg(id)
	return v
}

func (c *Controller) handleBulkBitmap(wordOff uint32, write bool, val uint32, isSetIP bool, callerPhart uint32) uint32 {
	word := wordOff / 4
	if write {
		for bit := uint32(0); bit < 32; bit++ {
			if val&(1<<bit) == 0 {
				continue
			}
			id := word*32 + bit
			if id == 0 || id > c.shadow.cfg.SourceCount {
				continue
			}
			if isSetIP {
				c.Inject(id, callerPhart)
				c.reconcilePending(id)
			} else {
				c.shadow.ClearPendingBit(id)
				c.reconcilePending(id)
				c.UpdateSingleHart(targetHart(c.rawTarget(id)), callerPhart)
			}
		}
		return 0
	}
	c.shadow.mu.Lock()
	defer c.shadow.mu.Unlock()
	return c.shadow.pending[word]
}

func (c *Controller) handleBulkEnable(wordOff uint32, write bool, val uint32, enable bool) uint32 {
	word := wordOff / 4
	if write {
		for bit := uint32(0); bit < 32; bit++ {
			if val&(1<<bit) == 0 {
				continue
			}
			id := word*32 + bit
			if id == 0 || id > c.shadow.cfg.SourceCount {
				continue
			}
			c.shadow.SetEnabled(id, enable)
			c.reconcileEnabled(id)
		}
		return 0
	}
	c.shadow.mu.Lock()
	defer c.shadow.mu.Unlock()
	return c.shadow.enabled[word]
}

func (c *Controller) handleTarget(id uint32, write bool, val uint32, callerPhart uint32) uint32 {
	if write {
		oldRaw := c.rawTarget(id)
		c.shadow.SetTarget(id, val)
		c.reconcileTarget(id)
		c.UpdateSingleHart(targetHart(oldRaw), callerPhart)
		c.UpdateSingleHart(targetHart(c.rawTarget(id)), callerPhart)
		return 0
	}
	return c.rawTarget(id)
}

// IDCHandler builds the sysiface.RegionHandler for vhart h's IDC block,
// decoding a trapped guest access the way vaplic_idc_emul_handler does.
func (c *Controller) IDCHandler(h uint32, callerPhart uint32) sysiface.RegionHandler {
	return func(off uint32, write bool, val uint32) uint32 {
		if off%4 != 0 {
			return 0
		}
		switch off {
		case platform.OffIDCIDelivery:
			if write {
				c.shadow.SetIDelivery(h, val != 0)
				c.UpdateSingleHart(h, callerPhart)
				return 0
			}
			v, _ := c.shadow.IDelivery(h)
			return boolToWord(v)
		case platform.OffIDCIForce:
			if write {
				c.shadow.SetIForce(h, val != 0)
				c.UpdateSingleHart(h, callerPhart)
				return 0
			}
			v, _ := c.shadow.IForce(h)
			return boolToWord(v)
		case platform.OffIDCIThreshold:
			if write {
				c.shadow.SetIThreshold(h, val)
				c.UpdateSingleHart(h, callerPhart)
				return 0
			}
			v, _ := c.shadow.IThreshold(h)
			return v
		case platform.OffIDCTopI:
			v, _ := c.shadow.TopI(h)
			return v
		case platform.OffIDCClaimI:
			if write {
				return 0 // claimi is read-only
			}
			v, _ := c.shadow.Claimi(h)
			c.UpdateSingleHart(h, callerPhart)
			return v
		default:
			return 0
		}
	}
}

func boolToWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
