package vctrl

import "riscv-irqc/platform"

// DomainCfg returns the domain configuration register value.
func (s *Shadow) DomainCfg() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.domainCfg
}

// SetDomainCfg writes the domain configuration register. Only IE and DM
// are writable; every other written bit is dropped (no sub-domain
// delegation). A guest read through the domain handler additionally sees
// the fixed read-only field platform.DomainCfgRO.
func (s *Shadow) SetDomainCfg(val uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domainCfg = val & (platform.DomainCfgIE | platform.DomainCfgDM)
}

func (s *Shadow) msiMode() bool {
	return s.domainCfg&platform.DomainCfgDM != 0
}

// SourceCfg returns identity id's sourcecfg register value.
func (s *Shadow) SourceCfg(id uint32) (uint32, error) {
	if err := s.checkID(id); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceCfg[id], nil
}

// SetSourceCfg writes identity id's sourcecfg register. A guest that sets
// the delegate bit gets the whole field forced to 0: this controller has no
// sub-domains to delegate to, so "delegate" is indistinguishable from
// "inactive" here (this VM is always a leaf domain).
func (s *Shadow) SetSourceCfg(id uint32, raw uint32) error {
	if err := s.checkID(id); err != nil {
		return err
	}
	var mode platform.SourceMode
	if raw&platform.SrcCfgDelegate != 0 {
		mode = platform.ModeInactive
	} else {
		mode = platform.SanitizeSourceMode(platform.SourceMode(raw & platform.SrcCfgSMMask))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode == platform.ModeInactive {
		s.wipeSourceLocked(id)
	}
	s.sourceCfg[id] = uint32(mode)
	return nil
}

// wipeSourceLocked implements the inactive-transition wipe:
// vaplic_set_sourcecfg clears setip/in_clrip, setie/clrie, and the target
// word for a source that becomes unusable, not just its pending bit.
// Caller must hold s.mu.
func (s *Shadow) wipeSourceLocked(id uint32) {
	s.clearPendingLocked(id)
	w, b := wordBit(id)
	s.enabled[w] &^= 1 << b
	s.target[id] = 0
}

func wordBit(id uint32) (word, bit uint32) { return id / 32, id % 32 }

func (s *Shadow) clearPendingLocked(id uint32) {
	w, b := wordBit(id)
	s.pending[w] &^= 1 << b
}

// Pending reports whether identity id is currently pending.
func (s *Shadow) Pending(id uint32) (bool, error) {
	if err := s.checkID(id); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, b := wordBit(id)
	return s.pending[w]&(1<<b) != 0, nil
}

// setPendingLocked marks id pending if it is active (sourcecfg != 0).
// Caller must hold s.mu.
func (s *Shadow) setPendingLocked(id uint32) {
	if platform.SourceMode(s.sourceCfg[id]) == platform.ModeInactive {
		return
	}
	w, b := wordBit(id)
	s.pending[w] |= 1 << b
}

// SetPendingBit implements a guest write to setip[word]/setipnum: marking
// id pending via the bulk or single-identity register.
func (s *Shadow) SetPendingBit(id uint32) error {
	if err := s.checkID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setPendingLocked(id)
	return nil
}

// ClearPendingBit implements a guest write to in_clrip[word]/clripnum:
// clearing id's pending bit unconditionally. (Open Question 2: the
// rectified-input-level qualification the AIA spec describes for
// level-sensitive sources collapses to unconditional clear here, since
// this controller coerces every level mode to its edge equivalent at
// SetSourceCfg time and so never tracks a live input level to consult.)
func (s *Shadow) ClearPendingBit(id uint32) error {
	if err := s.checkID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearPendingLocked(id)
	return nil
}

// Enabled reports whether identity id's delivery is enabled.
func (s *Shadow) Enabled(id uint32) (bool, error) {
	if err := s.checkID(id); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, b := wordBit(id)
	return s.enabled[w]&(1<<b) != 0, nil
}

// SetEnabled implements a guest write to setie/clrie (bulk or single-id).
func (s *Shadow) SetEnabled(id uint32, enable bool) error {
	if err := s.checkID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, b := wordBit(id)
	if enable {
		s.enabled[w] |= 1 << b
	} else {
		s.enabled[w] &^= 1 << b
	}
	return nil
}

// Target returns identity id's raw target register value.
func (s *Shadow) Target(id uint32) (uint32, error) {
	if err := s.checkID(id); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target[id], nil
}

// SetTarget writes identity id's target register, decoding it according
// to the domain's current delivery mode. In MSI mode the guest-index
// field is always forced to 1 regardless of what the guest wrote: this
// controller only ever binds one IMSIC guest file per vhart (Open
// Question 1).
func (s *Shadow) SetTarget(id uint32, raw uint32) error {
	if err := s.checkID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.msiMode() {
		hartIdx := (raw >> platform.TargetHartIdxShift) & platform.TargetHartIdxMask
		eeid := raw & platform.TargetEEIDMask
		s.target[id] = hartIdx<<platform.TargetHartIdxShift | uint32(1)<<platform.TargetGuestIdxShift | eeid
	} else {
		hartIdx := (raw >> platform.TargetHartIdxShift) & platform.TargetHartIdxMask
		prio := raw & platform.TargetIPrioMask
		if prio == 0 {
			// Priority 0 means "disabled" on the wire; writing it to
			// target[id] really means "the strongest priority", matching
			// APLIC_TARGET_PRIO_DEFAULT.
			prio = platform.MinPrio
		}
		s.target[id] = hartIdx<<platform.TargetHartIdxShift | prio
	}
	return nil
}

func targetHart(raw uint32) uint32 {
	return (raw >> platform.TargetHartIdxShift) & platform.TargetHartIdxMask
}

func targetPrio(raw uint32) uint32 {
	return raw & platform.TargetIPrioMask
}
