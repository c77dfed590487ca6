package vctrl

import "riscv-irqc/platform"

// IDelivery reports whether vhart h currently accepts interrupt delivery.
func (s *Shadow) IDelivery(h uint32) (bool, error) {
	if err := s.checkHart(h); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idelivery[h], nil
}

// SetIDelivery enables or disables interrupt delivery to vhart h.
func (s *Shadow) SetIDelivery(h uint32, enabled bool) error {
	if err := s.checkHart(h); err != nil {
		return err
	}
	s.mu.Lock()
	s.idelivery[h] = enabled
	s.mu.Unlock()
	return nil
}

// IForce reports vhart h's iforce bit.
func (s *Shadow) IForce(h uint32) (bool, error) {
	if err := s.checkHart(h); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iforce[h], nil
}

// SetIForce sets vhart h's iforce bit, forcing claimi to report at least a
// spurious interrupt the next time it is read even if nothing is pending
// (used to wake a vhart parked in a wait-for-interrupt state).
func (s *Shadow) SetIForce(h uint32, forced bool) error {
	if err := s.checkHart(h); err != nil {
		return err
	}
	s.mu.Lock()
	s.iforce[h] = forced
	s.mu.Unlock()
	return nil
}

// IThreshold returns vhart h's priority threshold.
func (s *Shadow) IThreshold(h uint32) (uint32, error) {
	if err := s.checkHart(h); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ithreshold[h], nil
}

// SetIThreshold sets vhart h's priority threshold: identities whose
// priority is numerically at or above threshold (lower urgency) are
// withheld from delivery. A threshold of 0 disables the filter.
func (s *Shadow) SetIThreshold(h uint32, threshold uint32) error {
	if err := s.checkHart(h); err != nil {
		return err
	}
	s.mu.Lock()
	s.ithreshold[h] = threshold
	s.mu.Unlock()
	return nil
}

// computeTopI scans every identity targeted at vhart h and returns the
// packed (id<<16 | prio) of the highest-urgency pending, enabled, active
// identity below threshold, or 0 if none. Gated on both the vhart's own
// idelivery bit and the domain's IE bit (spec's deliver predicate:
// `... ∧ ideliver[vhart] ∧ domaincfg.IE`) — a disabled domain delivers
// nothing regardless of any single vhart's idelivery setting.
// Caller must hold s.mu.
func (s *Shadow) computeTopI(h uint32) uint32 {
	if !s.idelivery[h] || s.domainCfg&platform.DomainCfgIE == 0 {
		return 0
	}
	threshold := s.ithreshold[h]
	bestID := uint32(0)
	bestPrio := uint32(0x100)
	for id := uint32(1); id <= s.cfg.SourceCount; id++ {
		raw := s.target[id]
		if targetHart(raw) != h {
			continue
		}
		prio := targetPrio(raw)
		if threshold != 0 && prio >= threshold {
			continue
		}
		w, b := wordBit(id)
		if s.pending[w]&(1<<b) == 0 || s.enabled[w]&(1<<b) == 0 {
			continue
		}
		if prio < bestPrio {
			bestID, bestPrio = id, prio
		}
	}
	if bestID == 0 {
		return 0
	}
	return bestID<<16 | bestPrio
}

// computeDeliver mirrors LINE step 2c/2e's full deliver predicate: topi is
// the same value computeTopI would return (and the value cached for topi/
// claimi reads); deliver additionally covers the spurious-wakeup case —
// h's iforce bit forces deliver=true (so the guest-visible line still
// asserts and a claim still occurs) even though topi itself stays 0,
// provided the hart still accepts delivery and the domain is enabled.
// Caller must hold s.mu.
func (s *Shadow) computeDeliver(h uint32) (topi uint32, deliver bool) {
	topi = s.computeTopI(h)
	if topi != 0 {
		return topi, true
	}
	if s.iforce[h] && s.idelivery[h] && s.domainCfg&platform.DomainCfgIE != 0 {
		return 0, true
	}
	return 0, false
}

// TopI returns vhart h's cached top pending interrupt, the value a guest
// read of the topi register would observe. The cache is kept current by
// LINE's update functions rather than recomputed on every read, matching
// the original's topi_claimi cache field.
func (s *Shadow) TopI(h uint32) (uint32, error) {
	if err := s.checkHart(h); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topiCache[h], nil
}

// Claimi reads vhart h's claimi register: it returns the cached top
// pending interrupt and, as a side effect, clears that identity's pending
// bit. If the result is spurious (0) and iforce was set, iforce is
// cleared too — the original's claimi function treats a spurious claim as
// having "consumed" the forced wakeup.
func (s *Shadow) Claimi(h uint32) (uint32, error) {
	if err := s.checkHart(h); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	topi := s.topiCache[h]
	id := topi >> 16
	if id != 0 {
		s.clearPendingLocked(id)
	} else if s.iforce[h] {
		s.iforce[h] = false
	}
	return topi, nil
}
