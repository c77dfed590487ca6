package sysiface

import "sync"

// ShadowCSR simulates a hart's privileged CSR file in software. Go has no
// way to execute a real RISC-V CSR instruction, so msiext talks to its
// interrupt file through this port the same way the teacher talks to the
// kernel's KVM device through a Do*-wrapped ioctl rather than inline
// assembly: one narrow, swappable seam instead of scattered unsafe calls.
type ShadowCSR struct {
	mu   sync.Mutex
	regs map[string]uint64
}

// NewShadowCSR returns an empty CSR file.
func NewShadowCSR() *ShadowCSR {
	return &ShadowCSR{regs: make(map[string]uint64)}
}

func (c *ShadowCSR) ReadCSR(name string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.regs[name]
}

func (c *ShadowCSR) WriteCSR(name string, val uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.regs[name] = val
}
