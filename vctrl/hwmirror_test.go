package vctrl

import (
	"testing"

	"riscv-irqc/pctrl"
	"riscv-irqc/platform"
	"riscv-irqc/sysiface"
)

func testPhysConfig() *platform.Config {
	return &platform.Config{SourceCount: 8, PhartCount: 2, PhysBase: 0x70000000}
}

func newTestPhysBank(t *testing.T) *pctrl.Bank {
	t.Helper()
	b, err := pctrl.New(testPhysConfig(), sysiface.NewAnonMapper(), sysiface.NewCountBarrier(1), sysiface.NoopFencer{})
	if err != nil {
		t.Fatalf("pctrl.New: %v", err)
	}
	b.Init()
	if err := b.CPUInit(0); err != nil {
		t.Fatalf("CPUInit: %v", err)
	}
	return b
}

// TestHWBoundSourceCfgMirrorsToPhysical exercises spec §4.4's hw-passthrough
// rule: a guest write to a hardware-bound source's sourcecfg must mirror to
// the physical controller, not just the virtual shadow.
func TestHWBoundSourceCfgMirrorsToPhysical(t *testing.T) {
	pc := newTestPhysBank(t)
	s, err := NewShadow(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	bus := sysiface.NewBus()
	c := NewController(0, s, &fakeTranslator{}, bus, pc, nil)
	if err := s.BindHW(1, 3); err != nil {
		t.Fatal(err)
	}

	if off := c.handleSourceCfg(1, true, uint32(platform.ModeEdgeRising), 0); off != 0 {
		t.Fatalf("handleSourceCfg write returned %d, want 0", off)
	}
	if got := pc.SourceCfg(3); got != platform.ModeEdgeRising {
		t.Errorf("physical identity 3 sourcecfg = %v, want ModeEdgeRising", got)
	}
}

// TestHWBoundEnableMirrorsToPhysical exercises the setie mirror half of the
// same rule.
func TestHWBoundEnableMirrorsToPhysical(t *testing.T) {
	pc := newTestPhysBank(t)
	s, err := NewShadow(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	bus := sysiface.NewBus()
	c := NewController(0, s, &fakeTranslator{}, bus, pc, nil)
	if err := s.BindHW(2, 5); err != nil {
		t.Fatal(err)
	}

	c.handleBulkEnable(0, true, 1<<2, true)
	if !pc.IsEnabled(5) {
		t.Error("physical identity 5 should be enabled after mirroring a hw-bound source's setie write")
	}
}

// TestHWBoundTargetMirrorsTranslatedPhart exercises the target mirror:
// the virtual target's vhart is translated to its current physical hart
// before being written to the physical target register.
func TestHWBoundTargetMirrorsTranslatedPhart(t *testing.T) {
	pc := newTestPhysBank(t)
	s, err := NewShadow(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	bus := sysiface.NewBus()
	translator := &fakeTranslator{pins: map[uint32]uint32{0: 1}} // vhart 0 hosted on phart 1
	c := NewController(0, s, translator, bus, pc, nil)
	if err := s.BindHW(1, 4); err != nil {
		t.Fatal(err)
	}

	raw := uint32(20) // direct mode: hart 0, priority 20
	c.handleTarget(1, true, raw, 0)
	if got := pc.Target(4); got>>platform.TargetHartIdxShift != 1 {
		t.Errorf("physical target hart = %d, want 1 (translated from vhart 0)", got>>platform.TargetHartIdxShift)
	}
}

// TestUnboundSourceDoesNotTouchPhysical verifies reconcile is a no-op for
// sources with no hw binding, so a purely-virtual VM never reaches into a
// physical bank it doesn't own.
func TestUnboundSourceDoesNotTouchPhysical(t *testing.T) {
	pc := newTestPhysBank(t)
	s, err := NewShadow(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	bus := sysiface.NewBus()
	c := NewController(0, s, &fakeTranslator{}, bus, pc, nil)

	c.handleSourceCfg(1, true, uint32(platform.ModeEdgeRising), 0)
	if pc.SourceCfg(1) != platform.ModeInactive {
		t.Error("an unbound source's sourcecfg write must not reach the physical bank")
	}
}
