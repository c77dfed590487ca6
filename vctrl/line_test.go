package vctrl

import (
	"testing"

	"riscv-irqc/platform"
	"riscv-irqc/sysiface"
)

// fakeTranslator pins vharts to physical harts for the test.
type fakeTranslator struct {
	pins map[uint32]uint32
}

func (f *fakeTranslator) TranslateToPhart(vmID, vhartID uint32) (uint32, bool) {
	p, ok := f.pins[vhartID]
	return p, ok
}

func TestUpdateSingleHartLocalRecompute(t *testing.T) {
	s, err := NewShadow(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	bus := sysiface.NewBus()
	c := NewController(0, s, &fakeTranslator{}, bus, nil, nil)

	s.SetDomainCfg(platform.DomainCfgIE)
	s.PinVHart(0, 0)
	s.SetIDelivery(0, true)
	s.SetTarget(1, 0) // hart 0, priority coerced to MinPrio
	s.SetSourceCfg(1, uint32(platform.ModeEdgeRising))
	s.SetEnabled(1, true)

	if err := c.Inject(1, 0); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	topi, _ := s.TopI(0)
	if topi>>16 != 1 {
		t.Fatalf("TopI(0) id = %d, want 1", topi>>16)
	}
}

func TestUpdateSingleHartCrossPhartDispatch(t *testing.T) {
	s, err := NewShadow(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	bus := sysiface.NewBus()
	c := NewController(0, s, &fakeTranslator{}, bus, nil, nil)
	c.RegisterWithBus(bus, 1) // vhart 0 is hosted on phart 1

	s.SetDomainCfg(platform.DomainCfgIE)
	s.PinVHart(0, 1)
	s.SetIDelivery(0, true)
	s.SetTarget(1, 0)
	s.SetSourceCfg(1, uint32(platform.ModeEdgeRising))
	s.SetEnabled(1, true)

	// Caller is phart 0, but vhart 0 runs on phart 1: Inject must not
	// recompute locally, it must dispatch a message that phart 1's
	// registered handler processes.
	if err := c.Inject(1, 0); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	topi, _ := s.TopI(0)
	if topi>>16 != 1 {
		t.Fatalf("TopI(0) after cross-phart dispatch = %d, want id 1", topi>>16)
	}
}

// TestDomainDisabledSuppressesLineAssert exercises spec's deliver predicate
// gate: a pending, enabled, targeted source must not assert the guest's
// hvip-equivalent line while domaincfg.IE is clear, even though idelivery
// is set on the target vhart.
func TestDomainDisabledSuppressesLineAssert(t *testing.T) {
	s, err := NewShadow(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	csr := sysiface.NewShadowCSR()
	bus := sysiface.NewBus()
	c := NewController(0, s, &fakeTranslator{}, bus, nil, csr)

	s.PinVHart(0, 3)
	s.SetIDelivery(0, true)
	s.SetTarget(1, 0)
	s.SetSourceCfg(1, uint32(platform.ModeEdgeRising))
	s.SetEnabled(1, true)

	if err := c.Inject(1, 3); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if topi, _ := s.TopI(0); topi != 0 {
		t.Fatalf("TopI(0) = 0x%x, want 0 while domaincfg.IE is clear", topi)
	}
	if v := csr.ReadCSR("hvip:vm0:phart3"); v != 0 {
		t.Errorf("hvip-equivalent line = %d, want 0 while domain is disabled", v)
	}

	s.SetDomainCfg(platform.DomainCfgIE)
	if err := c.UpdateSingleHart(0, 3); err != nil {
		t.Fatalf("UpdateSingleHart: %v", err)
	}
	if topi, _ := s.TopI(0); topi>>16 != 1 {
		t.Fatalf("TopI(0) id after enabling domain = %d, want 1", topi>>16)
	}
	if v := csr.ReadCSR("hvip:vm0:phart3"); v != 1 {
		t.Errorf("hvip-equivalent line = %d, want 1 once domain is enabled", v)
	}
}

// TestIForceAssertsLineWithoutTopI exercises the spurious-wakeup half of
// computeDeliver: iforce must assert the guest-visible line even though
// topi itself stays 0 (no real candidate pending).
func TestIForceAssertsLineWithoutTopI(t *testing.T) {
	s, err := NewShadow(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	csr := sysiface.NewShadowCSR()
	bus := sysiface.NewBus()
	c := NewController(0, s, &fakeTranslator{}, bus, nil, csr)

	s.PinVHart(0, 2)
	s.SetDomainCfg(platform.DomainCfgIE)
	s.SetIDelivery(0, true)
	s.SetIForce(0, true)

	if err := c.UpdateSingleHart(0, 2); err != nil {
		t.Fatalf("UpdateSingleHart: %v", err)
	}
	if topi, _ := s.TopI(0); topi != 0 {
		t.Fatalf("TopI(0) = 0x%x, want 0 (no real candidate)", topi)
	}
	if v := csr.ReadCSR("hvip:vm0:phart2"); v != 1 {
		t.Errorf("hvip-equivalent line = %d, want 1 for a forced spurious wakeup", v)
	}
}

func TestClaimiClearsIForceOnSpuriousClaim(t *testing.T) {
	s, err := NewShadow(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	s.SetIDelivery(0, true)
	s.SetIForce(0, true)

	topi, err := s.Claimi(0)
	if err != nil {
		t.Fatal(err)
	}
	if topi != 0 {
		t.Fatalf("Claimi with nothing pending = 0x%x, want 0 (spurious)", topi)
	}
	if forced, _ := s.IForce(0); forced {
		t.Error("a spurious claim must clear iforce")
	}
}
