package platform

import "testing"

func TestValidateRejectsZeroSourceCount(t *testing.T) {
	c := &Config{SourceCount: 0, PhartCount: 1, PhysBase: 0x1000}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for zero SourceCount")
	}
}

func TestValidateRejectsOversizeSourceCount(t *testing.T) {
	c := &Config{SourceCount: MaxSources + 1, PhartCount: 1, PhysBase: 0x1000}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for SourceCount over MaxSources")
	}
}

func TestValidateRequiresMsiBaseInMsiMode(t *testing.T) {
	c := &Config{Mode: ModeMSI, SourceCount: 4, PhartCount: 1, PhysBase: 0x1000, GuestFilesPerHart: 1}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for missing MsiBase in MSI mode")
	}
}

func TestValidateAcceptsMinimalWiredConfig(t *testing.T) {
	c := &Config{SourceCount: 4, PhartCount: 1, PhysBase: 0x1000}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSanitizeSourceModeCollapsesReservedAndLevel(t *testing.T) {
	cases := []struct {
		in   SourceMode
		want SourceMode
	}{
		{modeReserved2, ModeInactive},
		{modeReserved3, ModeInactive},
		{ModeLevelHigh, ModeEdgeRising},
		{ModeLevelLow, ModeEdgeFalling},
		{ModeEdgeRising, ModeEdgeRising},
		{ModeDetached, ModeDetached},
	}
	for _, tc := range cases {
		if got := SanitizeSourceMode(tc.in); got != tc.want {
			t.Errorf("SanitizeSourceMode(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestReservedRangesExcludeLiveRegisters(t *testing.T) {
	c := &Config{SourceCount: 8, PhartCount: 1, PhysBase: 0x1000}
	if c.IsReserved(OffDomainCfg) {
		t.Error("domaincfg must not be reserved")
	}
	if c.IsReserved(OffSourceCfg) {
		t.Error("sourcecfg[1] must not be reserved")
	}
	// Past the 8 configured sources but before setip, this must be reserved.
	if !c.IsReserved(OffSourceCfg + 8*4) {
		t.Error("expected gap after sourcecfg array to be reserved")
	}
}
